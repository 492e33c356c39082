package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// CredentialService resolves provider API keys for bot operations. Resolution
// prefers the bot owner's stored key and falls back to the calling user's key,
// validating candidates against the provider before handing them out.
type CredentialService interface {
	// ResolveKey returns a usable key for the given provider. Keys are tried
	// owner-first, then caller; validation failures on one key move on to the
	// next candidate. When no key passes validation the most recently seen
	// keys are retried without validation before giving up.
	ResolveKey(ctx context.Context, botID uuid.UUID, userID uuid.UUID, provider string) (*models.KeyResolution, error)

	// ResolveKeyWithFallback behaves like ResolveKey but, when the requested
	// provider has no usable key, walks the alternative-provider table and
	// returns a resolution for the first alternative that works. The returned
	// resolution reports the provider actually used.
	ResolveKeyWithFallback(ctx context.Context, botID uuid.UUID, userID uuid.UUID, provider string) (*models.KeyResolution, error)

	// ValidateKey checks a raw key against the provider's API. Verdicts are
	// cached for a short window so hot paths do not hammer provider auth
	// endpoints.
	ValidateKey(ctx context.Context, provider, apiKey string) error

	// InvalidateValidation drops the cached validation verdict for a key,
	// forcing the next ValidateKey to hit the provider.
	InvalidateValidation(provider, apiKey string)

	// StoreKey upserts a user's API key for a provider.
	StoreKey(ctx context.Context, userID uuid.UUID, provider, apiKey string) error

	// DeleteKey removes a user's API key for a provider and clears any cached
	// validation state for it.
	DeleteKey(ctx context.Context, userID uuid.UUID, provider string) error
}
