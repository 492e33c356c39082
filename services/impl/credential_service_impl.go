package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// alternativeProviders maps a provider to the providers tried when no usable
// key exists for it. The table mirrors the platform's provider compatibility:
// openai and gemini can stand in for each other, anthropic falls back to
// either.
var alternativeProviders = map[string][]string{
	"openai":    {"gemini"},
	"gemini":    {"openai"},
	"anthropic": {"openai", "gemini"},
}

type validationVerdict struct {
	keyErr   *models.APIKeyError // nil means the key validated
	cachedAt time.Time
}

type credentialServiceImpl struct {
	bots     services.BotStore
	keys     services.APIKeyStore
	registry services.ProviderRegistry

	cacheTTL          time.Duration
	validationTimeout time.Duration
	validationRetry   time.Duration
	retryDelays       []time.Duration

	mu    sync.RWMutex
	cache map[string]validationVerdict

	flight singleflight.Group
	now    func() time.Time
}

func NewCredentialService(bots services.BotStore, keys services.APIKeyStore, registry services.ProviderRegistry, cacheTTL time.Duration) services.CredentialService {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	return &credentialServiceImpl{
		bots:              bots,
		keys:              keys,
		registry:          registry,
		cacheTTL:          cacheTTL,
		validationTimeout: 10 * time.Second,
		validationRetry:   time.Second,
		retryDelays:       []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		cache:             make(map[string]validationVerdict),
		now:               time.Now,
	}
}

func validationCacheKey(provider, apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return provider + ":" + hex.EncodeToString(sum[:])[:8]
}

// transientKeyError reports whether a validation failure may heal on retry.
// Invalid and expired keys stay bad; everything else is infrastructure.
func transientKeyError(t models.APIKeyErrorType) bool {
	switch t {
	case models.APIKeyErrorRateLimited, models.APIKeyErrorValidationTimeout, models.APIKeyErrorNetworkError:
		return true
	}
	return false
}

func (s *credentialServiceImpl) ResolveKey(ctx context.Context, botID uuid.UUID, userID uuid.UUID, provider string) (*models.KeyResolution, error) {
	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	return s.resolveWithRetry(ctx, bot, userID, provider, []string{provider})
}

func (s *credentialServiceImpl) ResolveKeyWithFallback(ctx context.Context, botID uuid.UUID, userID uuid.UUID, provider string) (*models.KeyResolution, error) {
	bot, err := s.bots.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	chain := append([]string{provider}, alternativeProviders[provider]...)
	return s.resolveWithRetry(ctx, bot, userID, provider, chain)
}

// resolveWithRetry walks the provider chain, retrying the whole walk with
// exponential backoff while failures look transient.
func (s *credentialServiceImpl) resolveWithRetry(ctx context.Context, bot *models.Bot, userID uuid.UUID, requested string, chain []string) (*models.KeyResolution, error) {
	var attempts []models.KeyAttempt

	for pass := 0; ; pass++ {
		anyTransient := false
		for i, p := range chain {
			res, passAttempts, transient := s.resolveOnce(ctx, bot, userID, p)
			attempts = append(attempts, passAttempts...)
			anyTransient = anyTransient || transient
			if res == nil {
				continue
			}
			if i > 0 {
				res.FallbackProvider = true
				log.Printf("[CREDENTIAL] bot=%s no usable %s key, falling back to %s (source=%s)",
					bot.ID, requested, p, res.Source)
			}
			return res, nil
		}

		if !anyTransient || pass >= len(s.retryDelays) {
			break
		}
		log.Printf("[CREDENTIAL] bot=%s provider=%s resolution failed transiently, retrying in %s (pass %d)",
			bot.ID, requested, s.retryDelays[pass], pass+1)
		select {
		case <-ctx.Done():
			return nil, models.NewTimeoutError("credential resolution", ctx.Err())
		case <-time.After(s.retryDelays[pass]):
		}
	}

	return nil, &models.CompositeKeyError{
		BotID:    bot.ID,
		Provider: requested,
		Attempts: attempts,
	}
}

// resolveOnce tries owner then caller keys with validation, then falls back
// to any key the validation infrastructure could not check.
func (s *credentialServiceImpl) resolveOnce(ctx context.Context, bot *models.Bot, userID uuid.UUID, provider string) (*models.KeyResolution, []models.KeyAttempt, bool) {
	type candidate struct {
		source models.KeySource
		userID uuid.UUID
	}
	candidates := []candidate{{models.KeySourceOwner, bot.OwnerID}}
	if userID != bot.OwnerID {
		candidates = append(candidates, candidate{models.KeySourceCaller, userID})
	}

	var attempts []models.KeyAttempt
	transient := false

	type fallbackKey struct {
		cand candidate
		key  string
	}
	var unvalidated []fallbackKey

	for _, cand := range candidates {
		stored, err := s.keys.GetKey(ctx, cand.userID, provider)
		if err != nil {
			attempts = append(attempts, keyAttemptFromError(cand.source, provider, &cand.userID, err))
			continue
		}

		if verr := s.ValidateKey(ctx, provider, stored.APIKey); verr != nil {
			attempt := keyAttemptFromError(cand.source, provider, &cand.userID, verr)
			attempts = append(attempts, attempt)
			if transientKeyError(attempt.Type) {
				transient = true
				// A rate-limited verdict comes from the provider itself;
				// only timeouts and network failures mean validation was
				// unreachable and the key may go out unchecked.
				if attempt.Type != models.APIKeyErrorRateLimited {
					unvalidated = append(unvalidated, fallbackKey{cand, stored.APIKey})
				}
			}
			continue
		}

		return &models.KeyResolution{
			Key:       stored.APIKey,
			Provider:  provider,
			Source:    cand.source,
			UserID:    cand.userID,
			Validated: true,
		}, attempts, transient
	}

	// Validation infrastructure trouble is not proof the key is bad. Hand
	// out the first such key unvalidated rather than failing the whole
	// operation.
	if len(unvalidated) > 0 {
		fk := unvalidated[0]
		log.Printf("[CREDENTIAL] bot=%s provider=%s validation unavailable, using %s key unvalidated",
			bot.ID, provider, fk.cand.source)
		return &models.KeyResolution{
			Key:       fk.key,
			Provider:  provider,
			Source:    fk.cand.source,
			UserID:    fk.cand.userID,
			Validated: false,
		}, attempts, transient
	}

	return nil, attempts, transient
}

func keyAttemptFromError(source models.KeySource, provider string, userID *uuid.UUID, err error) models.KeyAttempt {
	attempt := models.KeyAttempt{
		Source:   source,
		Provider: provider,
		UserID:   userID,
		Type:     models.APIKeyErrorNetworkError,
		Message:  err.Error(),
	}
	var keyErr *models.APIKeyError
	if errors.As(err, &keyErr) {
		attempt.Type = keyErr.Type
		attempt.Message = keyErr.Message
	}
	return attempt
}

func (s *credentialServiceImpl) ValidateKey(ctx context.Context, provider, apiKey string) error {
	cacheKey := validationCacheKey(provider, apiKey)

	if verdict, ok := s.cachedVerdict(cacheKey); ok {
		if verdict.keyErr == nil {
			return nil
		}
		return verdict.keyErr
	}

	// Concurrent validations of the same key coalesce into one provider call.
	v, _, _ := s.flight.Do(cacheKey, func() (interface{}, error) {
		if verdict, ok := s.cachedVerdict(cacheKey); ok {
			return verdict.keyErr, nil
		}
		keyErr := s.validateLive(ctx, provider, apiKey)
		s.storeVerdict(cacheKey, keyErr)
		return keyErr, nil
	})

	if keyErr, ok := v.(*models.APIKeyError); ok && keyErr != nil {
		return keyErr
	}
	return nil
}

func (s *credentialServiceImpl) cachedVerdict(cacheKey string) (validationVerdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	verdict, ok := s.cache[cacheKey]
	if !ok || s.now().Sub(verdict.cachedAt) >= s.cacheTTL {
		return validationVerdict{}, false
	}
	return verdict, true
}

func (s *credentialServiceImpl) storeVerdict(cacheKey string, keyErr *models.APIKeyError) {
	// Transient failures are not cached; backoff passes revalidate instead
	// of replaying a stale verdict for the rest of the TTL.
	if keyErr != nil && transientKeyError(keyErr.Type) {
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	// Opportunistic sweep keeps the map from accumulating dead fingerprints.
	for k, v := range s.cache {
		if now.Sub(v.cachedAt) >= s.cacheTTL {
			delete(s.cache, k)
		}
	}
	s.cache[cacheKey] = validationVerdict{keyErr: keyErr, cachedAt: now}
}

// validateLive asks the provider itself, with a hard deadline and one retry
// for transient failures.
func (s *credentialServiceImpl) validateLive(ctx context.Context, provider, apiKey string) *models.APIKeyError {
	vctx, cancel := context.WithTimeout(ctx, s.validationTimeout)
	defer cancel()

	var lastErr *models.APIKeyError
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-vctx.Done():
				return models.NewAPIKeyError(provider, models.APIKeyErrorValidationTimeout,
					"key validation timed out", vctx.Err())
			case <-time.After(time.Duration(attempt) * s.validationRetry):
			}
		}

		err := s.callProviderValidation(vctx, provider, apiKey)
		if err == nil {
			return nil
		}

		var keyErr *models.APIKeyError
		if !errors.As(err, &keyErr) {
			switch {
			case models.IsValidation(err):
				// Unknown provider; retrying cannot help.
				return models.NewAPIKeyError(provider, models.APIKeyErrorInvalid, err.Error(), err)
			case vctx.Err() != nil:
				keyErr = models.NewAPIKeyError(provider, models.APIKeyErrorValidationTimeout,
					"key validation timed out", err)
			default:
				keyErr = models.NewAPIKeyError(provider, models.APIKeyErrorNetworkError,
					fmt.Sprintf("key validation failed: %v", err), err)
			}
		}
		lastErr = keyErr
		if !transientKeyError(keyErr.Type) {
			return keyErr
		}
	}
	return lastErr
}

func (s *credentialServiceImpl) callProviderValidation(ctx context.Context, provider, apiKey string) error {
	if emb, ok := s.registry.Embedding(provider); ok {
		return emb.ValidateKey(ctx, apiKey)
	}
	if llm, ok := s.registry.LLM(provider); ok {
		return llm.ValidateKey(ctx, apiKey)
	}
	return models.NewValidationError(fmt.Sprintf("unknown provider %q", provider))
}

func (s *credentialServiceImpl) InvalidateValidation(provider, apiKey string) {
	cacheKey := validationCacheKey(provider, apiKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, cacheKey)
}

func (s *credentialServiceImpl) StoreKey(ctx context.Context, userID uuid.UUID, provider, apiKey string) error {
	if apiKey == "" {
		return models.NewValidationError("api key must not be empty")
	}
	key := &models.UserAPIKey{
		UserID:   userID,
		Provider: provider,
		APIKey:   apiKey,
	}
	if err := s.keys.UpsertKey(ctx, key); err != nil {
		return err
	}
	s.InvalidateValidation(provider, apiKey)
	return nil
}

func (s *credentialServiceImpl) DeleteKey(ctx context.Context, userID uuid.UUID, provider string) error {
	stored, err := s.keys.GetKey(ctx, userID, provider)
	if err == nil {
		s.InvalidateValidation(provider, stored.APIKey)
	}
	return s.keys.DeleteKey(ctx, userID, provider)
}
