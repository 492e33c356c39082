package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIKeyErrorType categorizes credential failures inferred from provider
// responses.
type APIKeyErrorType string

const (
	APIKeyErrorNotFound          APIKeyErrorType = "not_found"
	APIKeyErrorInvalid           APIKeyErrorType = "invalid"
	APIKeyErrorExpired           APIKeyErrorType = "expired"
	APIKeyErrorRateLimited       APIKeyErrorType = "rate_limited"
	APIKeyErrorValidationTimeout APIKeyErrorType = "validation_timeout"
	APIKeyErrorNetworkError      APIKeyErrorType = "network_error"
)

// KeySource identifies where a resolved key came from.
type KeySource string

const (
	KeySourceOwner       KeySource = "owner"
	KeySourceCaller      KeySource = "caller"
	KeySourceAlternative KeySource = "alternative_provider"
)

// providerConsoleURLs maps provider names to the console page where keys are
// managed; used to template remediation steps.
var providerConsoleURLs = map[string]string{
	"openai":     "https://platform.openai.com/api-keys",
	"gemini":     "https://aistudio.google.com/app/apikey",
	"anthropic":  "https://console.anthropic.com/settings/keys",
	"openrouter": "https://openrouter.ai/settings/keys",
}

// ProviderConsoleURL returns the key-management page for a provider, or an
// empty string for unknown providers.
func ProviderConsoleURL(provider string) string {
	return providerConsoleURLs[provider]
}

// APIKeyError is a categorized credential failure with remediation guidance.
type APIKeyError struct {
	Provider    string          `json:"provider"`
	Type        APIKeyErrorType `json:"type"`
	Message     string          `json:"message"`
	Remediation []string        `json:"remediation"`
	Err         error           `json:"-"`
}

func (e *APIKeyError) Error() string {
	return fmt.Sprintf("api key error (%s/%s): %s", e.Provider, e.Type, e.Message)
}

func (e *APIKeyError) Unwrap() error {
	return e.Err
}

// NewAPIKeyError builds a categorized key error with the remediation steps
// templated for the provider.
func NewAPIKeyError(provider string, errType APIKeyErrorType, message string, cause error) *APIKeyError {
	return &APIKeyError{
		Provider:    provider,
		Type:        errType,
		Message:     message,
		Remediation: RemediationSteps(provider, errType),
		Err:         cause,
	}
}

// RemediationSteps returns the fixed, ordered recovery guidance for an error
// type, templated with the provider's name and console URL.
func RemediationSteps(provider string, errType APIKeyErrorType) []string {
	console := ProviderConsoleURL(provider)
	if console == "" {
		console = "your provider's console"
	}

	switch errType {
	case APIKeyErrorNotFound:
		return []string{
			fmt.Sprintf("Add a %s API key to your account settings", provider),
			fmt.Sprintf("Create a key at %s", console),
			"Ask the bot owner to configure a key for this provider",
		}
	case APIKeyErrorInvalid:
		return []string{
			fmt.Sprintf("Verify the %s API key is copied completely, with no whitespace", provider),
			fmt.Sprintf("Regenerate the key at %s and update your settings", console),
		}
	case APIKeyErrorExpired:
		return []string{
			fmt.Sprintf("The %s API key has expired; rotate it at %s", provider, console),
			"Update the stored key in your account settings",
		}
	case APIKeyErrorRateLimited:
		return []string{
			fmt.Sprintf("Wait before retrying; %s is rate-limiting this key", provider),
			fmt.Sprintf("Review usage limits at %s", console),
			"Consider a higher-tier plan or a second key",
		}
	case APIKeyErrorValidationTimeout:
		return []string{
			fmt.Sprintf("%s did not respond within the validation deadline; retry shortly", provider),
			"Check the provider status page for outages",
		}
	case APIKeyErrorNetworkError:
		return []string{
			fmt.Sprintf("Could not reach %s; check network connectivity and proxies", provider),
			"Retry after the network issue is resolved",
		}
	default:
		return []string{fmt.Sprintf("Check the %s key configuration at %s", provider, console)}
	}
}

// KeyAttempt records one source tried during resolution.
type KeyAttempt struct {
	Source   KeySource       `json:"source"`
	Provider string          `json:"provider"`
	UserID   *uuid.UUID      `json:"user_id,omitempty"`
	Type     APIKeyErrorType `json:"error_type,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// CompositeKeyError aggregates every attempted source after full resolution
// failure. Remediation steps are deduplicated in first-seen order.
type CompositeKeyError struct {
	BotID    uuid.UUID    `json:"bot_id"`
	Provider string       `json:"provider"`
	Attempts []KeyAttempt `json:"attempts"`
}

func (e *CompositeKeyError) Error() string {
	sources := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		sources = append(sources, fmt.Sprintf("%s/%s", a.Provider, a.Source))
	}
	return fmt.Sprintf("no usable %s api key for bot %s (tried: %s)",
		e.Provider, e.BotID, strings.Join(sources, ", "))
}

// RemediationSteps flattens and deduplicates the guidance across attempts.
func (e *CompositeKeyError) RemediationSteps() []string {
	seen := make(map[string]bool)
	var steps []string
	for _, a := range e.Attempts {
		for _, s := range RemediationSteps(a.Provider, a.Type) {
			if !seen[s] {
				seen[s] = true
				steps = append(steps, s)
			}
		}
	}
	return steps
}

// KeyResolution is the successful outcome of credential resolution.
type KeyResolution struct {
	Key       string    `json:"-"`
	Provider  string    `json:"provider"`
	Source    KeySource `json:"source"`
	UserID    uuid.UUID `json:"user_id"`
	Validated bool      `json:"validated"`
	// FallbackProvider is set when the key belongs to an alternative
	// provider rather than the requested one.
	FallbackProvider bool `json:"fallback_provider,omitempty"`
}

// UserAPIKey stores a user's provider credential.
type UserAPIKey struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_provider"`
	Provider  string    `json:"provider" gorm:"type:varchar(50);not null;uniqueIndex:idx_user_provider"`
	APIKey    string    `json:"-" gorm:"column:api_key;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (UserAPIKey) TableName() string {
	return "rag_engine.user_api_keys"
}
