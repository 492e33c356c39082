// Package providers contains the HTTP adapters for the supported embedding
// and completion vendors, a name-based registry, and an LRU-cached embedding
// decorator. All clients share one retry policy: transient failures (network
// errors, 429, 5xx) are retried with linear backoff and a rebuilt request
// body; terminal statuses map onto the categorized key-error taxonomy.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ragforge/models"
)

const (
	maxRetries     = 2
	requestTimeout = 60 * time.Second
	maxBatchSize   = 100
	maxErrorBody   = 300
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// postJSON sends a JSON payload and returns the raw response body. Retries
// rebuild the request body before each attempt.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := client.Do(req)
		if err != nil {
			lastErr = classifyTransportError(provider, err)
			if attempt < maxRetries && ctx.Err() == nil {
				time.Sleep(time.Duration(attempt+1) * time.Second)
				req.Body = io.NopCloser(bytes.NewBuffer(jsonData))
				continue
			}
			break
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", provider, readErr)
		}

		if resp.StatusCode != http.StatusOK {
			if attempt < maxRetries && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
				time.Sleep(time.Duration(attempt+1) * time.Second)
				req.Body = io.NopCloser(bytes.NewBuffer(jsonData))
				continue
			}
			return nil, statusToKeyError(provider, resp.StatusCode, body)
		}
		return body, nil
	}
	return nil, lastErr
}

// getJSON fetches a JSON resource with the same retry policy as postJSON.
func getJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", provider, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := client.Do(req)
		if err != nil {
			lastErr = classifyTransportError(provider, err)
			if attempt < maxRetries && ctx.Err() == nil {
				time.Sleep(time.Duration(attempt+1) * time.Second)
				continue
			}
			break
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read %s response: %w", provider, readErr)
		}

		if resp.StatusCode != http.StatusOK {
			if attempt < maxRetries && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
				time.Sleep(time.Duration(attempt+1) * time.Second)
				continue
			}
			return nil, statusToKeyError(provider, resp.StatusCode, body)
		}
		return body, nil
	}
	return nil, lastErr
}

// statusToKeyError maps terminal HTTP statuses onto the key-error taxonomy.
// Statuses with no credential meaning keep the provider's message verbatim.
func statusToKeyError(provider string, status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return models.NewAPIKeyError(provider, models.APIKeyErrorInvalid, "provider rejected the api key", nil)
	case http.StatusForbidden:
		return models.NewAPIKeyError(provider, models.APIKeyErrorExpired, "provider refused the api key", nil)
	case http.StatusTooManyRequests:
		return models.NewAPIKeyError(provider, models.APIKeyErrorRateLimited, "provider is rate limiting this key", nil)
	default:
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return fmt.Errorf("%s returned status %d: %s", provider, status, msg)
	}
}

func classifyTransportError(provider string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return models.NewAPIKeyError(provider, models.APIKeyErrorValidationTimeout, "provider did not respond in time", err)
	}
	return models.NewAPIKeyError(provider, models.APIKeyErrorNetworkError, "could not reach provider", err)
}

func bearerHeader(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func validateBatch(provider string, texts []string) error {
	if len(texts) > maxBatchSize {
		return models.NewValidationError(fmt.Sprintf("%s embedding batch exceeds %d texts", provider, maxBatchSize))
	}
	return nil
}
