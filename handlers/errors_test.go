package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/models"
)

func testContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestWriteError_TaxonomyMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", models.NewNotFoundError("bot", uuid.New()), http.StatusNotFound},
		{"permission denied", models.NewPermissionDeniedError("manage this bot"), http.StatusForbidden},
		{"validation", models.NewValidationError("query must not be empty"), http.StatusBadRequest},
		{"conflict", models.NewConflictError("operation queue is full (100 operations)"), http.StatusConflict},
		{"timeout", models.NewTimeoutError("query timed out", nil), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, w := testContext(t)
			writeError(c, tc.err)
			assert.Equal(t, tc.status, w.Code)

			var body map[string]any
			decodeBody(t, w, &body)
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestWriteError_APIKeyStatuses(t *testing.T) {
	cases := []struct {
		errType models.APIKeyErrorType
		status  int
	}{
		{models.APIKeyErrorRateLimited, http.StatusTooManyRequests},
		{models.APIKeyErrorValidationTimeout, http.StatusGatewayTimeout},
		{models.APIKeyErrorNetworkError, http.StatusBadGateway},
		{models.APIKeyErrorInvalid, http.StatusBadRequest},
		{models.APIKeyErrorExpired, http.StatusBadRequest},
		{models.APIKeyErrorNotFound, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(string(tc.errType), func(t *testing.T) {
			c, w := testContext(t)
			writeError(c, models.NewAPIKeyError("openai", tc.errType, "the provider rejected the key", nil))
			assert.Equal(t, tc.status, w.Code)

			var body map[string]any
			decodeBody(t, w, &body)
			assert.Equal(t, "openai", body["provider"])
			assert.Equal(t, string(tc.errType), body["error_type"])
			assert.NotEmpty(t, body["remediation"])
		})
	}
}

func TestWriteError_CompositeKeyError(t *testing.T) {
	c, w := testContext(t)
	ownerID := uuid.New()
	writeError(c, &models.CompositeKeyError{
		BotID:    uuid.New(),
		Provider: "openai",
		Attempts: []models.KeyAttempt{
			{Source: models.KeySourceOwner, Provider: "openai", UserID: &ownerID, Type: models.APIKeyErrorNotFound},
			{Source: models.KeySourceCaller, Provider: "openai", Type: models.APIKeyErrorInvalid},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	decodeBody(t, w, &body)
	msg, ok := body["error"].(string)
	require.True(t, ok)
	assert.Contains(t, msg, "no usable openai api key")
	attempts, ok := body["attempts"].([]any)
	require.True(t, ok)
	assert.Len(t, attempts, 2)
	assert.NotEmpty(t, body["remediation"])
}

func TestWriteError_UnclassifiedIs500(t *testing.T) {
	c, w := testContext(t)
	writeError(c, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]any
	decodeBody(t, w, &body)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestRequestUser(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		c, _ := testContext(t)
		_, ok := requestUser(c)
		assert.False(t, ok)
	})

	t.Run("not a string", func(t *testing.T) {
		c, _ := testContext(t)
		c.Set("user_id", 42)
		_, ok := requestUser(c)
		assert.False(t, ok)
	})

	t.Run("not a uuid", func(t *testing.T) {
		c, _ := testContext(t)
		c.Set("user_id", "someone")
		_, ok := requestUser(c)
		assert.False(t, ok)
	})

	t.Run("valid", func(t *testing.T) {
		c, _ := testContext(t)
		id := uuid.New()
		c.Set("user_id", id.String())
		got, ok := requestUser(c)
		require.True(t, ok)
		assert.Equal(t, id, got)
	})
}

func TestIsAdmin(t *testing.T) {
	c, _ := testContext(t)
	assert.False(t, isAdmin(c))

	c.Set("role", "user")
	assert.False(t, isAdmin(c))

	c.Set("role", "admin")
	assert.True(t, isAdmin(c))
}
