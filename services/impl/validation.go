package impl

import (
	"fmt"
	"strings"

	"github.com/ragforge/models"
)

const (
	maxQueryChars     = 8192
	maxHistoryTurns   = 50
	maxReprocessBatch = 100
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return strings.Join(parts, "; ")
}

// AsError converts the collection into a typed validation error, or nil when
// everything passed.
func (e ValidationErrors) AsError() error {
	if len(e) == 0 {
		return nil
	}
	return models.NewValidationError(e.Error())
}

// ValidateQueryRequest checks the user-supplied parts of a hybrid query
// before any provider work starts.
func ValidateQueryRequest(req models.HybridQueryRequest) ValidationErrors {
	var errors ValidationErrors

	query := strings.TrimSpace(req.Query)
	if query == "" {
		errors = append(errors, ValidationError{Field: "query", Message: "query must not be empty"})
	}
	if len(req.Query) > maxQueryChars {
		errors = append(errors, ValidationError{
			Field:   "query",
			Message: fmt.Sprintf("query must be %d characters or less", maxQueryChars),
		})
	}

	if len(req.History) > maxHistoryTurns {
		errors = append(errors, ValidationError{
			Field:   "history",
			Message: fmt.Sprintf("history must contain %d turns or less", maxHistoryTurns),
		})
	}
	for i, turn := range req.History {
		if turn.Role != "user" && turn.Role != "assistant" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("history[%d].role", i),
				Message: fmt.Sprintf("invalid role '%s', must be one of: user, assistant", turn.Role),
			})
			break
		}
	}

	if req.UserProfile != nil && req.UserProfile.Expertise != "" {
		switch strings.ToLower(req.UserProfile.Expertise) {
		case "beginner", "intermediate", "advanced", "expert":
		default:
			errors = append(errors, ValidationError{
				Field:   "user_profile.expertise",
				Message: fmt.Sprintf("invalid expertise '%s', must be one of: beginner, intermediate, advanced, expert", req.UserProfile.Expertise),
			})
		}
	}

	return errors
}

// ValidateReprocessOptions checks user-supplied reprocessing options.
func ValidateReprocessOptions(opts models.ReprocessOptions) ValidationErrors {
	var errors ValidationErrors

	if opts.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "batch_size",
			Message: "batch_size must be at least 1",
		})
	}
	if opts.BatchSize > maxReprocessBatch {
		errors = append(errors, ValidationError{
			Field:   "batch_size",
			Message: fmt.Sprintf("batch_size must be %d or less", maxReprocessBatch),
		})
	}

	return errors
}
