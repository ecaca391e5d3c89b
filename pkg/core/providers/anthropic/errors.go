package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ErrorType categorizes provider errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrAPI            ErrorType = "api_error"
	ErrMalformed      ErrorType = "malformed_response_error"
)

// Error represents a failure from the Anthropic API, or a response the role
// layer could not decode.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("anthropic: %s: %s", e.Type, e.Message)
}

// IsRateLimit reports whether the provider rejected the call for rate limits.
func (e *Error) IsRateLimit() bool {
	return e.Type == ErrRateLimit
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Type == "" {
		return &Error{
			Type:    ErrAPI,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var errType ErrorType
	switch parsed.Error.Type {
	case "invalid_request_error":
		errType = ErrInvalidRequest
	case "authentication_error", "permission_error":
		errType = ErrAuthentication
	case "rate_limit_error":
		errType = ErrRateLimit
	case "overloaded_error":
		errType = ErrOverloaded
	default:
		errType = ErrAPI
	}

	out := &Error{Type: errType, Message: parsed.Error.Message}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			out.RetryAfter = &secs
		}
	}
	return out
}
