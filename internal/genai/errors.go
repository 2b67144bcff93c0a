package genai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoImage is returned when a generation call succeeds but the response
// carries no image payload. This is a permanent failure.
var ErrNoImage = errors.New("genai: response contained no image data")

// APIError is a structured provider error. HTTPStatus is zero when the error
// was reported inside an operation payload rather than as an HTTP response.
type APIError struct {
	HTTPStatus int
	Code       int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("gemini status %d: %s", e.HTTPStatus, e.Message)
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini %s: %s", e.Status, e.Message)
	}
	return "gemini: " + e.Message
}

// IsTransient reports whether an error looks like a rate-limit or quota
// condition that may clear after a backoff. Structured status fields are
// checked first; message inspection is only the fallback for errors that
// reach us as plain text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatus == http.StatusTooManyRequests {
			return true
		}
		return strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED")
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "resource_exhausted", "quota"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{HTTPStatus: resp.StatusCode}
	raw, _ := io.ReadAll(resp.Body)
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Status = parsed.Error.Status
		apiErr.Message = parsed.Error.Message
		return apiErr
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		apiErr.Message = msg
		return apiErr
	}
	apiErr.Message = http.StatusText(resp.StatusCode)
	return apiErr
}
