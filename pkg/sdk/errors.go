package lorekeep

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the client. Use errors.Is() to check; the
// wrapped *APIError carries the reason code and message from the service.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrUnavailable    = errors.New("service unavailable")
)

// APIError is the decoded error envelope from a failed request.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lorekeep: %s (%d %s)", e.Message, e.StatusCode, e.Code)
}

// Unwrap maps the HTTP status to a sentinel so callers can errors.Is()
// without inspecting codes.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 400:
		return ErrInvalidRequest
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	case 404:
		return ErrNotFound
	case 502, 503:
		return ErrUnavailable
	default:
		return nil
	}
}
