package apperrors

import (
	"errors"
	"net/http"
)

// Error kinds. Concrete errors wrap one of these so callers can branch with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrState      = errors.New("invalid state")
	ErrAuth       = errors.New("authentication failed")
	ErrTimeout    = errors.New("timeout")
	ErrTransport  = errors.New("transport error")
)

var kinds = []error{ErrValidation, ErrConflict, ErrNotFound, ErrState, ErrAuth, ErrTimeout, ErrTransport}

// Kind returns the error kind err belongs to, or nil when it is not classified.
func Kind(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsGone reports whether err means the targeted session is absent or no longer active.
func IsGone(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrState)
}

// CheckError maps an error to the HTTP status code surfaced to clients.
func CheckError(err error) int {
	switch Kind(err) {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrConflict, ErrState:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAuth:
		return http.StatusUnauthorized
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
