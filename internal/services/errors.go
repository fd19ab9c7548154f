package services

import (
	"errors"
	"net/http"
)

// Business errors shared across the engines. Handlers translate these into
// HTTP status codes; callers match them with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("entity not in expected state")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// StatusCodeFor maps a business error to its HTTP status.
func StatusCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
