package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonwraymond/recipebox/auth"
	"github.com/jonwraymond/recipebox/observe"
	"github.com/jonwraymond/recipebox/resilience"
	"github.com/jonwraymond/recipebox/store"
)

// Errors returned by New and by request validation.
var (
	ErrMissingStore  = errors.New("api: store is required")
	ErrMissingTokens = errors.New("api: token authenticator is required")
	ErrBadRequest    = errors.New("api: bad request")
)

type errorBody struct {
	Error string `json:"error"`
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrBadRequest}, args...)...)
}

// statusFor maps an error from a handler, the store or a guard to an HTTP
// status code.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrBadRequest), errors.Is(err, store.ErrInvalidRecipe):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, resilience.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrBulkheadFull),
		errors.Is(err, resilience.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text shown to clients. Internal details stay
// in the logs.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusUnauthorized:
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return "username or password is incorrect"
		}
		return "missing credentials"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "user already exists"
	case http.StatusTooManyRequests:
		return "too many requests"
	case http.StatusRequestEntityTooLarge:
		return "request body too large"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

// writeError renders err as {"error": ...}. It matches auth.ErrorWriter.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request error",
			observe.Field{Key: "http.status", Value: status},
			observe.Field{Key: "error", Value: err},
		)
	}
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: publicMessage(status, err)})
}

// fail renders err with the status statusFor picks.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusFor(err), err)
}
