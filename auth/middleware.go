package auth

import (
	"errors"
	"net/http"
)

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

// RequireToken rejects requests without a valid token. Missing credentials
// produce 401; a token that cannot be verified produces 403. On success the
// identity is attached to the request context.
func RequireToken(authn Authenticator, writeErr ErrorWriter) func(http.Handler) http.Handler {
	if writeErr == nil {
		writeErr = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := authn.Authenticate(r.Context(), NewAuthRequest(r))
			if err != nil {
				writeErr(w, r, http.StatusInternalServerError, err)
				return
			}
			if !result.OK() {
				rejected := result.Err
				if rejected == nil {
					rejected = ErrInvalidCredentials
				}
				writeErr(w, r, StatusFor(rejected), rejected)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), result.Identity)))
		})
	}
}

// StatusFor maps an auth error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func plainError(w http.ResponseWriter, _ *http.Request, status int, _ error) {
	http.Error(w, http.StatusText(status), status)
}
