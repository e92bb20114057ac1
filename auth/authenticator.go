package auth

import (
	"context"
	"net/http"
)

// Authenticator verifies the credentials a request carries.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: rejected credentials come back as a result with Err set.
//     The error return is reserved for failing to verify at all, such as
//     a missing signing key.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error)
}

// AuthRequest is the part of an HTTP request authenticators read.
type AuthRequest struct {
	Headers http.Header
}

// NewAuthRequest takes the headers of r.
func NewAuthRequest(r *http.Request) *AuthRequest {
	return &AuthRequest{Headers: r.Header}
}

// Header returns the first value of key, or "".
func (r *AuthRequest) Header(key string) string {
	if r == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// AuthResult is the verdict on one set of credentials.
type AuthResult struct {
	// Identity is set when the credentials were accepted.
	Identity *Identity

	// Err says why the credentials were rejected.
	Err error
}

// Accepted returns a result admitting id.
func Accepted(id *Identity) *AuthResult {
	return &AuthResult{Identity: id}
}

// Rejected returns a result refusing the credentials with err.
func Rejected(err error) *AuthResult {
	return &AuthResult{Err: err}
}

// OK reports whether the credentials were accepted for a named user.
func (r *AuthResult) OK() bool {
	return r != nil && r.Err == nil && !r.Identity.Anonymous()
}
