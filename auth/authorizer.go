package auth

import (
	"context"
	"fmt"
)

// Authorizer decides whether an identity may act on a resource.
type Authorizer interface {
	// Authorize returns nil when the request is permitted and an error
	// matching ErrForbidden otherwise.
	Authorize(ctx context.Context, req *AuthzRequest) error
	Name() string
}

// AuthzRequest describes one attempted action.
type AuthzRequest struct {
	Subject *Identity

	// Owner is the user whose data the action touches.
	Owner string

	// Resource and Action name the attempt, e.g. "savedRecipes" and "save".
	Resource string
	Action   string
}

// AuthzError is a denied AuthzRequest. It matches ErrForbidden.
type AuthzError struct {
	UserID   string
	Owner    string
	Resource string
	Action   string
}

func (e *AuthzError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("auth: anonymous caller may not %s %s", e.Action, e.Resource)
	}
	return fmt.Sprintf("auth: user %q may not %s %s of user %q", e.UserID, e.Action, e.Resource, e.Owner)
}

// Is reports whether target is ErrForbidden.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}

// OwnerAuthorizer lets users act only on their own data.
type OwnerAuthorizer struct{}

// Authorize denies anonymous subjects and subjects acting for someone else.
func (OwnerAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	if req.Subject.Anonymous() || req.Subject.UserID != req.Owner {
		denied := &AuthzError{Owner: req.Owner, Resource: req.Resource, Action: req.Action}
		if !req.Subject.Anonymous() {
			denied.UserID = req.Subject.UserID
		}
		return denied
	}
	return nil
}

// Name returns "owner".
func (OwnerAuthorizer) Name() string {
	return "owner"
}
