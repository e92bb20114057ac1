// Package auth provides account credentials and request authentication for
// the recipe API.
//
// Passwords are stored as bcrypt hashes. Sessions are HS256 JWTs whose
// subject is the user id; RequireToken verifies them on write routes and
// places the resulting Identity in the request context. Authorizers decide
// whether that identity may act on another user's data.
package auth
