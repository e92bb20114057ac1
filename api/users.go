package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jonwraymond/recipebox/auth"
	"github.com/jonwraymond/recipebox/observe"
	"github.com/jonwraymond/recipebox/resilience"
	"github.com/jonwraymond/recipebox/store"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userID"`
}

func (c *credentials) validate() error {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" || c.Password == "" {
		return badRequest("username and password are required")
	}
	return nil
}

// handleRegister creates an account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.Allow(s.clientIP(r)) {
		s.fail(w, r, resilience.ErrRateLimitExceeded)
		return
	}

	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	var hash string
	err := s.hashing.Execute(r.Context(), func(ctx context.Context) error {
		var err error
		hash, err = auth.HashPassword(in.Password)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.store.CreateUser(r.Context(), in.Username, hash)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "user registered", observe.Field{Key: "user.id", Value: user.ID})
	writeJSON(w, http.StatusCreated, messageResponse{Message: "User registered successfully"})
}

// handleLogin exchanges credentials for a token. Unknown users and wrong
// passwords get the same answer.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.Allow(s.clientIP(r)) {
		s.fail(w, r, resilience.ErrRateLimitExceeded)
		return
	}

	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := in.validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	user, err := s.store.UserByUsername(r.Context(), in.Username)
	if errors.Is(err, store.ErrNotFound) {
		s.fail(w, r, auth.ErrInvalidCredentials)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	err = s.hashing.Execute(r.Context(), func(ctx context.Context) error {
		return auth.CheckPassword(user.PasswordHash, in.Password)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, _, err := s.tokens.Issue(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user.ID})
}
