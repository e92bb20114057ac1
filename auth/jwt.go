package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of issued tokens when JWTConfig.TTL is zero.
const DefaultTokenTTL = 24 * time.Hour

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Issuer is set on issued tokens and, when non-empty, required on
	// verified ones.
	Issuer string

	// HeaderName is the header containing the token.
	// Default: "Authorization"
	HeaderName string

	// TokenPrefix is an optional prefix before the token in the header.
	// A header without the prefix is treated as a raw token.
	// Default: "Bearer "
	TokenPrefix string

	// TTL is the lifetime of issued tokens.
	// Default: DefaultTokenTTL
	TTL time.Duration

	// Now replaces time.Now. Intended for tests.
	Now func() time.Time
}

// KeyProvider retrieves signing keys for JWT signing and validation.
type KeyProvider interface {
	// GetKey returns the key for the given key ID.
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider provides a static signing key.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider creates a static key provider.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key.
func (p *StaticKeyProvider) GetKey(_ context.Context, _ string) (any, error) {
	if len(p.key) == 0 {
		return nil, ErrKeyNotFound
	}
	return p.key, nil
}

// JWTAuthenticator issues and validates HS256 tokens.
type JWTAuthenticator struct {
	config      JWTConfig
	keyProvider KeyProvider
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(config JWTConfig, keyProvider KeyProvider) *JWTAuthenticator {
	// Apply defaults
	if config.HeaderName == "" {
		config.HeaderName = "Authorization"
	}
	if config.TokenPrefix == "" {
		config.TokenPrefix = "Bearer "
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTokenTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &JWTAuthenticator{
		config:      config,
		keyProvider: keyProvider,
	}
}

// Name returns "jwt".
func (a *JWTAuthenticator) Name() string {
	return "jwt"
}

// Issue signs a token whose subject is userID.
func (a *JWTAuthenticator) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("jwt: empty subject: %w", ErrInvalidCredentials)
	}
	key, err := a.signingKey(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	now := a.config.Now()
	expires := now.Add(a.config.TTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, wrapJWTError(err)
	}
	return signed, expires, nil
}

// Authenticate validates the token in the configured header.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	tokenString := a.extractToken(req.Header(a.config.HeaderName))
	if tokenString == "" {
		return Rejected(ErrMissingCredentials), nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.config.Now),
		jwt.WithExpirationRequired(),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	var keyErr error
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, err := a.keyProvider.GetKey(ctx, kid)
		keyErr = err
		return key, err
	}, opts...)

	switch {
	case keyErr != nil:
		return nil, wrapJWTError(keyErr)
	case errors.Is(err, jwt.ErrTokenExpired):
		return Rejected(ErrTokenExpired), nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Rejected(ErrTokenMalformed), nil
	case err != nil || !token.Valid:
		return Rejected(ErrInvalidCredentials), nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Rejected(ErrTokenMalformed), nil
	}
	identity := buildIdentity(claims)
	if identity.UserID == "" {
		return Rejected(ErrInvalidCredentials), nil
	}
	return Accepted(identity), nil
}

// extractToken accepts "Bearer <token>" as well as a bare token.
func (a *JWTAuthenticator) extractToken(header string) string {
	header = strings.TrimSpace(header)
	prefix := strings.TrimSpace(a.config.TokenPrefix)
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		rest := header[len(prefix):]
		if rest == "" || rest[0] == ' ' {
			header = rest
		}
	}
	return strings.TrimSpace(header)
}

func (a *JWTAuthenticator) signingKey(ctx context.Context) ([]byte, error) {
	raw, err := a.keyProvider.GetKey(ctx, "")
	if err != nil {
		return nil, wrapJWTError(err)
	}
	key, ok := raw.([]byte)
	if !ok || len(key) == 0 {
		return nil, wrapJWTError(ErrKeyNotFound)
	}
	return key, nil
}

func buildIdentity(claims jwt.MapClaims) *Identity {
	identity := &Identity{Claims: make(map[string]any, len(claims))}
	for k, v := range claims {
		identity.Claims[k] = v
	}

	identity.UserID, _ = claims.GetSubject()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}
	return identity
}

// Ensure JWTAuthenticator implements Authenticator
var _ Authenticator = (*JWTAuthenticator)(nil)

// Ensure StaticKeyProvider implements KeyProvider
var _ KeyProvider = (*StaticKeyProvider)(nil)

// Helper to format errors
func wrapJWTError(err error) error {
	return fmt.Errorf("jwt: %w", err)
}
