package secret

import "errors"

var (
	// ErrMissingEnv is returned when a ${VAR} reference names an unset variable.
	ErrMissingEnv = errors.New("secret: missing required environment variables")

	// ErrProviderNotRegistered is returned for references to unknown providers.
	ErrProviderNotRegistered = errors.New("secret: provider not registered")

	// ErrInvalidProvider is returned for an empty provider name or nil factory.
	ErrInvalidProvider = errors.New("secret: invalid provider registration")

	// ErrDuplicateProvider is returned when a provider name is registered twice.
	ErrDuplicateProvider = errors.New("secret: provider already registered")

	// ErrEmptySecret is returned in strict mode when a provider yields "".
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrInvalidRef is returned when a reference is malformed or unsafe.
	ErrInvalidRef = errors.New("secret: invalid reference")
)
