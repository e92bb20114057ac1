// Package secret resolves configuration values that may hold secrets.
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider + Registry)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - From the environment:  secretref:env:JWT_SECRET
//   - From a mounted file:   secretref:file:/etc/secrets/jwt
//   - Inline use:            Bearer secretref:env:API_TOKEN
//
// The env and file providers are registered in DefaultRegistry.
package secret
