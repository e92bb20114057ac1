package cache

import (
	"fmt"
	"net/http"
	"net/url"
)

// Keyer derives fingerprints from request paths and query strings.
//
// Contract:
// - Determinism: same inputs must produce same key.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a fingerprint from a request path and raw query.
	Key(path, rawQuery string) (string, error)
}

// DefaultKeyer uses the literal path and query string as the fingerprint.
type DefaultKeyer struct {
	normalize bool
}

// NewDefaultKeyer creates a keyer that keeps the query string verbatim, so
// ?page=1&limit=50 and ?limit=50&page=1 are distinct entries.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// NewNormalizingKeyer creates a keyer that sorts query parameters by name
// before building the fingerprint. Values for a repeated name keep their
// order, and default values are not filled in.
func NewNormalizingKeyer() *DefaultKeyer {
	return &DefaultKeyer{normalize: true}
}

// Key generates a fingerprint.
// Format: <path> or <path>?<query>
func (k *DefaultKeyer) Key(path, rawQuery string) (string, error) {
	if rawQuery != "" && k.normalize {
		q, err := canonicalQuery(rawQuery)
		if err != nil {
			return "", fmt.Errorf("cache: failed to normalize query: %w", err)
		}
		rawQuery = q
	}

	key := path
	if rawQuery != "" {
		key = path + "?" + rawQuery
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// RequestKey fingerprints r with k.
func RequestKey(k Keyer, r *http.Request) (string, error) {
	return k.Key(r.URL.Path, r.URL.RawQuery)
}

// canonicalQuery re-encodes a query with keys in sorted order.
func canonicalQuery(rawQuery string) (string, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", err
	}
	// Encode sorts by key.
	return values.Encode(), nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
