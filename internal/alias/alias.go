// Package alias maps request URLs to content hashes so repeat submissions of
// the same media can short-circuit before any download happens. Entries are
// advisory: a miss only costs a re-fetch, so the cache may expire or lose
// entries freely.
package alias

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned when no alias entry exists for a key.
var ErrNotFound = errors.New("alias not found")

// Cache stores canonical-URL keys against content hashes.
type Cache interface {
	// Get returns the content hash recorded for key.
	Get(ctx context.Context, key string) (string, error)
	// Put records key -> contentHash, overwriting any previous entry.
	Put(ctx context.Context, key, contentHash string) error
}

// CanonicalURL normalizes a request URL so cosmetic variants of the same
// share link map to one alias key: the fragment and tracking parameters are
// dropped, remaining query parameters are sorted, scheme and host are
// lowercased and trailing slashes are trimmed.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for name := range q {
		if isTrackingParam(name) {
			q.Del(name)
		}
	}
	// Encode sorts parameters by key.
	u.RawQuery = q.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String(), nil
}

// isTrackingParam reports whether a query parameter carries share tracking
// noise rather than content identity. TikTok stamps _t/_r onto share links;
// utm_* is the usual campaign tagging.
func isTrackingParam(name string) bool {
	switch name {
	case "_t", "_r":
		return true
	}
	return strings.HasPrefix(name, "utm_")
}

// Key derives the cache key for a canonical URL.
func Key(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// KeyFor canonicalizes raw and returns its cache key.
func KeyFor(raw string) (string, error) {
	canonical, err := CanonicalURL(raw)
	if err != nil {
		return "", err
	}
	return Key(canonical), nil
}
