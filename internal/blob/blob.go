// Package blob stores media artifacts under stable content-derived keys.
// References handed back by Put are opaque to callers; today they are the
// keys themselves so rows stay portable across store roots.
package blob

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a reference does not resolve to a stored blob.
var ErrNotFound = errors.New("blob not found")

// Store persists artifact bytes under a key and serves them back by reference.
type Store interface {
	// Put stores data under key and returns the reference to fetch it back.
	// Writing the same key again replaces the previous content.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the content for a reference previously returned by Put.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// AudioKey is the canonical key for a normalized audio artifact.
func AudioKey(contentHash string) string {
	return fmt.Sprintf("audio/%s.wav", contentHash)
}

// TranscriptKey is the canonical key for a transcript document.
func TranscriptKey(contentHash string) string {
	return fmt.Sprintf("transcripts/%s.json", contentHash)
}
