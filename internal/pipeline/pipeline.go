// Package pipeline runs claimed jobs through fetch, normalize and transcribe,
// owning every transition from FETCHING_MEDIA to the terminal states.
package pipeline

import (
	"context"
	"time"
)

// Fetcher downloads the media behind a request URL into a fresh scratch
// directory and returns the path of the raw media file. On success the caller
// owns the file's directory and removes it when consumed; on error the
// fetcher cleans up after itself.
type Fetcher interface {
	Fetch(ctx context.Context, requestURL string) (string, error)
}

// NormalizedMedia describes the canonical audio derived from raw media.
type NormalizedMedia struct {
	// AudioPath points at the normalized wav inside a scratch directory
	// owned by the caller once Normalize returns successfully.
	AudioPath string
	// ContentHash is the sha256 hex digest of the normalized audio bytes.
	// Identical source media always normalizes to the same hash.
	ContentHash string
	// Duration is the audio length probed from the normalized file.
	Duration time.Duration
}

// Normalizer converts raw media into the canonical audio form used for
// hashing and transcription. Same scratch ownership contract as Fetcher.
type Normalizer interface {
	Normalize(ctx context.Context, rawPath string) (*NormalizedMedia, error)
}

// Transcriber produces transcript text for a normalized audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
