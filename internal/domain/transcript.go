package domain

import "time"

// TranscriptDoc is the JSON document stored in the blob store for every
// transcript. Reads at the API parse this back out of the blob.
type TranscriptDoc struct {
	Text        string    `json:"text"`
	SourceURL   string    `json:"source_url"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}
