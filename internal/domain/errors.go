package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id has no row behind it.
	ErrJobNotFound = errors.New("job not found")

	// ErrAssetNotFound is returned when no asset exists for a content hash.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrContentHashSet is returned when a job's content hash is already set
	// to a different value. Content identity is stable once computed.
	ErrContentHashSet = errors.New("content hash already set")

	// ErrInvalidStatus is returned by the storage boundary for a status
	// value outside the enumerated set.
	ErrInvalidStatus = errors.New("invalid job status")
)

// ErrorCode is a stable, machine-readable failure code. The set is closed:
// clients branch on these strings, so new failures must map onto an existing
// code or extend the set deliberately.
type ErrorCode string

const (
	// Fetch stage.
	CodeFetchError            ErrorCode = "fetch_error"
	CodeExtractionError       ErrorCode = "extraction_error"
	CodeDownloadEmpty         ErrorCode = "tiktok_download_empty"
	CodeAudioValidationFailed ErrorCode = "audio_validation_failed"
	CodeAdapterDisabled       ErrorCode = "adapter_disabled"

	// Normalize stage.
	CodeNormalizeError     ErrorCode = "normalize_error"
	CodeMediaTooLong       ErrorCode = "media_too_long"
	CodeCorruptedAudioFile ErrorCode = "corrupted_audio_file"

	// Transcribe stage.
	CodeTranscriptionError ErrorCode = "transcription_error"

	// Subsystem-level.
	CodeJobOrphanedTimeout ErrorCode = "job_orphaned_timeout"
	CodeUnexpectedError    ErrorCode = "unexpected_error"
)

// Retryable reports whether re-submitting the same input could plausibly
// succeed. Policy rejections and disabled adapters fail the same way every
// time; the orphan timeout marks work already written off.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeMediaTooLong, CodeAdapterDisabled, CodeJobOrphanedTimeout:
		return false
	}
	return true
}

// StageError carries the error code a failed stage should stamp on the job,
// together with the underlying cause.
type StageError struct {
	Code ErrorCode
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a stable error code.
func NewStageError(code ErrorCode, err error) error {
	return &StageError{Code: code, Err: err}
}

// CodeOf extracts the error code from err. Errors that do not carry a
// StageError anywhere in their chain fall back to the supplied default.
func CodeOf(err error, fallback ErrorCode) ErrorCode {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return fallback
}
