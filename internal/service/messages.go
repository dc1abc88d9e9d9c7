package service

import "github.com/cuongbtq/mediascribe/internal/domain"

// failureMessages maps stable error codes to text fit for end users. The
// codes themselves stay machine-readable; clients branch on codes and show
// these.
var failureMessages = map[domain.ErrorCode]string{
	domain.CodeFetchError:            "Failed to download the media. The link may be invalid or the content removed.",
	domain.CodeExtractionError:       "Could not extract media from the page.",
	domain.CodeDownloadEmpty:         "The download came back empty. The video may be private or region-locked.",
	domain.CodeAudioValidationFailed: "The downloaded file does not look like playable media.",
	domain.CodeAdapterDisabled:       "Downloads from this source are currently disabled.",
	domain.CodeNormalizeError:        "Failed to convert the media to audio.",
	domain.CodeMediaTooLong:          "The media is longer than the maximum supported duration.",
	domain.CodeCorruptedAudioFile:    "The audio appears to be corrupted and cannot be processed.",
	domain.CodeTranscriptionError:    "Transcription failed. Please try again.",
	domain.CodeJobOrphanedTimeout:    "Processing stalled and the job was abandoned. Please re-submit.",
	domain.CodeUnexpectedError:       "An unexpected error occurred.",
}

// FailureMessage returns the human-readable text for a failure code. Unknown
// codes fall back to the generic message.
func FailureMessage(code domain.ErrorCode) string {
	if msg, ok := failureMessages[code]; ok {
		return msg
	}
	return failureMessages[domain.CodeUnexpectedError]
}
