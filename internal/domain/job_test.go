package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusFetchingMedia, false},
		{JobStatusNormalizingMedia, false},
		{JobStatusMediaReady, false},
		{JobStatusTranscribing, false},
		{JobStatusComplete, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range NonTerminalStatuses() {
		assert.True(t, ValidStatus(s), "non-terminal %s should be valid", s)
	}
	assert.True(t, ValidStatus(JobStatusComplete))
	assert.True(t, ValidStatus(JobStatusFailed))
	assert.False(t, ValidStatus(JobStatus("RUNNING")))
	assert.False(t, ValidStatus(JobStatus("")))
}

func TestInFlightStatuses_ExcludesPending(t *testing.T) {
	for _, s := range InFlightStatuses() {
		assert.NotEqual(t, JobStatusPending, s)
		assert.False(t, s.IsTerminal())
	}
}

func TestJob_LeaseHeldAt(t *testing.T) {
	now := time.Now()
	owner := "worker-a"
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name string
		job  Job
		held bool
	}{
		{name: "no lease", job: Job{}, held: false},
		{name: "live lease", job: Job{LeaseOwner: &owner, LeaseExpiresAt: &future}, held: true},
		{name: "expired lease", job: Job{LeaseOwner: &owner, LeaseExpiresAt: &past}, held: false},
		{name: "owner without expiry", job: Job{LeaseOwner: &owner}, held: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.held, tt.job.LeaseHeldAt(now))
		})
	}
}

func TestErrorCode_Retryable(t *testing.T) {
	retryable := []ErrorCode{
		CodeFetchError, CodeExtractionError, CodeDownloadEmpty,
		CodeAudioValidationFailed, CodeNormalizeError, CodeCorruptedAudioFile,
		CodeTranscriptionError, CodeUnexpectedError,
	}
	for _, c := range retryable {
		assert.True(t, c.Retryable(), "%s should be retryable", c)
	}

	final := []ErrorCode{CodeMediaTooLong, CodeAdapterDisabled, CodeJobOrphanedTimeout}
	for _, c := range final {
		assert.False(t, c.Retryable(), "%s should not be retryable", c)
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewStageError(CodeNormalizeError, cause)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeNormalizeError, se.Code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "normalize_error: exit status 1", err.Error())
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", NewStageError(CodeMediaTooLong, errors.New("182s > 120s")))
	assert.Equal(t, CodeMediaTooLong, CodeOf(err, CodeUnexpectedError))

	plain := errors.New("connection reset")
	assert.Equal(t, CodeFetchError, CodeOf(plain, CodeFetchError))
}

func TestAsset_HasTranscript(t *testing.T) {
	ref := "transcripts/abc.json"
	empty := ""

	assert.False(t, (*Asset)(nil).HasTranscript())
	assert.False(t, (&Asset{ContentHash: "abc"}).HasTranscript())
	assert.False(t, (&Asset{ContentHash: "abc", TranscriptRef: &empty}).HasTranscript())
	assert.True(t, (&Asset{ContentHash: "abc", TranscriptRef: &ref}).HasTranscript())
}
