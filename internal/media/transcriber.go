package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/mediascribe/internal/domain"
)

// TranscriberConfig holds transcriber configuration
type TranscriberConfig struct {
	Logger *slog.Logger
	// Binary is the whisper-cli executable path.
	Binary string
	// ModelPath points at the whisper model file.
	ModelPath string
	// Language forces a transcription language. Empty or "auto" lets the
	// model detect it.
	Language string
}

// Transcriber produces transcript text by running whisper against
// normalized audio.
type Transcriber struct {
	logger    *slog.Logger
	binary    string
	modelPath string
	language  string
	runner    commandRunner
}

// NewTranscriber creates a new whisper transcriber
func NewTranscriber(cfg *TranscriberConfig) *Transcriber {
	return &Transcriber{
		logger:    cfg.Logger,
		binary:    cfg.Binary,
		modelPath: cfg.ModelPath,
		language:  cfg.Language,
		runner:    execRunner{},
	}
}

// Transcribe runs whisper over audioPath and returns the transcript text.
// The exported .txt lives in a scratch directory the transcriber removes
// before returning.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	dir, err := os.MkdirTemp("", "transcribe-*")
	if err != nil {
		return "", domain.NewStageError(domain.CodeTranscriptionError, fmt.Errorf("failed to create scratch directory: %w", err))
	}
	defer os.RemoveAll(dir)

	textBase := filepath.Join(dir, "transcript")
	args := []string{
		"-m", t.modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}
	if lang := strings.TrimSpace(t.language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}

	result, runErr := t.runner.Run(ctx, t.binary, args...)
	if runErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Warn("Transcription failed",
			slog.String("audio", audioPath),
			slog.Int("exit_code", result.ExitCode),
			slog.String("stderr", tail(result.Stderr)),
		)
		return "", domain.NewStageError(domain.CodeTranscriptionError, fmt.Errorf("whisper exited with code %d: %s", result.ExitCode, tail(result.Stderr)))
	}

	content, err := os.ReadFile(textBase + ".txt")
	if err != nil {
		return "", domain.NewStageError(domain.CodeTranscriptionError, fmt.Errorf("whisper completed but transcript file is missing: %w", err))
	}

	text := strings.TrimSpace(string(content))
	t.logger.Info("Transcribed audio",
		slog.String("audio", audioPath),
		slog.Int("chars", len(text)),
	)
	return text, nil
}
