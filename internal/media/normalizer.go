package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/pipeline"
)

// NormalizerConfig holds normalizer configuration
type NormalizerConfig struct {
	Logger *slog.Logger
	// FFmpegBinary is the ffmpeg executable path.
	FFmpegBinary string
	// FFprobeBinary is the ffprobe executable path.
	FFprobeBinary string
}

// Normalizer transcodes raw media into mono 16 kHz PCM WAV, the canonical
// form all content hashing and transcription runs against.
type Normalizer struct {
	logger  *slog.Logger
	ffmpeg  string
	ffprobe string
	runner  commandRunner
}

// NewNormalizer creates a new ffmpeg normalizer
func NewNormalizer(cfg *NormalizerConfig) *Normalizer {
	return &Normalizer{
		logger:  cfg.Logger,
		ffmpeg:  cfg.FFmpegBinary,
		ffprobe: cfg.FFprobeBinary,
		runner:  execRunner{},
	}
}

// Normalize converts rawPath into canonical audio inside a fresh scratch
// directory and computes its duration and content hash. The caller owns the
// directory on success; on error the normalizer removes it.
func (n *Normalizer) Normalize(ctx context.Context, rawPath string) (*pipeline.NormalizedMedia, error) {
	dir, err := os.MkdirTemp("", "normalize-*")
	if err != nil {
		return nil, domain.NewStageError(domain.CodeNormalizeError, fmt.Errorf("failed to create scratch directory: %w", err))
	}

	media, err := n.normalize(ctx, dir, rawPath)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return media, nil
}

func (n *Normalizer) normalize(ctx context.Context, dir, rawPath string) (*pipeline.NormalizedMedia, error) {
	outPath := filepath.Join(dir, "audio.wav")
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", rawPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}

	result, runErr := n.runner.Run(ctx, n.ffmpeg, args...)
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n.logger.Warn("Audio transcode failed",
			slog.String("input", rawPath),
			slog.Int("exit_code", result.ExitCode),
			slog.String("stderr", tail(result.Stderr)),
		)
		if strings.Contains(result.Stderr, "Invalid data found when processing input") {
			return nil, domain.NewStageError(domain.CodeCorruptedAudioFile, fmt.Errorf("ffmpeg could not parse input: %s", tail(result.Stderr)))
		}
		return nil, domain.NewStageError(domain.CodeNormalizeError, fmt.Errorf("ffmpeg exited with code %d: %s", result.ExitCode, tail(result.Stderr)))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return nil, domain.NewStageError(domain.CodeNormalizeError, fmt.Errorf("ffmpeg completed but output file is missing or empty"))
	}

	duration, err := n.probeDuration(ctx, outPath)
	if err != nil {
		return nil, err
	}

	hash, err := hashFile(outPath)
	if err != nil {
		return nil, domain.NewStageError(domain.CodeNormalizeError, fmt.Errorf("failed to hash normalized audio: %w", err))
	}

	n.logger.Info("Normalized media",
		slog.String("content_hash", hash),
		slog.Duration("duration", duration),
		slog.Int64("bytes", info.Size()),
	)

	return &pipeline.NormalizedMedia{
		AudioPath:   outPath,
		ContentHash: hash,
		Duration:    duration,
	}, nil
}

// probeDuration reads the container duration of path with ffprobe.
func (n *Normalizer) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	result, runErr := n.runner.Run(ctx, n.ffprobe, args...)
	if runErr != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, domain.NewStageError(domain.CodeCorruptedAudioFile, fmt.Errorf("ffprobe exited with code %d: %s", result.ExitCode, tail(result.Stderr)))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil {
		return 0, domain.NewStageError(domain.CodeCorruptedAudioFile, fmt.Errorf("ffprobe returned an unparsable duration %q", strings.TrimSpace(result.Stdout)))
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// hashFile computes the sha256 hex digest of the file at path.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
