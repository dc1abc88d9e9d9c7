// Package media implements the pipeline stage contracts on top of external
// tools: yt-dlp for downloads, ffmpeg/ffprobe for normalization and whisper
// for transcription. Every adapter shells out through a commandRunner seam.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/mediascribe/internal/domain"
)

const (
	defaultMinAudioBytes = 300 << 10
	expandTimeout        = 10 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36"
)

// formatSelectors are tried in order: audio-only first for speed, then
// whatever the extractor can produce.
var formatSelectors = []string{
	"m4a/bestaudio[ext=m4a]/bestaudio/best",
	"bestaudio/best",
}

// defaultShortlinkHosts are hosts whose URLs are one redirect away from the
// canonical page. Share sheets hand these out instead of the real URL.
var defaultShortlinkHosts = []string{"vm.tiktok.com", "vt.tiktok.com"}

// FetcherConfig holds fetcher configuration
type FetcherConfig struct {
	Logger *slog.Logger
	// Binary is the yt-dlp executable path.
	Binary string
	// Enabled gates the adapter. Disabled fetchers fail every job with
	// adapter_disabled instead of touching the network.
	Enabled bool
	// MinAudioBytes rejects suspiciously small downloads. Zero means the
	// default of 300 KiB.
	MinAudioBytes int64
	// ShortlinkHosts overrides the hosts expanded with a HEAD request
	// before download. Nil means the default shortlink hosts.
	ShortlinkHosts []string
	// HTTPClient performs shortlink expansion. Nil means a client with a
	// short timeout that does not follow redirects.
	HTTPClient *http.Client
}

// Fetcher downloads media with yt-dlp into a scratch directory.
type Fetcher struct {
	logger         *slog.Logger
	binary         string
	enabled        bool
	minAudioBytes  int64
	shortlinkHosts []string
	httpClient     *http.Client
	runner         commandRunner
}

// NewFetcher creates a new yt-dlp fetcher
func NewFetcher(cfg *FetcherConfig) *Fetcher {
	minBytes := cfg.MinAudioBytes
	if minBytes <= 0 {
		minBytes = defaultMinAudioBytes
	}
	hosts := cfg.ShortlinkHosts
	if hosts == nil {
		hosts = defaultShortlinkHosts
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: expandTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Fetcher{
		logger:         cfg.Logger,
		binary:         cfg.Binary,
		enabled:        cfg.Enabled,
		minAudioBytes:  minBytes,
		shortlinkHosts: hosts,
		httpClient:     client,
		runner:         execRunner{},
	}
}

// Fetch downloads the media behind requestURL and returns the path of the
// raw file inside a fresh scratch directory. The caller owns the directory
// on success; on error the fetcher removes it.
func (f *Fetcher) Fetch(ctx context.Context, requestURL string) (string, error) {
	if !f.enabled {
		return "", domain.NewStageError(domain.CodeAdapterDisabled, fmt.Errorf("fetch adapter is disabled"))
	}

	target := f.expandShortlink(ctx, requestURL)

	dir, err := os.MkdirTemp("", "fetch-*")
	if err != nil {
		return "", domain.NewStageError(domain.CodeFetchError, fmt.Errorf("failed to create scratch directory: %w", err))
	}

	path, err := f.download(ctx, dir, target)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

// download runs yt-dlp against each format selector until one leaves a
// usable file in dir.
func (f *Fetcher) download(ctx context.Context, dir, target string) (string, error) {
	template := filepath.Join(dir, "media.%(ext)s")

	var lastErr error
	for _, selector := range formatSelectors {
		args := []string{
			"--user-agent", userAgent,
			"--socket-timeout", "30",
			"--retries", "3",
			"--fragment-retries", "3",
			"--no-playlist", "--no-warnings", "--no-part", "--no-cache-dir",
			"-f", selector,
			"-o", template,
			target,
		}

		result, runErr := f.runner.Run(ctx, f.binary, args...)
		if runErr != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			f.logger.Warn("Download attempt failed",
				slog.String("url", target),
				slog.String("format", selector),
				slog.Int("exit_code", result.ExitCode),
				slog.String("stderr", tail(result.Stderr)),
			)
			if isExtractionFailure(result.Stderr) {
				// Another selector cannot fix an extractor failure.
				return "", domain.NewStageError(domain.CodeExtractionError, fmt.Errorf("yt-dlp could not extract media: %s", tail(result.Stderr)))
			}
			lastErr = domain.NewStageError(domain.CodeFetchError, fmt.Errorf("yt-dlp exited with code %d: %s", result.ExitCode, tail(result.Stderr)))
			continue
		}

		path, size, found := newestFile(dir)
		if !found || size == 0 {
			lastErr = domain.NewStageError(domain.CodeDownloadEmpty, fmt.Errorf("yt-dlp produced no output for %s", target))
			continue
		}
		if size < f.minAudioBytes {
			return "", domain.NewStageError(domain.CodeAudioValidationFailed, fmt.Errorf("downloaded file is %d bytes, below the %d byte minimum", size, f.minAudioBytes))
		}

		f.logger.Info("Fetched media",
			slog.String("url", target),
			slog.String("format", selector),
			slog.Int64("bytes", size),
		)
		return path, nil
	}

	if lastErr == nil {
		lastErr = domain.NewStageError(domain.CodeDownloadEmpty, fmt.Errorf("yt-dlp produced no output for %s", target))
	}
	return "", lastErr
}

// expandShortlink resolves share-sheet shortlinks to their canonical URL
// with a single HEAD request. Expansion failures fall back to the original
// URL so the downloader still gets a chance.
func (f *Fetcher) expandShortlink(ctx context.Context, rawURL string) string {
	if !f.isShortlink(rawURL) {
		return rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return rawURL
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("Failed to expand shortlink", slog.String("url", rawURL), slog.String("error", err.Error()))
		return rawURL
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return rawURL
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return rawURL
	}

	f.logger.Info("Expanded shortlink", slog.String("url", rawURL), slog.String("expanded", location))
	return location
}

func (f *Fetcher) isShortlink(rawURL string) bool {
	for _, host := range f.shortlinkHosts {
		if strings.Contains(rawURL, host) {
			return true
		}
	}
	return false
}

// isExtractionFailure reports whether yt-dlp's stderr points at the
// extractor rather than the transfer.
func isExtractionFailure(stderr string) bool {
	return strings.Contains(stderr, "Unsupported URL") ||
		strings.Contains(stderr, "Unable to extract")
}

// newestFile returns the most recently modified regular file in dir.
func newestFile(dir string) (string, int64, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false
	}

	var (
		path  string
		size  int64
		mtime time.Time
		found bool
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !found || info.ModTime().After(mtime) {
			path = filepath.Join(dir, entry.Name())
			size = info.Size()
			mtime = info.ModTime()
			found = true
		}
	}
	return path, size, found
}

// tail keeps the last lines of command output small enough to log.
func tail(output string) string {
	trimmed := strings.TrimSpace(output)
	if len(trimmed) <= 200 {
		return trimmed
	}
	return trimmed[len(trimmed)-200:]
}
