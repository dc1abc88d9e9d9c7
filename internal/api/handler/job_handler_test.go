package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/mediascribe/internal/alias"
	"github.com/cuongbtq/mediascribe/internal/api/dto"
	"github.com/cuongbtq/mediascribe/internal/api/handler"
	"github.com/cuongbtq/mediascribe/internal/api/router"
	"github.com/cuongbtq/mediascribe/internal/blob"
	"github.com/cuongbtq/mediascribe/internal/domain"
	"github.com/cuongbtq/mediascribe/internal/service"
	"github.com/cuongbtq/mediascribe/internal/store"
)

type apiEnv struct {
	store   *store.Memory
	blobs   *blob.Memory
	aliases *alias.Memory
	router  *gin.Engine
}

func newAPIEnv(t *testing.T, opts ...func(*handler.Dependencies, *router.Config)) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	blobs := blob.NewMemory()
	aliases := alias.NewMemory(0)
	svc := service.NewService(&service.Config{
		Logger:  logger,
		Store:   st,
		Aliases: aliases,
		Blobs:   blobs,
	})

	deps := &handler.Dependencies{
		Logger:  logger,
		Service: svc,
	}
	cfg := &router.Config{}
	for _, opt := range opts {
		opt(deps, cfg)
	}

	return &apiEnv{
		store:   st,
		blobs:   blobs,
		aliases: aliases,
		router:  router.SetupRouter(deps, cfg),
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) dto.JobResponse {
	t.Helper()
	var resp dto.JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// seedCompleted inserts a COMPLETE job whose transcript really exists in the
// blob store.
func seedCompleted(t *testing.T, env *apiEnv, url, hash, text string) *domain.Job {
	t.Helper()
	ctx := context.Background()

	doc := domain.TranscriptDoc{
		Text:        text,
		SourceURL:   url,
		ContentHash: hash,
		CreatedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	transcriptRef, err := env.blobs.Put(ctx, blob.TranscriptKey(hash), raw)
	require.NoError(t, err)
	audioRef, err := env.blobs.Put(ctx, blob.AudioKey(hash), []byte("wav"))
	require.NoError(t, err)

	job, err := env.store.InsertJob(ctx, store.NewJob{
		Status:     domain.JobStatusPending,
		RequestURL: url,
	})
	require.NoError(t, err)
	require.NoError(t, env.store.SetContentHash(ctx, job.ID, hash))
	require.NoError(t, env.store.SetArtifactRefs(ctx, job.ID, &audioRef, &transcriptRef))
	require.NoError(t, env.store.UpdateStatus(ctx, job.ID, domain.JobStatusComplete))

	job, err = env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return job
}

func TestSubmitTranscription(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/transcriptions", gin.H{
		"url": "https://www.tiktok.com/@user/video/123",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decodeJob(t, rec)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, string(domain.JobStatusPending), resp.Status)
	assert.Equal(t, "https://www.tiktok.com/@user/video/123", resp.RequestURL)
	assert.False(t, resp.CacheHit)
}

func TestSubmitTranscription_InvalidBody(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/transcriptions", gin.H{"video": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTranscription_InvalidURL(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/transcriptions", gin.H{"url": "ftp://example.com/clip"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTranscription_IdempotencyKey(t *testing.T) {
	env := newAPIEnv(t)

	first := env.do(t, http.MethodPost, "/api/v1/transcriptions", gin.H{
		"url":             "https://www.tiktok.com/@user/video/123",
		"idempotency_key": "req-1",
	})
	require.Equal(t, http.StatusAccepted, first.Code)

	second := env.do(t, http.MethodPost, "/api/v1/transcriptions", gin.H{
		"url":             "https://www.tiktok.com/@user/video/123",
		"idempotency_key": "req-1",
	})
	require.Equal(t, http.StatusOK, second.Code, "replayed submissions return the prior job")

	assert.Equal(t, decodeJob(t, first).JobID, decodeJob(t, second).JobID)
}

func TestGetTranscription(t *testing.T) {
	env := newAPIEnv(t)

	submitted := decodeJob(t, env.do(t, http.MethodPost, "/api/v1/transcriptions", gin.H{
		"url": "https://www.tiktok.com/@user/video/123",
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/transcriptions/"+submitted.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJob(t, rec)
	assert.Equal(t, submitted.JobID, resp.JobID)
	assert.Equal(t, string(domain.JobStatusPending), resp.Status)
	assert.Empty(t, resp.ErrorCode)
}

func TestGetTranscription_NotFound(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/transcriptions/0b695b4f-93ef-4be0-a36f-93aa5571d733", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTranscription_InvalidID(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/transcriptions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTranscription_FailedJobCarriesError(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	job, err := env.store.InsertJob(ctx, store.NewJob{
		Status:     domain.JobStatusPending,
		RequestURL: "https://www.tiktok.com/@user/video/9",
	})
	require.NoError(t, err)
	require.NoError(t, env.store.MarkFailed(ctx, job.ID, domain.CodeMediaTooLong))

	resp := decodeJob(t, env.do(t, http.MethodGet, "/api/v1/transcriptions/"+job.ID, nil))
	assert.Equal(t, string(domain.JobStatusFailed), resp.Status)
	assert.Equal(t, string(domain.CodeMediaTooLong), resp.ErrorCode)
	assert.NotEmpty(t, resp.ErrorMessage)
	require.NotNil(t, resp.Retryable)
	assert.False(t, *resp.Retryable, "a policy rejection is not retryable")
}

func TestGetTranscript(t *testing.T) {
	env := newAPIEnv(t)
	job := seedCompleted(t, env, "https://www.tiktok.com/@user/video/5", "hash-5", "hello transcript")

	rec := env.do(t, http.MethodGet, "/api/v1/transcriptions/"+job.ID+"/transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dto.TranscriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.JobID)
	assert.Equal(t, "hello transcript", resp.Text)
	assert.Equal(t, "hash-5", resp.ContentHash)
	assert.Equal(t, "https://www.tiktok.com/@user/video/5", resp.SourceURL)
}

func TestGetTranscript_NotReady(t *testing.T) {
	env := newAPIEnv(t)

	submitted := decodeJob(t, env.do(t, http.MethodPost, "/api/v1/transcriptions", gin.H{
		"url": "https://www.tiktok.com/@user/video/123",
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/transcriptions/"+submitted.JobID+"/transcript", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListTranscriptions_Pagination(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.store.InsertJob(ctx, store.NewJob{
			Status:     domain.JobStatusPending,
			RequestURL: fmt.Sprintf("https://www.tiktok.com/@user/video/%d", i),
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	var pages [][]dto.JobResponse
	cursor := ""
	for {
		path := "/api/v1/transcriptions?page_size=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		rec := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		pages = append(pages, resp.Jobs)
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	require.Len(t, pages, 3)
	assert.Len(t, pages[0], 2)
	assert.Len(t, pages[1], 2)
	assert.Len(t, pages[2], 1)

	// Newest-first across pages, no repeats.
	seen := make(map[string]bool)
	var all []dto.JobResponse
	for _, page := range pages {
		for _, job := range page {
			require.False(t, seen[job.JobID], "job repeated across pages")
			seen[job.JobID] = true
			all = append(all, job)
		}
	}
	require.Len(t, all, 5)
	assert.Equal(t, "https://www.tiktok.com/@user/video/4", all[0].RequestURL)
	assert.Equal(t, "https://www.tiktok.com/@user/video/0", all[4].RequestURL)
}

func TestListTranscriptions_InvalidCursor(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/transcriptions?cursor=%21%21not-base64%21%21", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestSubmitTranscription_RateLimited(t *testing.T) {
	env := newAPIEnv(t, func(deps *handler.Dependencies, cfg *router.Config) {
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 2
	})

	body := gin.H{"url": "https://www.tiktok.com/@user/video/123"}
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/v1/transcriptions", body).Code)
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/v1/transcriptions", body).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/transcriptions", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
}
