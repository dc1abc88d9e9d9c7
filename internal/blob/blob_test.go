package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "audio/abc123.wav", AudioKey("abc123"))
	assert.Equal(t, "transcripts/abc123.json", TranscriptKey("abc123"))
}

func TestFilesystem_PutGet(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := fs.Put(ctx, AudioKey("h1"), []byte("wav-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "audio/h1.wav", ref)

	got, err := fs.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("wav-bytes"), got)
}

func TestFilesystem_Overwrite(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.Put(ctx, "transcripts/h.json", []byte("v1"))
	require.NoError(t, err)
	ref, err := fs.Put(ctx, "transcripts/h.json", []byte("v2"))
	require.NoError(t, err)

	got, err := fs.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestFilesystem_GetMissing(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Get(context.Background(), "audio/missing.wav")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystem_RejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../outside", "/etc/passwd", "a/../../b", "."} {
		_, err := fs.Put(ctx, key, []byte("x"))
		assert.Errorf(t, err, "key %q should be rejected", key)
		_, err = fs.Get(ctx, key)
		assert.Errorf(t, err, "key %q should be rejected", key)
	}
}

func TestFilesystem_NoPartialFilesLeftBehind(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFilesystem(root)
	require.NoError(t, err)

	_, err = fs.Put(context.Background(), "audio/h.wav", []byte("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "audio"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h.wav", entries[0].Name())
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	data := []byte("payload")
	ref, err := m.Put(ctx, "audio/h.wav", data)
	require.NoError(t, err)
	assert.Equal(t, "audio/h.wav", ref)

	// Mutating the original slice must not affect the stored copy.
	data[0] = 'X'

	got, err := m.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
