package fetch

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenCache_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	c, err := OpenCache(path, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 0, c.Len())
}

func TestOpenCache_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	content := `{"key":"a|nantes|","body":{"ok":1},"cached_at":"2026-01-02T03:04:05Z"}
not json at all
{"no_key_field":true}
{"key":"b|nantes|44000","body":{"ok":2},"cached_at":"2026-01-02T03:04:06Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := OpenCache(path, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 2, c.Len())

	body, ok := c.Get("a|nantes|")
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":1}`, string(body))
}

func TestCache_PutPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	c, err := OpenCache(path, discardLogger())
	require.NoError(t, err)

	c.Put("k1", json.RawMessage(`{"features":[]}`))

	// Visible in memory immediately, before the writer drains.
	body, ok := c.Get("k1")
	require.True(t, ok)
	assert.JSONEq(t, `{"features":[]}`, string(body))

	require.NoError(t, c.Close())

	// A fresh cache reads the appended line back.
	c2, err := OpenCache(path, discardLogger())
	require.NoError(t, err)
	defer c2.Close()

	body, ok = c2.Get("k1")
	require.True(t, ok)
	assert.JSONEq(t, `{"features":[]}`, string(body))
}

func TestCache_AppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")

	c, err := OpenCache(path, discardLogger())
	require.NoError(t, err)
	c.Put("k1", json.RawMessage(`{"v":1}`))
	c.Put("k2", json.RawMessage(`{"v":2}`))
	require.NoError(t, c.Close())

	c2, err := OpenCache(path, discardLogger())
	require.NoError(t, err)
	c2.Put("k3", json.RawMessage(`{"v":3}`))
	require.NoError(t, c2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Three lines, earlier entries untouched.
	var keys []string
	for _, line := range splitLines(data) {
		var e Entry
		require.NoError(t, json.Unmarshal(line, &e))
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys)
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
