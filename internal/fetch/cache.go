package fetch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/couchcryptid/venue-sync/internal/domain"
)

// Entry is one cached lookup result: a deterministic key derived from the
// query parameters mapped to the validated response body. Entries are
// append-only and never invalidated; repeated runs never re-issue a query
// that already has a slot.
type Entry struct {
	Key      string          `json:"key"`
	Body     json.RawMessage `json:"body"`
	CachedAt time.Time       `json:"cached_at"`
}

// Cache is a persistent key -> response cache backed by a newline-delimited
// JSON file. Reads are served from an in-memory map; writes go through a
// single-owner writer goroutine so concurrent lookups never interleave lines
// in the file.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	writes chan Entry
	done   chan struct{}
	file   *os.File
	logger *slog.Logger
}

// OpenCache loads the cache file at path and starts the writer. A missing
// file is an empty cache; unreadable or malformed lines are skipped with a
// warning so a torn trailing write never poisons a run.
func OpenCache(path string, logger *slog.Logger) (*Cache, error) {
	entries, err := loadEntries(path, logger)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}

	c := &Cache{
		entries: entries,
		writes:  make(chan Entry, 256),
		done:    make(chan struct{}),
		file:    file,
		logger:  logger,
	}
	go c.writeLoop()

	logger.Info("cache loaded", "path", path, "entries", len(entries))
	return c, nil
}

func loadEntries(path string, logger *slog.Logger) (map[string]Entry, error) {
	entries := make(map[string]Entry)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil || e.Key == "" {
			logger.Warn("skipping malformed cache line", "path", path, "line", line)
			continue
		}
		entries[e.Key] = e
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan cache file: %w", err)
	}

	return entries, nil
}

// Get returns the cached body for key, if present.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e.Body, ok
}

// Put stores body under key in memory and enqueues the append to the cache
// file. The in-memory map is updated before Put returns, so a second lookup
// for the same key hits the cache even if the file write is still queued.
func (c *Cache) Put(key string, body json.RawMessage) {
	e := Entry{Key: key, Body: body, CachedAt: domain.Now()}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	c.writes <- e
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close drains pending writes and closes the cache file.
func (c *Cache) Close() error {
	close(c.writes)
	<-c.done
	return c.file.Close()
}

// writeLoop is the single owner of the cache file handle. It serializes
// appends without any lock on the lookup path.
func (c *Cache) writeLoop() {
	defer close(c.done)

	enc := json.NewEncoder(c.file)
	for e := range c.writes {
		if err := enc.Encode(e); err != nil {
			c.logger.Warn("cache append failed", "key", e.Key, "error", err)
		}
	}
}
