// Package cache persists fragility results keyed by archetype code in a
// JSON file. The scheduler owns a master file; each worker writes its own
// file, which is merged into the master periodically.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// Role decides whether saves take backups.
type Role int

const (
	RoleMaster Role = iota
	RoleWorker
)

func (r Role) String() string {
	if r == RoleWorker {
		return "worker"
	}
	return "master"
}

// Options configures a FileCache. Zero values take the defaults; a negative
// Backups disables backups.
type Options struct {
	Role           Role
	Backups        int
	LoadRetries    int
	LoadRetryDelay time.Duration
	Lock           *FileLock
}

const (
	defaultBackups        = 5
	defaultLoadRetries    = 3
	defaultLoadRetryDelay = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Backups == 0 {
		o.Backups = defaultBackups
	}
	if o.LoadRetries <= 0 {
		o.LoadRetries = defaultLoadRetries
	}
	if o.LoadRetryDelay <= 0 {
		o.LoadRetryDelay = defaultLoadRetryDelay
	}
	return o
}

// FileCache is one cache file held in memory.
type FileCache struct {
	path string
	opts Options

	mu        sync.RWMutex
	entries   map[string]*models.FragilityCurveResult
	createdAt time.Time
	extra     map[string]json.RawMessage
	hits      int64
	misses    int64
}

// Open loads path. A missing file starts an empty cache. A file that stays
// undecodable after the configured retries is logged and replaced by an
// empty cache on the next save.
func Open(path string, opts Options) (*FileCache, error) {
	opts = opts.withDefaults()
	c := &FileCache{
		path:      path,
		opts:      opts,
		entries:   make(map[string]*models.FragilityCurveResult),
		createdAt: time.Now().UTC(),
	}

	var (
		doc *document
		err error
	)
	for attempt := 1; attempt <= opts.LoadRetries; attempt++ {
		doc, err = readDocument(path)
		if err == nil || !errors.Is(err, ErrCorrupt) {
			break
		}
		if attempt < opts.LoadRetries {
			time.Sleep(opts.LoadRetryDelay)
		}
	}
	switch {
	case errors.Is(err, ErrCorrupt):
		slog.Warn("cache file unreadable, starting empty",
			"path", path,
			"role", opts.Role.String(),
			"attempts", opts.LoadRetries,
			"error", err,
		)
		return c, nil
	case err != nil:
		return nil, err
	case doc == nil:
		return c, nil
	}

	c.entries = doc.Entries
	if !doc.CreatedAt.IsZero() {
		c.createdAt = doc.CreatedAt
	}
	c.extra = doc.extra
	c.hits = doc.Statistics.CacheHits
	c.misses = doc.Statistics.CacheMisses
	slog.Debug("cache loaded", "path", path, "role", opts.Role.String(), "entries", len(c.entries))
	return c, nil
}

// Path returns the file backing the cache.
func (c *FileCache) Path() string {
	return c.path
}

// Get returns a copy of the entry for code and counts a hit or miss.
func (c *FileCache) Get(code string) (*models.FragilityCurveResult, bool) {
	key := models.NormalizeKey(code)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.Clone(), true
}

// Has reports whether code is cached without touching the counters.
func (c *FileCache) Has(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[models.NormalizeKey(code)]
	return ok
}

// Put stores a copy of result unless the cache already holds an entry for
// the same code that is at least as recent. It reports whether the entry
// was installed. A result without a timestamp is stamped with the current
// time.
func (c *FileCache) Put(result *models.FragilityCurveResult) bool {
	if result == nil {
		return false
	}
	entry := result.Clone()
	entry.ArchetypeCode = models.NormalizeKey(entry.ArchetypeCode)
	if entry.ComputedAt.IsZero() {
		entry.ComputedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(entry) != putIgnored
}

type putOutcome int

const (
	putIgnored putOutcome = iota
	putAdded
	putReplaced
)

func (c *FileCache) putLocked(entry *models.FragilityCurveResult) putOutcome {
	existing, ok := c.entries[entry.ArchetypeCode]
	switch {
	case !ok:
		c.entries[entry.ArchetypeCode] = entry
		return putAdded
	case entry.NewerThan(existing):
		c.entries[entry.ArchetypeCode] = entry
		return putReplaced
	default:
		return putIgnored
	}
}

// Remove deletes code and reports whether it was present.
func (c *FileCache) Remove(code string) bool {
	key := models.NormalizeKey(code)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached codes in sorted order.
func (c *FileCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns copies of every entry keyed by code.
func (c *FileCache) Entries() map[string]*models.FragilityCurveResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*models.FragilityCurveResult, len(c.entries))
	for k, v := range c.entries {
		out[k] = v.Clone()
	}
	return out
}

// AddCounts folds hit and miss counts gathered elsewhere, such as by
// workers, into this cache's statistics.
func (c *FileCache) AddCounts(hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits += hits
	c.misses += misses
}

func (c *FileCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statsLocked()
}

func (c *FileCache) statsLocked() Stats {
	s := Stats{
		TotalEntries:  len(c.entries),
		CacheHits:     c.hits,
		CacheMisses:   c.misses,
		TotalRequests: c.hits + c.misses,
		LastUpdated:   time.Now().UTC(),
	}
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.CacheHits) / float64(s.TotalRequests)
	}
	return s
}

// CleanupOlderThan drops entries computed more than maxAge ago and returns
// how many were removed.
func (c *FileCache) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.ComputedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("expired cache entries removed", "path", c.path, "removed", removed, "max_age", maxAge.String())
	}
	return removed
}

// Save writes the cache atomically. A master first copies the current file
// to a timestamped backup. If the advisory lock cannot be taken in time the
// write goes ahead without it; the rename still never exposes a partial file.
func (c *FileCache) Save(ctx context.Context) error {
	c.mu.RLock()
	doc := &document{
		Version:    FormatVersion,
		CreatedAt:  c.createdAt,
		Entries:    c.entries,
		Statistics: c.statsLocked(),
		extra:      c.extra,
	}
	data, err := doc.encode()
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	if c.opts.Lock != nil {
		unlock, err := c.opts.Lock.Lock(ctx)
		if err != nil {
			slog.Warn("cache lock unavailable, saving without it",
				"path", c.path,
				"error", err,
			)
		} else {
			defer unlock()
		}
	}

	if c.opts.Role == RoleMaster && c.opts.Backups > 0 {
		if name, err := backupFile(c.path, c.opts.Backups, time.Now()); err != nil {
			slog.Warn("cache backup failed", "path", c.path, "error", err)
		} else if name != "" {
			slog.Debug("cache backup written", "backup", name)
		}
	}

	return writeAtomic(c.path, data)
}

// FileSize returns the size of the backing file, or 0 when it is absent.
func (c *FileCache) FileSize() int64 {
	info, err := os.Stat(c.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
