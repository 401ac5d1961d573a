package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockStrategy is how concurrent writers of the master file are kept apart.
type LockStrategy string

const (
	// LockAdvisory serializes master writes and reloads with flock(2).
	LockAdvisory LockStrategy = "advisory"
	// LockCopyOnly relies on temp file + rename alone.
	LockCopyOnly LockStrategy = "copy-only"
)

const lockRetryDelay = 25 * time.Millisecond

// LockPath is the sidecar lock file for a cache file.
func LockPath(cachePath string) string {
	return cachePath + ".lock"
}

// DetectLockStrategy checks whether advisory locks work next to cachePath,
// creating the cache directory if needed. A lock currently held by someone
// else still counts as working. Call it once per process.
func DetectLockStrategy(cachePath string) LockStrategy {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		slog.Warn("advisory locking unavailable, using copy-only saves",
			"path", cachePath,
			"error", err,
		)
		return LockCopyOnly
	}
	fl := flock.New(LockPath(cachePath))
	_, err := fl.TryLock()
	if err != nil {
		slog.Warn("advisory locking unavailable, using copy-only saves",
			"path", cachePath,
			"error", err,
		)
		return LockCopyOnly
	}
	_ = fl.Unlock()
	slog.Info("cache lock strategy", "path", cachePath, "strategy", string(LockAdvisory))
	return LockAdvisory
}

// FileLock is an advisory lock on a cache file with a bounded wait.
type FileLock struct {
	fl      *flock.Flock
	timeout time.Duration
}

// NewFileLock returns nil for LockCopyOnly so callers can pass the result
// straight into Options.
func NewFileLock(cachePath string, strategy LockStrategy, timeout time.Duration) *FileLock {
	if strategy != LockAdvisory {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FileLock{fl: flock.New(LockPath(cachePath)), timeout: timeout}
}

// Lock takes the exclusive lock.
func (l *FileLock) Lock(ctx context.Context) (func(), error) {
	return l.acquire(ctx, l.fl.TryLockContext)
}

// RLock takes the shared lock.
func (l *FileLock) RLock(ctx context.Context) (func(), error) {
	return l.acquire(ctx, l.fl.TryRLockContext)
}

func (l *FileLock) acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := try(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("acquiring %s: not granted", l.fl.Path())
	}
	return func() {
		if err := l.fl.Unlock(); err != nil {
			slog.Warn("releasing cache lock failed", "path", l.fl.Path(), "error", err)
		}
	}, nil
}
