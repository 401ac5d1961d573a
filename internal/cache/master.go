package cache

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/kiranshivaraju/fragility/pkg/models"
)

// MasterView is a read-only view of the master file for workers. It reloads
// whenever the file is replaced or its modification time or size changes.
type MasterView struct {
	path string
	lock *FileLock

	mu      sync.Mutex
	info    os.FileInfo
	entries map[string]*models.FragilityCurveResult
}

// NewMasterView returns a view of path. lock may be nil.
func NewMasterView(path string, lock *FileLock) *MasterView {
	return &MasterView{
		path:    path,
		lock:    lock,
		entries: make(map[string]*models.FragilityCurveResult),
	}
}

// Get refreshes the view if needed and returns a copy of code's entry.
func (v *MasterView) Get(ctx context.Context, code string) (*models.FragilityCurveResult, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refreshLocked(ctx)
	e, ok := v.entries[models.NormalizeKey(code)]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Len refreshes the view and returns its entry count.
func (v *MasterView) Len(ctx context.Context) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refreshLocked(ctx)
	return len(v.entries)
}

func (v *MasterView) refreshLocked(ctx context.Context) {
	info, err := os.Stat(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			v.entries = make(map[string]*models.FragilityCurveResult)
			v.info = nil
		}
		return
	}
	if prev := v.info; prev != nil && os.SameFile(prev, info) &&
		prev.ModTime().Equal(info.ModTime()) && prev.Size() == info.Size() {
		return
	}

	if v.lock != nil {
		unlock, err := v.lock.RLock(ctx)
		if err != nil {
			slog.Debug("master read without lock", "path", v.path, "error", err)
		} else {
			defer unlock()
		}
	}

	doc, err := readDocument(v.path)
	if err != nil {
		slog.Warn("master cache reload failed, keeping previous view",
			"path", v.path,
			"error", err,
		)
		return
	}
	if doc == nil {
		return
	}
	v.entries = doc.Entries
	v.info = info
}
