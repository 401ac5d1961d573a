package cache

import (
	"context"
	"log/slog"
	"os"
)

// MergeStats summarizes one merge of worker files into the master.
type MergeStats struct {
	WorkerFilesFound int `json:"worker_files_found"`
	MergedFiles      int `json:"merged_files"`
	NewEntriesAdded  int `json:"new_entries_added"`
	EntriesUpdated   int `json:"entries_updated"`
	TotalEntries     int `json:"total_entries"`
}

// Merge folds every worker file of master into it. An entry is installed
// when its code is absent or its timestamp is strictly newer than the
// master's. Unreadable worker files are skipped. The master is saved only
// when something changed.
func Merge(ctx context.Context, master *FileCache) (MergeStats, error) {
	var stats MergeStats

	files, err := WorkerFiles(master.Path())
	if err != nil {
		return stats, err
	}
	stats.WorkerFilesFound = len(files)

	for _, path := range files {
		doc, err := readDocument(path)
		if err != nil {
			slog.Warn("skipping unreadable worker cache", "path", path, "error", err)
			continue
		}
		if doc == nil {
			continue
		}

		master.mu.Lock()
		for key, entry := range doc.Entries {
			e := entry.Clone()
			e.ArchetypeCode = key
			switch master.putLocked(e) {
			case putAdded:
				stats.NewEntriesAdded++
			case putReplaced:
				stats.EntriesUpdated++
			}
		}
		master.mu.Unlock()
		stats.MergedFiles++
	}

	stats.TotalEntries = master.Len()
	if stats.NewEntriesAdded+stats.EntriesUpdated > 0 {
		if err := master.Save(ctx); err != nil {
			return stats, err
		}
	}

	slog.Info("worker caches merged",
		"worker_files", stats.WorkerFilesFound,
		"merged_files", stats.MergedFiles,
		"new_entries", stats.NewEntriesAdded,
		"updated_entries", stats.EntriesUpdated,
		"total_entries", stats.TotalEntries,
	)
	return stats, nil
}

// CleanupWorkerFiles deletes master's worker files and returns how many were
// removed. Failures are logged and skipped.
func CleanupWorkerFiles(master string) int {
	files, err := WorkerFiles(master)
	if err != nil {
		slog.Warn("listing worker caches failed", "master", master, "error", err)
		return 0
	}
	removed := 0
	for _, path := range files {
		if err := os.Remove(path); err != nil {
			slog.Warn("removing worker cache failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
