package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackupFile_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fragility_cache.json")
	if err := os.WriteFile(path, []byte(`{"version":"1.0"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	start := time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		if _, err := backupFile(path, 5, start.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("backup %d: %v", i, err)
		}
	}

	backups, err := BackupFiles(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 5 {
		t.Fatalf("expected 5 backups, got %d", len(backups))
	}
	wantOldest := filepath.Join(dir, "fragility_cache.backup_20250504_100003.json")
	if backups[0] != wantOldest {
		t.Errorf("oldest backup = %s, want %s", backups[0], wantOldest)
	}
}

func TestBackupFile_NothingToCopy(t *testing.T) {
	name, err := backupFile(filepath.Join(t.TempDir(), "missing.json"), 5, time.Now())
	if err != nil || name != "" {
		t.Errorf("expected no backup, got %q, %v", name, err)
	}
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	path := filepath.Join(dir, "c.json")
	if err := writeAtomic(path, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "c.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestDecodeDocument_NormalizesKeys(t *testing.T) {
	doc, err := decodeDocument([]byte(`{"cache_entries":{" sc-pre-3f-s ":{"archetype_code":"SC-PRE-3F-S","collapse_probabilities":{}},"RC-PRE-1F-S":null}}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Entries["SC-PRE-3F-S"]; !ok || len(doc.Entries) != 1 {
		t.Errorf("entries = %v", doc.Entries)
	}
}

// --- Locking ---

func TestDetectLockStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	if got := DetectLockStrategy(path); got != LockAdvisory {
		t.Errorf("strategy = %s, want %s", got, LockAdvisory)
	}
	if NewFileLock(path, LockCopyOnly, time.Second) != nil {
		t.Error("copy-only strategy must not produce a lock")
	}
}

func TestFileLock_ExclusiveTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	first := NewFileLock(path, LockAdvisory, time.Second)
	second := NewFileLock(path, LockAdvisory, 50*time.Millisecond)

	unlock, err := first.Lock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.Lock(context.Background()); err == nil {
		t.Fatal("expected second exclusive lock to time out")
	}
	if _, err := second.RLock(context.Background()); err == nil {
		t.Fatal("expected shared lock to wait for the writer")
	}

	unlock()
	release, err := second.Lock(context.Background())
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	release()
}
