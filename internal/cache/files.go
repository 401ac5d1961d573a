package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const backupTimeLayout = "20060102_150405"

func splitName(path string) (dir, stem, ext string) {
	dir = filepath.Dir(path)
	base := filepath.Base(path)
	ext = filepath.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	return dir, stem, ext
}

// WorkerFileName is the private cache file of worker id next to master.
func WorkerFileName(master string, id int) string {
	dir, stem, ext := splitName(master)
	return filepath.Join(dir, stem+"_worker_"+strconv.Itoa(id)+ext)
}

// WorkerFiles lists the worker files belonging to master, sorted by name.
func WorkerFiles(master string) ([]string, error) {
	dir, stem, ext := splitName(master)
	return listMatching(dir, stem+"_worker_", ext, func(middle string) bool {
		_, err := strconv.Atoi(middle)
		return err == nil
	})
}

// BackupFiles lists master's backups, oldest first.
func BackupFiles(master string) ([]string, error) {
	dir, stem, ext := splitName(master)
	if ext == "" {
		ext = ".json"
	}
	return listMatching(dir, stem+".backup_", ext, func(middle string) bool {
		_, err := time.Parse(backupTimeLayout, middle)
		return err == nil
	})
}

func listMatching(dir, prefix, suffix string, accept func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		middle := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if accept(middle) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// backupFile copies path to a timestamped sibling and prunes all but the
// newest keep backups. It returns "" when there is nothing to back up.
func backupFile(path string, keep int, now time.Time) (string, error) {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening %s for backup: %w", path, err)
	}
	defer src.Close()

	dir, stem, ext := splitName(path)
	if ext == "" {
		ext = ".json"
	}
	name := filepath.Join(dir, stem+".backup_"+now.Format(backupTimeLayout)+ext)
	dst, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("copying backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing backup: %w", err)
	}

	backups, err := BackupFiles(path)
	if err != nil {
		return name, err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil && !os.IsNotExist(err) {
			return name, fmt.Errorf("pruning backup: %w", err)
		}
		backups = backups[1:]
	}
	return name, nil
}

// writeAtomic writes data to a temp file in path's directory and renames it
// over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
