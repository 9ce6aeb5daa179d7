package storage

import (
	"os"
	"path/filepath"
)

// Paths lists the files a backend keeps on disk for the given database path,
// including SQLite's write-ahead log and shared memory files.
func Paths(backend, path string) []string {
	switch backend {
	case BackendSQLite:
		return []string{path, path + "-wal", path + "-shm"}
	case BackendBadger:
		return []string{path}
	default:
		return nil
	}
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
