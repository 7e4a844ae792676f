package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// MinDatabaseFreeBytes is the free space required next to the database.
const MinDatabaseFreeBytes int64 = 100 * 1024 * 1024

// DiskSpaceError reports a filesystem without enough free space.
type DiskSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, humanize.IBytes(uint64(e.Required)), humanize.IBytes(uint64(e.Available)))
}

// FreeSpace returns the bytes available to the process on the filesystem
// holding path. A path that does not exist yet is resolved to its nearest
// existing parent.
func FreeSpace(path string) (string, int64, error) {
	dir := existingDir(path)
	_, free, err := getDiskSpace(dir)
	if err != nil {
		return dir, 0, fmt.Errorf("disk space of %s: %w", dir, err)
	}
	return dir, free, nil
}

// CheckDiskSpace returns a *DiskSpaceError when the filesystem holding path
// has less than required bytes free.
func CheckDiskSpace(path string, required int64) error {
	dir, free, err := FreeSpace(path)
	if err != nil {
		return err
	}
	if free < required {
		return &DiskSpaceError{Path: dir, Required: required, Available: free}
	}
	return nil
}

func existingDir(path string) string {
	if path == "" {
		return "."
	}
	p := filepath.Clean(path)
	for {
		if info, err := os.Stat(p); err == nil {
			if info.IsDir() {
				return p
			}
			return filepath.Dir(p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
