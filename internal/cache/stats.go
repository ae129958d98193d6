package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Stats summarizes what the cache currently holds.
type Stats struct {
	Entries   int
	TotalSize int64
}

// Stats walks the cache root and counts entries and bytes. A cache that
// does not exist yet is empty, not an error.
func (c *Cache) Stats() (Stats, error) {
	var stats Stats

	err := filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.Entries++
		stats.TotalSize += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return stats, nil
	}
	return stats, err
}

func (s Stats) String() string {
	return fmt.Sprintf("%d entries, %s", s.Entries, HumanBytes(s.TotalSize))
}

// HumanBytes renders a byte count with binary units.
func HumanBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
