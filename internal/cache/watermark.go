package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TemplateWatermark returns the newest modification time among the given
// directory trees (directories included, so deletions register) and the
// individual files. Missing roots and files are ignored.
func TemplateWatermark(dirs, files []string) (time.Time, error) {
	var latest time.Time
	bump := func(t time.Time) {
		if t.After(latest) {
			latest = t
		}
	}
	for _, root := range dirs {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && path == root {
					return fs.SkipAll
				}
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			bump(info.ModTime())
			return nil
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return time.Time{}, fmt.Errorf("stat %s: %w", f, err)
		}
		bump(info.ModTime())
	}
	return latest, nil
}
