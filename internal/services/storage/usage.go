package storage

import (
	"io/fs"
	"path/filepath"

	"github.com/fgeck/gosnap-homelab/internal/models"
)

// MeasureUsage walks path and counts how much of it is shared with other
// snapshots through hardlinks.
func MeasureUsage(path string) (models.Usage, error) {
	var u models.Usage
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		_, nlink, err := LinkInfo(p)
		if err != nil {
			return err
		}
		u.Files++
		u.Bytes += info.Size()
		if nlink > 1 {
			u.SharedFiles++
		} else {
			u.UniqueBytes += info.Size()
		}
		return nil
	})
	return u, err
}
