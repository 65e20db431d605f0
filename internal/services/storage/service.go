// Package storage provides access to the storage root that holds snapshots.
package storage

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
)

// DirPerm is the permission used for the storage root and new snapshots.
const DirPerm = 0o755

// Service defines the interface for storage root operations.
type Service interface {
	Root() string
	FS() FS
	Ensure() error
	Entries() ([]models.Entry, error)
	Scan() (*Listing, error)
	CheckConsistency() error
	Commit(staged models.Snapshot) (models.Snapshot, error)
	Remove(name string) error
}

// Listing is a classified view of the storage root.
type Listing struct {
	Finished []models.Snapshot // sorted by id
	Staged   []models.Snapshot
	Other    []models.Entry // entries that are not snapshot directories
}

// Latest returns the finished snapshot with the greatest id strictly less
// than before, or nil.
func (l *Listing) Latest(before int64) *models.Snapshot {
	for i := len(l.Finished) - 1; i >= 0; i-- {
		if l.Finished[i].ID < before {
			snap := l.Finished[i]
			return &snap
		}
	}
	return nil
}

// Has reports whether a finished or staged snapshot uses id.
func (l *Listing) Has(id int64) bool {
	for _, s := range l.Finished {
		if s.ID == id {
			return true
		}
	}
	for _, s := range l.Staged {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Impl implements the storage Service interface.
type Impl struct {
	fs     FS
	root   string
	logger zerolog.Logger
}

// New creates a storage service for root backed by the OS filesystem.
func New(logger zerolog.Logger, root string) *Impl {
	return NewWithFS(logger, root, OSFS{})
}

// NewWithFS creates a storage service with a custom filesystem (for testing).
func NewWithFS(logger zerolog.Logger, root string, fsys FS) *Impl {
	return &Impl{
		fs:     fsys,
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Root returns the storage root path.
func (s *Impl) Root() string {
	return s.root
}

// FS returns the filesystem the service operates on.
func (s *Impl) FS() FS {
	return s.fs
}

// Ensure creates the storage root if it does not exist yet.
func (s *Impl) Ensure() error {
	info, err := s.fs.Lstat(s.root)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", models.ErrStorageUnavailable, s.root)
		}
		return nil
	}

	s.logger.Info().Str("root", s.root).Msg("creating storage root")
	if err := s.fs.MkdirAll(s.root, DirPerm); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}
	return nil
}

// Entries lists the direct children of the storage root sorted by name.
func (s *Impl) Entries() ([]models.Entry, error) {
	dirEntries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading storage root: %w", err)
	}

	entries := make([]models.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entries = append(entries, models.Entry{
			Name:  de.Name(),
			Path:  filepath.Join(s.root, de.Name()),
			IsDir: de.IsDir(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Scan classifies the storage root entries into finished snapshots, staged
// snapshots and everything else.
func (s *Impl) Scan() (*Listing, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}

	listing := &Listing{}
	for _, e := range entries {
		if models.IsStagedName(e.Name) {
			id, _ := models.ParseFinishedName(e.Name[:len(e.Name)-len(models.StagedSuffix)])
			listing.Staged = append(listing.Staged, models.Snapshot{ID: id, State: models.StateStaged, Path: e.Path})
			continue
		}
		if id, ok := models.ParseFinishedName(e.Name); ok && e.IsDir {
			listing.Finished = append(listing.Finished, models.Snapshot{ID: id, State: models.StateFinished, Path: e.Path})
			continue
		}
		listing.Other = append(listing.Other, e)
	}

	sort.Slice(listing.Finished, func(i, j int) bool { return listing.Finished[i].ID < listing.Finished[j].ID })
	sort.Slice(listing.Staged, func(i, j int) bool { return listing.Staged[i].ID < listing.Staged[j].ID })

	s.logger.Debug().
		Int("finished", len(listing.Finished)).
		Int("staged", len(listing.Staged)).
		Int("other", len(listing.Other)).
		Msg("storage root scanned")

	return listing, nil
}

// Path returns the absolute path of a storage root entry.
func (s *Impl) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Remove recursively deletes a storage root entry.
func (s *Impl) Remove(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("refusing to remove %q: not a direct child of the storage root", name)
	}
	return s.fs.RemoveAll(s.Path(name))
}
