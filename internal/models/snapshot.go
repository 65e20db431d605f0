package models

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// StagedSuffix marks a snapshot directory that has not been committed yet.
const StagedSuffix = ".staged"

// SnapshotState is the lifecycle state of a snapshot directory.
type SnapshotState int

// Snapshot states.
const (
	StateStaged SnapshotState = iota
	StateFinished
)

func (s SnapshotState) String() string {
	if s == StateStaged {
		return "staged"
	}
	return "finished"
}

// Snapshot is a snapshot directory under the storage root.
type Snapshot struct {
	ID    int64
	State SnapshotState
	Path  string
}

// Time returns the creation time encoded in the snapshot id.
func (s Snapshot) Time() time.Time {
	return time.Unix(s.ID, 0)
}

// Name returns the directory name of the snapshot.
func (s Snapshot) Name() string {
	if s.State == StateStaged {
		return StagedName(s.ID)
	}
	return FinishedName(s.ID)
}

// FinishedName returns the directory name of a committed snapshot.
func FinishedName(id int64) string {
	return strconv.FormatInt(id, 10)
}

// StagedName returns the directory name of a snapshot under construction.
func StagedName(id int64) string {
	return FinishedName(id) + StagedSuffix
}

// ParseFinishedName parses a committed snapshot name. Only plain decimal
// digits are accepted so names like "+12" or "0x10" stay unparseable.
func ParseFinishedName(name string) (int64, bool) {
	if name == "" || !isDigits(name) {
		return 0, false
	}
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsStagedName reports whether name follows the staged snapshot convention.
func IsStagedName(name string) bool {
	if !strings.HasSuffix(name, StagedSuffix) {
		return false
	}
	_, ok := ParseFinishedName(strings.TrimSuffix(name, StagedSuffix))
	return ok
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Entry is a direct child of the storage root.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
}

// SourceMount is a resolved backup source and its location inside a snapshot.
type SourceMount struct {
	Configured string // path as written in the configuration
	Resolved   string // absolute path with symlinks evaluated
	Subpath    string // relative path inside the snapshot
}

// MountSubpath derives the location of a resolved source inside a snapshot,
// e.g. /home/user becomes home/user.
func MountSubpath(resolved string) string {
	clean := filepath.Clean(resolved)
	if vol := filepath.VolumeName(clean); vol != "" {
		clean = strings.TrimSuffix(vol, ":") + clean[len(vol):]
	}
	return strings.TrimLeft(clean, string(filepath.Separator))
}

// Classification is the retention decision for a finished entry.
type Classification int

// Retention classifications.
const (
	ClassCurrent Classification = iota
	ClassOutdated
	ClassUnparseable
)

func (c Classification) String() string {
	switch c {
	case ClassOutdated:
		return "outdated"
	case ClassUnparseable:
		return "unparseable"
	default:
		return "current"
	}
}

// RetentionDecision is the classification of one storage root entry.
type RetentionDecision struct {
	Entry Entry
	ID    int64 // zero for unparseable entries
	Class Classification
	Age   time.Duration
}

// RemovalFailure records an outdated snapshot that could not be removed.
type RemovalFailure struct {
	Name string
	Err  error
}

// RetentionResult holds the outcome of a retention pass.
type RetentionResult struct {
	Current     []string
	Outdated    []string // removed successfully
	Unparseable []string
	Failures    []RemovalFailure
	Duration    time.Duration
}

// CloneResult holds the outcome of staging a new snapshot.
type CloneResult struct {
	Staged   Snapshot
	Previous *Snapshot // nil on a first run
	Dirs     int
	Files    int
	Symlinks int
	Skipped  int // special files that cannot be hardlinked portably
	Duration time.Duration
}

// SyncResult holds the outcome of mirroring one source into a snapshot.
type SyncResult struct {
	Source           string
	Dest             string
	FilesTransferred int
	BytesTransferred int64
	Deleted          int
	Duration         time.Duration
	Output           string
	Error            error
}

// Usage summarises the regular files of a snapshot tree.
type Usage struct {
	Files       int
	Bytes       int64 // apparent size
	SharedFiles int   // files with more than one hardlink
	UniqueBytes int64 // bytes held only by this tree
}
