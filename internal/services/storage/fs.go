package storage

import (
	"os"
)

// FS is the set of filesystem primitives the snapshot lifecycle needs.
// OSFS is the production implementation; tests wrap it to inject failures.
type FS interface {
	Mkdir(path string, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	Lstat(path string) (os.FileInfo, error)
	Rename(oldPath, newPath string) error
	RemoveAll(path string) error
	Link(oldPath, newPath string) error
	Symlink(target, path string) error
	Readlink(path string) (string, error)
}

// OSFS implements FS on the local operating system.
type OSFS struct{}

func (OSFS) Mkdir(path string, perm os.FileMode) error    { return os.Mkdir(path, perm) }
func (OSFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFS) ReadDir(path string) ([]os.DirEntry, error)   { return os.ReadDir(path) }
func (OSFS) Lstat(path string) (os.FileInfo, error)       { return os.Lstat(path) }
func (OSFS) Rename(oldPath, newPath string) error         { return os.Rename(oldPath, newPath) }
func (OSFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (OSFS) Link(oldPath, newPath string) error           { return os.Link(oldPath, newPath) }
func (OSFS) Symlink(target, path string) error            { return os.Symlink(target, path) }
func (OSFS) Readlink(path string) (string, error)         { return os.Readlink(path) }
