// Package artifact handles what a run leaves on disk: the assertion file,
// written atomically, a canonical JSON snapshot of the catalog, and the
// drift check against a committed artifact.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File writes to a temporary sibling of the destination and renames it into
// place on Commit, so readers never observe a partial artifact.
type File struct {
	path string
	tmp  *os.File
	done bool
}

// Create opens a pending artifact for path. The parent directory is created
// if needed.
func Create(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	return &File{path: path, tmp: tmp}, nil
}

func (f *File) Write(p []byte) (int, error) {
	if f.done {
		return 0, os.ErrClosed
	}
	return f.tmp.Write(p)
}

// Path is the final destination.
func (f *File) Path() string { return f.path }

// Commit flushes the temporary file and renames it over the destination.
func (f *File) Commit() error {
	if f.done {
		return os.ErrClosed
	}
	f.done = true
	name := f.tmp.Name()
	if err := f.tmp.Sync(); err != nil {
		f.tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(name, f.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// Abort discards the pending content. It is a no-op after Commit, so it can
// be deferred unconditionally.
func (f *File) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	name := f.tmp.Name()
	err := f.tmp.Close()
	if rmErr := os.Remove(name); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return rmErr
	}
	return err
}
