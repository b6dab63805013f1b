// Package filex stages request bodies on local disk.
package filex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrTooLarge indicates the staged content exceeded its size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// EnsureDir creates dir and its parents if missing and returns its absolute
// path.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// Staged is a temp file holding one upload.
type Staged struct {
	Path string
	Size int64
}

// Stage copies at most limit bytes of r into a new temp file in dir. The file
// is removed again if staging fails.
func Stage(dir, pattern string, r io.Reader, limit int64) (*Staged, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	staged := &Staged{Path: f.Name()}

	n, copyErr := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = staged.Remove()
		return nil, fmt.Errorf("write temp file: %w", copyErr)
	case closeErr != nil:
		_ = staged.Remove()
		return nil, fmt.Errorf("close temp file: %w", closeErr)
	case n > limit:
		_ = staged.Remove()
		return nil, ErrTooLarge
	}

	staged.Size = n
	return staged, nil
}

// ReadAll returns the staged content.
func (s *Staged) ReadAll() ([]byte, error) {
	return os.ReadFile(s.Path)
}

// Open opens the staged file for reading.
func (s *Staged) Open() (*os.File, error) {
	return os.Open(s.Path)
}

// Remove deletes the staged file. Removing an already deleted file is not an
// error.
func (s *Staged) Remove() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.Path, err)
	}
	return nil
}
