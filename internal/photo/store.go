// Package photo keeps contact photos as plain files below a single upload directory.
package photo

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
)

// Store saves and removes photo files in Dir. It holds no mutable state and is safe for concurrent
// use; distinct saves never share a file name.
type Store struct {
	Dir string
}

// New returns a store rooted at dir. The directory is created on the first save.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Save writes data to a new file named "<random id>_<original name>" and returns that name and the
// path of the file. The bytes are written to a temporary file first and renamed into place, so
// readers never observe a partially written photo.
func (s *Store) Save(originalName string, data []byte) (string, string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", "", &model.StorageError{Op: "save", Path: s.Dir, Err: err}
	}

	storedName := uuid.NewString() + "_" + cleanName(originalName)
	storedPath := filepath.Join(s.Dir, storedName)

	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", "", &model.StorageError{Op: "save", Path: storedPath, Err: err}
	}
	tmpName := tmp.Name()
	fail := func(err error) (string, string, error) {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", &model.StorageError{Op: "save", Path: storedPath, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", "", &model.StorageError{Op: "save", Path: storedPath, Err: err}
	}
	if err := os.Rename(tmpName, storedPath); err != nil {
		os.Remove(tmpName)
		return "", "", &model.StorageError{Op: "save", Path: storedPath, Err: err}
	}
	return storedName, storedPath, nil
}

// Delete removes the file at path. A missing file is not an error.
func (s *Store) Delete(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &model.StorageError{Op: "delete", Path: path, Err: err}
}

// Exists reports whether a regular file exists at path.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Open returns the file at path for reading. Paths outside of Dir are reported as not existing.
func (s *Store) Open(path string) (*os.File, error) {
	if !s.contains(path) {
		return nil, &model.StorageError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &model.StorageError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

// contains reports whether path lies inside the upload directory.
func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(filepath.Clean(s.Dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// cleanName strips any directory part a client may have sent along with the file name.
func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "photo"
	}
	return name
}
