package notes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StorageError reports a failed note write.
type StorageError struct {
	Filename string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("notes: save %q: %v", e.Filename, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SaveResult describes a written note file.
type SaveResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Filename     string `json:"filename"`
}

// LocalStorage writes notes under a single directory.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("notes: directory must not be empty")
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) Dir() string { return s.dir }

// Save writes content as a .txt file. Only the base name of filename is
// used, so callers cannot escape the storage directory.
func (s *LocalStorage) Save(filename, content string) (SaveResult, error) {
	name := strings.TrimSpace(strings.ReplaceAll(filename, `\`, "/"))
	name = filepath.Base(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return SaveResult{}, &StorageError{Filename: filename, Err: errors.New("invalid file name")}
	}
	if !strings.HasSuffix(strings.ToLower(name), ".txt") {
		name += ".txt"
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return SaveResult{}, &StorageError{Filename: name, Err: err}
	}
	path := filepath.Join(s.dir, name)
	data := []byte(content)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return SaveResult{}, &StorageError{Filename: name, Err: err}
	}
	return SaveResult{Path: path, BytesWritten: len(data), Filename: name}, nil
}
