// Package storage keeps uploaded documents on local disk under a root
// directory. Keys are slash-separated paths relative to the root.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidExtension is returned for uploads that are not pdf or odt.
var ErrInvalidExtension = errors.New("storage: only pdf and odt files are allowed")

var allowedExtensions = map[string]bool{".pdf": true, ".odt": true}

// ValidateExtension checks the upload's file extension.
func ValidateExtension(filename string) error {
	if !allowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return ErrInvalidExtension
	}
	return nil
}

// Store is a directory-backed document store.
type Store struct {
	root string
}

// New creates a store rooted at root. The directory is created on first write.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("storage: empty key")
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Save writes r under key, or under key with a numeric suffix
// ("report_1.pdf") when key is taken. It returns the key used and never
// replaces an existing file.
func (s *Store) Save(key string, r io.Reader) (string, error) {
	p, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating folder for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	ext := path.Ext(key)
	stem := strings.TrimSuffix(key, ext)
	candidate := key
	for i := 1; ; i++ {
		cp, err := s.resolve(candidate)
		if err != nil {
			return "", err
		}
		// Link fails when the target exists, so two uploads never share a key.
		err = os.Link(tmp.Name(), cp)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("storing %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

// Open returns a reader for key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Exists reports whether key is stored.
func (s *Store) Exists(key string) bool {
	p, err := s.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Delete removes one file. A missing file is not an error.
func (s *Store) Delete(key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteFolder removes a folder and everything below it. A missing folder
// is not an error.
func (s *Store) DeleteFolder(prefix string) error {
	p, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
