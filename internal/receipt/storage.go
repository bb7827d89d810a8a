package receipt

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for receipt document storage. Uploaded
// documents are kept so a receipt can be reparsed later.
type Storage interface {
	// Save saves a document and returns the stored path
	Save(filename string, data []byte) (string, error)

	// Get retrieves a document by path
	Get(path string) ([]byte, error)

	// Delete removes a document
	Delete(path string) error
}

// LocalStorage implements Storage on the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the storage directory if it does not exist.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes a document to local storage.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

// Get retrieves a document from local storage.
func (l *LocalStorage) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, path))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a document from local storage.
func (l *LocalStorage) Delete(path string) error {
	if err := os.Remove(filepath.Join(l.basePath, path)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
