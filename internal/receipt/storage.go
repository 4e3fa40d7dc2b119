package receipt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrImageExists is returned when a save would overwrite a captured image
var ErrImageExists = errors.New("image already exists")

// Storage defines the interface for captured image storage
type Storage interface {
	// Save stores a new file and returns its name; existing files are never overwritten
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by name
	Get(filename string) ([]byte, error)
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes a file to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	name, err := cleanName(filename)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(filepath.Join(l.basePath, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("%w: %s", ErrImageExists, name)
	}
	if err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing file: %w", err)
	}
	return name, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(filename string) ([]byte, error) {
	name, err := cleanName(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.basePath, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: image %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// HighestSequence returns the largest n among stored images named "{n}.{ext}", 0 if none
func (l *LocalStorage) HighestSequence() (uint64, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return 0, fmt.Errorf("listing storage directory: %w", err)
	}
	var highest uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem, _, _ := strings.Cut(entry.Name(), ".")
		n, err := strconv.ParseUint(stem, 10, 64)
		if err != nil {
			continue
		}
		highest = max(highest, n)
	}
	return highest, nil
}

// cleanName keeps callers inside the storage directory
func cleanName(filename string) (string, error) {
	name := filepath.Base(filepath.Clean(filename))
	if name != filename || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", &ValidationError{Field: "filename", Value: filename, Message: "must be a plain file name"}
	}
	return name, nil
}
