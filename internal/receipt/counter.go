package receipt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ImageSequence names the sequence that numbers captured images
const ImageSequence = "images"

// Counter is a durable, strictly increasing sequence
type Counter interface {
	// Next advances the counter and returns the new value
	Next() (uint64, error)

	// Current returns the last value handed out, 0 if none
	Current() (uint64, error)

	// Raise moves the counter forward to floor; a higher value is left alone
	Raise(floor uint64) error
}

// FileCounter keeps the sequence as a decimal integer in a text file.
// Writes replace the file atomically; the mutex serializes callers in
// one process, concurrent processes sharing a file are not supported.
type FileCounter struct {
	mu   sync.Mutex
	path string
}

// NewFileCounter opens the counter at path, initializing it to 0 when absent
func NewFileCounter(path string) (*FileCounter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating counter directory: %w", err)
	}

	c := &FileCounter{path: path}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := c.write(0); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking counter file: %w", err)
	}
	return c, nil
}

// Next advances the counter and returns the new value
func (c *FileCounter) Next() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.read()
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := c.write(next); err != nil {
		return 0, err
	}
	return next, nil
}

// Current returns the last value handed out
func (c *FileCounter) Current() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

// Raise moves the counter forward to floor
func (c *FileCounter) Raise(floor uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.read()
	if err != nil {
		return err
	}
	if current >= floor {
		return nil
	}
	return c.write(floor)
}

func (c *FileCounter) read() (uint64, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading counter: %w", err)
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter file %s is corrupt: %w", c.path, err)
	}
	return value, nil
}

func (c *FileCounter) write(value uint64) error {
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".counter-*")
	if err != nil {
		return fmt.Errorf("creating temp counter file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatUint(value, 10)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing counter: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing counter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing counter: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing counter: %w", err)
	}
	return nil
}

// LedgerCounter keeps the sequence inside the ledger database, which
// makes it safe across processes sharing that database
type LedgerCounter struct {
	store SequenceStore
	name  string
}

// NewLedgerCounter creates a counter backed by the named ledger sequence
func NewLedgerCounter(store SequenceStore, name string) *LedgerCounter {
	return &LedgerCounter{store: store, name: name}
}

// Next advances the counter and returns the new value
func (c *LedgerCounter) Next() (uint64, error) {
	return c.store.NextSequence(c.name)
}

// Current returns the last value handed out
func (c *LedgerCounter) Current() (uint64, error) {
	return c.store.CurrentSequence(c.name)
}

// Raise moves the counter forward to floor
func (c *LedgerCounter) Raise(floor uint64) error {
	return c.store.RaiseSequence(c.name, floor)
}

// AlignCounter raises counter past the highest sequence already used by an
// image in storage, so a reset or replaced counter never collides with an
// existing file. It returns the counter's value afterwards.
func AlignCounter(counter Counter, storage *LocalStorage) (uint64, error) {
	highest, err := storage.HighestSequence()
	if err != nil {
		return 0, err
	}
	current, err := counter.Current()
	if err != nil {
		return 0, fmt.Errorf("reading counter: %w", err)
	}
	if current >= highest {
		return current, nil
	}
	if err := counter.Raise(highest); err != nil {
		return 0, fmt.Errorf("raising counter to %d: %w", highest, err)
	}
	slog.Warn("Image counter was behind stored images, raised it",
		"from", current,
		"to", highest,
	)
	return highest, nil
}
