package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Orzech99/matter.js/pkg/codec"
)

// fileFormatVersion is written into every snapshot.
const fileFormatVersion = 1

type fileSnapshot struct {
	Version  int                          `cbor:"1,keyasint"`
	Contexts map[string]map[string][]byte `cbor:"2,keyasint"`
}

// FileBackend is a Backend persisted to a single file.
// Every mutation rewrites the file atomically (temp file + rename).
type FileBackend struct {
	path string

	// writeMu orders mutation+flush pairs so snapshots hit the disk in order.
	writeMu sync.Mutex
	mem     *MemoryBackend
}

// OpenFileBackend loads path, or starts empty when it does not exist.
func OpenFileBackend(path string) (*FileBackend, error) {
	f := &FileBackend{path: path, mem: NewMemoryBackend()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}

	var snap fileSnapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	if snap.Version != fileFormatVersion {
		return nil, fmt.Errorf("storage: %s has unsupported version %d", path, snap.Version)
	}
	if snap.Contexts != nil {
		f.mem.data = snap.Contexts
	}
	return f, nil
}

// Get implements Backend.
func (f *FileBackend) Get(contexts []string, key string) ([]byte, error) {
	return f.mem.Get(contexts, key)
}

// Keys implements Backend.
func (f *FileBackend) Keys(contexts []string) ([]string, error) {
	return f.mem.Keys(contexts)
}

// Set implements Backend.
func (f *FileBackend) Set(contexts []string, key string, value []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.mem.Set(contexts, key, value); err != nil {
		return err
	}
	return f.flush()
}

// Delete implements Backend.
func (f *FileBackend) Delete(contexts []string, key string) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.mem.Delete(contexts, key); err != nil {
		return err
	}
	return f.flush()
}

// Clear implements Backend.
func (f *FileBackend) Clear(contexts []string) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.mem.Clear(contexts); err != nil {
		return err
	}
	return f.flush()
}

// Close implements Backend.
func (f *FileBackend) Close() error {
	return f.mem.Close()
}

func (f *FileBackend) flush() error {
	f.mem.mu.RLock()
	snap := fileSnapshot{Version: fileFormatVersion, Contexts: f.mem.snapshot()}
	f.mem.mu.RUnlock()

	data, err := codec.Marshal(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
