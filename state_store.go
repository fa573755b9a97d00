package svcgroup

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// StateStore persists the group state between controller lifetimes
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// FileStateStore keeps the group state in a small text file.
// Writes are atomic, so a crash never leaves a torn state file behind.
type FileStateStore struct {
	// Path is the state file location
	Path string
}

// NewFileStateStore creates a FileStateStore for path
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{Path: path}
}

// Load reads the stored state. A missing file means Stopped.
func (s *FileStateStore) Load() (State, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return StateStopped, nil
	}
	if err != nil {
		return StateStopped, fmt.Errorf("reading state file: %w", err)
	}

	state, err := ParseState(string(bytes.TrimSpace(data)))
	if err != nil {
		return StateStopped, fmt.Errorf("state file %s: %w", s.Path, err)
	}
	return state, nil
}

// Save atomically replaces the state file
func (s *FileStateStore) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), DirMode); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := renameio.WriteFile(s.Path, []byte(state.String()+"\n"), FileMode); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// MemoryStateStore keeps the state in memory only
type MemoryStateStore struct {
	state State
}

// Load returns the last saved state
func (s *MemoryStateStore) Load() (State, error) {
	return s.state, nil
}

// Save records state
func (s *MemoryStateStore) Save(state State) error {
	s.state = state
	return nil
}
