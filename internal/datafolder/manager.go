package datafolder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrFolderNotFound is returned by Get for unknown folder names
var ErrFolderNotFound = errors.New("data folder not found")

// Manager lists the data folders under a single root directory
type Manager struct {
	root string
}

// NewManager creates a manager for root
func NewManager(root string) *Manager {
	return &Manager{root: filepath.Clean(root)}
}

// Root returns the scanned directory
func (m *Manager) Root() string {
	return m.root
}

// List returns one folder per immediate subdirectory of the root, sorted by
// name. The root is created when missing.
func (m *Manager) List() ([]*Folder, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	folders := make([]*Folder, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		folders = append(folders, New(filepath.Join(m.root, entry.Name())))
	}
	return folders, nil
}

// Get resolves a folder by name
func (m *Manager) Get(name string) (*Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrFolderNotFound, name)
	}

	folder := New(filepath.Join(m.root, name))
	if !folder.Exists() {
		return nil, fmt.Errorf("%w: %q", ErrFolderNotFound, name)
	}
	return folder, nil
}
