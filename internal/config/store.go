package config

import (
	"sync"
)

// Store holds the single live configuration of the process and handles
// thread-safe access to it. Reload replaces the instance wholesale.
// doc is the file as written; cfg is doc with environment overrides and is
// what callers see.
type Store struct {
	path  string
	mutex sync.RWMutex
	doc   *Config
	cfg   *Config
}

// NewStore loads the configuration at path into a new store
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// NewMemoryStore wraps an already built configuration. Updates are kept in
// memory only when path is empty.
func NewMemoryStore(cfg *Config, path string) *Store {
	if cfg == nil {
		cfg = Default()
	}
	return &Store{path: path, doc: cfg.Clone(), cfg: cfg.Clone()}
}

// Reload reads the configuration from disk and swaps it in
func (s *Store) Reload() error {
	doc, err := loadDocument(s.path)
	if err != nil {
		return err
	}
	cfg, err := effective(doc)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.doc = doc
	s.cfg = cfg
	s.mutex.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (s *Store) Get() *Config {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.cfg.Clone()
}

// Path returns the file backing the store
func (s *Store) Path() string {
	return s.path
}

// Paths returns the storage locations of the current configuration
func (s *Store) Paths() Paths {
	return ResolvePaths(s.Get(), s.path)
}

// Update applies fn to a copy of the file document, validates the result
// with environment overrides applied, writes the document to disk and only
// then makes it live. Overrides are never written.
func (s *Store) Update(fn func(cfg *Config)) (*Config, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	doc := s.doc.Clone()
	fn(doc)

	updated, err := effective(doc)
	if err != nil {
		return nil, err
	}

	if s.path != "" {
		if err := Save(doc, s.path); err != nil {
			return nil, err
		}
	}

	s.doc = doc
	s.cfg = updated
	return updated.Clone(), nil
}
