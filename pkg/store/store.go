// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/routes"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the routes file inside the configuration directory.
	FileName = "routes.yaml"

	fileVersion = 1
)

// file is the on-disk layout of the routes file.
type file struct {
	Version int            `yaml:"version"`
	Routes  []routes.Route `yaml:"routes"`
}

// Store holds the routes of one routes file. Every mutation is validated
// and written back before it returns.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	routes []routes.Route
}

// Open loads the routes file at path. A missing file yields an empty store;
// the file is created on the first write.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the routes file path.
func (s *Store) Path() string {
	return s.path
}

// Reload replaces the in-memory routes with the file contents.
func (s *Store) Reload() error {
	rs, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.routes = rs
	s.mu.Unlock()
	return nil
}

// Load reads and validates the routes file at path.
func Load(path string) ([]routes.Route, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse routes file %s: %w", path, err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("routes file %s has unsupported version %d", path, f.Version)
	}
	for _, r := range f.Routes {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("routes file %s: %w", path, err)
		}
	}
	return f.Routes, nil
}

// List returns a copy of all routes in file order.
func (s *Store) List() []routes.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.routes)
}

// Get returns the route with id.
func (s *Store) Get(id string) (routes.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return routes.Route{}, notFound(id)
	}
	return s.routes[i], nil
}

// Add validates r and appends it.
func (s *Store) Add(r routes.Route) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index(r.ID) >= 0 {
		return fmt.Errorf("route %s already exists", r.ID)
	}
	return s.commit(append(slices.Clone(s.routes), r))
}

// Replace validates r and replaces the route with the same id.
func (s *Store) Replace(r routes.Route) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(r.ID)
	if i < 0 {
		return notFound(r.ID)
	}
	next := slices.Clone(s.routes)
	next[i] = r
	return s.commit(next)
}

// Remove deletes the route with id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return notFound(id)
	}
	return s.commit(slices.Delete(slices.Clone(s.routes), i, i+1))
}

// Toggle enables or disables the route with id.
func (s *Store) Toggle(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return notFound(id)
	}
	next := slices.Clone(s.routes)
	next[i].Enabled = enabled
	return s.commit(next)
}

// Save writes the current routes to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(s.routes)
}

func (s *Store) commit(next []routes.Route) error {
	if err := s.write(next); err != nil {
		return err
	}
	s.routes = next
	return nil
}

// write replaces the routes file atomically.
func (s *Store) write(rs []routes.Route) error {
	if rs == nil {
		rs = []routes.Route{}
	}
	data, err := yaml.Marshal(file{Version: fileVersion, Routes: rs})
	if err != nil {
		return fmt.Errorf("failed to encode routes: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write routes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write routes: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace routes file: %w", err)
	}

	s.logger.Debug("routes saved", slog.String("path", s.path), slog.Int("routes", len(rs)))
	return nil
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.routes, func(r routes.Route) bool { return r.ID == id })
}

func notFound(id string) error {
	return proxyerrors.Kind(proxyerrors.ErrNotFound, fmt.Errorf("id %s", id))
}
