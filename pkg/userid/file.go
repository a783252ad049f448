// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package userid

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	dirPerms  = 0700
	filePerms = 0600
)

type fileDocument struct {
	UserIDs map[string]string `yaml:"user_ids"`
}

// FileStore keeps mappings in a YAML file. The file is rewritten atomically
// on every Put.
type FileStore struct {
	mu   sync.RWMutex
	path string
	ids  map[string]string
}

// NewFileStore opens the store at path. A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("userid: file store path cannot be empty")
	}
	s := &FileStore{path: path, ids: make(map[string]string)}

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("userid: read %s: %w", path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("userid: parse %s: %w", path, err)
	}
	if doc.UserIDs != nil {
		s.ids = doc.UserIDs
	}
	return s, nil
}

// Get implements Store.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[key]
	return id, ok, nil
}

// Put implements Store.
func (s *FileStore) Put(key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.ids)+1)
	for k, v := range s.ids {
		next[k] = v
	}
	next[key] = id
	if err := s.write(next); err != nil {
		return err
	}
	s.ids = next
	return nil
}

func (s *FileStore) write(ids map[string]string) error {
	data, err := yaml.Marshal(fileDocument{UserIDs: ids})
	if err != nil {
		return fmt.Errorf("userid: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("userid: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".userids-*.yaml")
	if err != nil {
		return fmt.Errorf("userid: write: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("userid: write: %w", err)
	}
	if err := tmp.Chmod(filePerms); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("userid: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("userid: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("userid: write: %w", err)
	}
	return nil
}
