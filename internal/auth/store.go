package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/platform"
)

// Store is a flat providerKey -> Credential mapping.
type Store interface {
	Load(key string) (Credential, bool, error)
	Save(key string, c Credential) error
	Clear(key string) error
	LoadAll() (map[string]Credential, error)
}

// FileStore persists credentials as a single JSON document. Reads take no
// lock: writes replace the file atomically so a reader sees either the old
// or the new document.
type FileStore struct {
	path string
	log  log.FieldLogger

	mu sync.Mutex
}

func NewFileStore(path string, logger log.FieldLogger) *FileStore {
	return &FileStore{path: path, log: logging.OrDiscard(logger)}
}

func NewDefaultStore(logger log.FieldLogger) (*FileStore, error) {
	path, err := platform.AuthFilePath()
	if err != nil {
		return nil, err
	}
	return NewFileStore(path, logger), nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(key string) (Credential, bool, error) {
	entries, err := s.readAll()
	if err != nil {
		return nil, false, err
	}
	raw, ok := entries[key]
	if !ok {
		return nil, false, nil
	}
	c, err := Decode(raw)
	if err != nil {
		s.log.WithField("key", key).Warnf("ignoring unreadable credential: %v", err)
		return nil, false, nil
	}
	return c, true, nil
}

func (s *FileStore) LoadAll() (map[string]Credential, error) {
	entries, err := s.readAll()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Credential, len(entries))
	for key, raw := range entries {
		c, err := Decode(raw)
		if err != nil {
			s.log.WithField("key", key).Warnf("ignoring unreadable credential: %v", err)
			continue
		}
		out[key] = c
	}
	return out, nil
}

func (s *FileStore) Save(key string, c Credential) error {
	encoded, err := Encode(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return err
	}
	entries[key] = encoded
	return s.writeAll(entries)
}

func (s *FileStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.writeAll(entries)
}

// readAll returns the raw entries. A missing file is empty; so is a corrupt
// one, which the next write replaces.
func (s *FileStore) readAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		s.log.WithField("path", s.path).Warn("credential file is not a JSON object, treating as empty")
		return map[string]json.RawMessage{}, nil
	}
	return entries, nil
}

func (s *FileStore) writeAll(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

// MemoryStore keeps encoded credentials in memory. Callers never share
// values with the store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Load(key string) (Credential, bool, error) {
	m.mu.Lock()
	raw, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	c, err := Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (m *MemoryStore) Save(key string, c Credential) error {
	encoded, err := Encode(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = encoded
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadAll() (map[string]Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Credential, len(m.entries))
	for key, raw := range m.entries {
		c, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		out[key] = c
	}
	return out, nil
}
