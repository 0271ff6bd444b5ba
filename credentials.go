package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// CredentialStore holds pairing keys granted by televisions, keyed by
// address. It is opened once per process and reused across sequential
// switch actions; only a fresh pairing writes to it.
type CredentialStore struct {
	path string

	mu   sync.Mutex
	keys map[string]string
}

func openCredentialStore(path string) (*CredentialStore, error) {
	s := &CredentialStore{path: path, keys: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &s.keys); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return s, nil
}

// Key returns the stored pairing key for addr, or "" if none is known.
func (s *CredentialStore) Key(addr string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[addr]
}

// SetKey stores a newly granted pairing key and persists the store.
func (s *CredentialStore) SetKey(addr, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[addr] == key {
		return nil
	}
	s.keys[addr] = key

	data, err := json.MarshalIndent(s.keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
