package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type (
	// Store persists at most one bearer token across app restarts.
	// Absence of a value is not an error; implementations never fail:
	// a broken storage layer degrades to in-memory-only operation for the
	// current process lifetime.
	Store interface {
		// Get returns the currently stored token, or "" if none is stored.
		Get() string
		// Set persists the token, overwriting any previous value.
		// An empty token removes the stored value. Idempotent.
		Set(token string)
	}

	// MemStore keeps the token in memory only.
	MemStore struct {
		mu    sync.Mutex
		token string
	}

	// FileStore keeps the token in a single file, the terminal analogue of
	// a browser's per-origin storage slot.
	FileStore struct {
		mu       sync.Mutex
		path     string
		mem      string
		degraded bool // storage failed; serve from memory from now on
	}
)

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*FileStore)(nil)
)

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *MemStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// NewFileStore returns a FileStore persisting at path.
// An empty path resolves to <UserConfigDir>/fluency/token; if no config dir
// can be determined the store runs degraded (in-memory only).
func NewFileStore(path string) *FileStore {
	s := &FileStore{path: path}
	if s.path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			s.degraded = true
			return s
		}
		s.path = filepath.Join(dir, "fluency", "token")
	}
	return s
}

func (s *FileStore) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return s.mem
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.degraded = true
		}
		return s.mem
	}
	s.mem = strings.TrimSpace(string(data))
	return s.mem
}

func (s *FileStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mem = token
	if s.degraded {
		return
	}
	if token == "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			s.degraded = true
		}
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.degraded = true
		return
	}
	if err := os.WriteFile(s.path, []byte(token), 0o600); err != nil {
		s.degraded = true
	}
}
