// Package attr stores the per-file "heard" flag outside the file contents.
package attr

import (
	"errors"
	"sync"
)

// HeardAttr is the extended attribute holding the flag. The value is a
// single byte, 1 for true and 0 for false; only the first byte is read.
const HeardAttr = "user.heard"

var ErrStore = errors.New("attribute store")

// Store reads and writes the heard flag for an absolute file path.
type Store interface {
	// Get returns the stored flag, or false when it is unset or unreadable.
	Get(path string) bool
	// Set persists the flag and reports any write failure wrapped in ErrStore.
	Set(path string, value bool) error
}

func encodeFlag(value bool) []byte {
	if value {
		return []byte{1}
	}
	return []byte{0}
}

func decodeFlag(data []byte) bool {
	return len(data) > 0 && data[0] == 1
}

// MemoryStore keeps flags in process memory. It backs tests and filesystems
// without extended attribute support; flags do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string][]byte)}
}

func (s *MemoryStore) Get(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return decodeFlag(s.flags[path])
}

func (s *MemoryStore) Set(path string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[path] = encodeFlag(value)
	return nil
}
