//go:build !linux && !darwin

package attr

import (
	"fmt"
	"syscall"
)

// XattrStore is unavailable on this platform; every write fails and every
// read reports false.
type XattrStore struct{}

func NewXattrStore() *XattrStore {
	return &XattrStore{}
}

func (XattrStore) Get(string) bool {
	return false
}

func (XattrStore) Set(path string, _ bool) error {
	return fmt.Errorf("%w: set %s on %s: %w", ErrStore, HeardAttr, path, syscall.ENOTSUP)
}

func (XattrStore) Supported(string) bool {
	return false
}
