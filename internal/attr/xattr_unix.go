//go:build linux || darwin

package attr

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// XattrStore keeps the flag in the file's extended attributes, so it travels
// with the file and survives restarts.
type XattrStore struct{}

func NewXattrStore() *XattrStore {
	return &XattrStore{}
}

func (XattrStore) Get(path string) bool {
	value, err := getXattr(path, HeardAttr)
	if err != nil {
		return false
	}
	return decodeFlag(value)
}

func (XattrStore) Set(path string, value bool) error {
	if err := unix.Setxattr(path, HeardAttr, encodeFlag(value), 0); err != nil {
		return fmt.Errorf("%w: set %s on %s: %w", ErrStore, HeardAttr, path, err)
	}
	return nil
}

// Supported reports whether the filesystem holding path accepts user
// extended attributes.
func (XattrStore) Supported(path string) bool {
	_, err := getXattr(path, HeardAttr)
	return !errors.Is(err, unix.ENOTSUP) && !errors.Is(err, unix.EOPNOTSUPP)
}

func getXattr(path, name string) ([]byte, error) {
	// The flag is one byte; a small buffer avoids a separate size query.
	buf := make([]byte, 16)
	size, err := unix.Getxattr(path, name, buf)
	if errors.Is(err, unix.ERANGE) {
		size, err = unix.Getxattr(path, name, nil)
		if err != nil {
			return nil, fmt.Errorf("getxattr %s %q: %w", path, name, err)
		}
		buf = make([]byte, size)
		size, err = unix.Getxattr(path, name, buf)
	}
	if err != nil {
		return nil, fmt.Errorf("getxattr %s %q: %w", path, name, err)
	}
	return buf[:size], nil
}
