// Package sandbox confines client-supplied relative paths to a base directory.
//
// Two resolution modes exist and are deliberately kept apart. Resolve is used
// for reads and falls back to the base directory for anything it cannot
// place inside it. ResolveStrict is used for writes and rejects such paths.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

// CanonicalBase validates a base directory and returns its absolute,
// symlink-free form.
func CanonicalBase(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("base path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("base path %q: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("base path %q: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("base path %q: %w", path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("base path %q is not a directory", path)
	}
	return resolved, nil
}

// Resolve joins relative onto base and canonicalizes the result. An empty
// relative path, a path that cannot be canonicalized, or one that lands
// outside base all resolve to base itself.
func Resolve(base, relative string) string {
	if relative == "" {
		return base
	}
	canonical, err := filepath.EvalSymlinks(join(base, relative))
	if err != nil {
		return base
	}
	canonical, err = filepath.Abs(canonical)
	if err != nil || !Within(base, canonical) {
		return base
	}
	return canonical
}

// ResolveStrict joins relative onto base lexically and fails with
// ErrInvalidPath when the result is not base or beneath it. Symlinks are
// not followed.
func ResolveStrict(base, relative string) (string, error) {
	joined := join(base, relative)
	if !Within(base, joined) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relative)
	}
	return joined, nil
}

// Within reports whether target is base or lies beneath it, comparing whole
// path components.
func Within(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if target == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}

// Relative returns target relative to base using forward slashes. base
// itself is ".". The second result is false when target is outside base.
func Relative(base, target string) (string, bool) {
	if !Within(base, target) {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// join treats an absolute relative path as replacing base, so such input is
// judged on where it actually points.
func join(base, relative string) string {
	if filepath.IsAbs(relative) {
		return filepath.Clean(relative)
	}
	return filepath.Join(base, relative)
}
