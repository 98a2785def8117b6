// Package library lists directories under the base path and updates the
// heard flag of individual files.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"audiobrowser/internal/attr"
	"audiobrowser/internal/logging"
	"audiobrowser/internal/metrics"
	"audiobrowser/internal/sandbox"
)

// Filesystem entry points used by List, replaceable in tests to reproduce
// entries that vanish between the directory read and the stat.
var (
	readDir  = os.ReadDir
	statPath = os.Stat
)

var (
	ErrNotFound      = errors.New("path does not exist")
	ErrNotADirectory = errors.New("provided path is not a directory")
	ErrNotAFile      = errors.New("provided path is not a file")
)

// Entry describes one child of a listed directory.
type Entry struct {
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	SizeKiB      int64  `json:"size_kib"`
	Size         string `json:"size"`
	IsDirectory  bool   `json:"is_directory"`
	IsHeard      bool   `json:"is_heard"`
}

// Listing is the result of listing one directory.
type Listing struct {
	RelativePath       string  `json:"relative_path"`
	ParentRelativePath *string `json:"parent_relative_path"`
	Entries            []Entry `json:"entries"`
}

type Options struct {
	Base     string
	Store    attr.Store
	Logger   *logging.Logger
	Registry *metrics.Registry
}

type Library struct {
	base     string
	store    attr.Store
	logger   *logging.Logger
	registry *metrics.Registry
}

// New creates a Library rooted at options.Base, which must already be
// canonical (see sandbox.CanonicalBase).
func New(options Options) (*Library, error) {
	if options.Base == "" {
		return nil, errors.New("library base path is required")
	}
	if options.Store == nil {
		return nil, errors.New("library attribute store is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Library{
		base:     options.Base,
		store:    options.Store,
		logger:   logger.With(map[string]string{"audiobrowser.category": "library"}),
		registry: options.Registry,
	}, nil
}

func (l *Library) Base() string {
	return l.base
}

// List returns the visible children of the directory named by relative.
// Paths that cannot be placed inside the base directory list the base
// directory instead.
func (l *Library) List(ctx context.Context, relative string) (Listing, error) {
	dir := sandbox.Resolve(l.base, relative)

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Listing{}, ErrNotADirectory
	}

	children, err := readDir(dir)
	if err != nil && len(children) == 0 {
		return Listing{}, fmt.Errorf("unable to get list of files: %w", err)
	}
	if err != nil {
		l.logger.Warn("directory read incomplete", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
	}

	slices.SortFunc(children, func(a, b os.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	entries := make([]Entry, 0, len(children))
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return Listing{}, err
		}
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		info, err := statEntry(path, child)
		if err != nil {
			l.logger.Debug("skipping unreadable entry", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		entries = append(entries, l.entryFor(path, info))
	}

	listing := Listing{
		RelativePath: l.relative(dir),
		Entries:      entries,
	}
	if dir != l.base {
		parent := l.relative(filepath.Dir(dir))
		listing.ParentRelativePath = &parent
	}
	return listing, nil
}

// SetHeard stores value as the heard flag of the file named by relative, or
// flips the stored flag when value is nil, and returns the updated entry.
//
// The read-then-flip is not atomic: concurrent toggles of the same file can
// lose an update, the last write wins.
func (l *Library) SetHeard(ctx context.Context, relative string, value *bool) (Entry, error) {
	path, err := sandbox.ResolveStrict(l.base, relative)
	if err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Entry{}, ErrNotAFile
	}
	// A symlink below the base may still point elsewhere; never write
	// attributes outside the tree.
	if target, err := filepath.EvalSymlinks(path); err != nil || !sandbox.Within(l.base, target) {
		return Entry{}, fmt.Errorf("%w: %q", sandbox.ErrInvalidPath, relative)
	}

	next := !l.store.Get(path)
	if value != nil {
		next = *value
	}
	if err := l.store.Set(path, next); err != nil {
		l.logger.Error("heard flag write failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return Entry{}, err
	}
	l.registry.IncHeardUpdate(next)
	l.logger.Info("heard flag updated", map[string]string{
		"path":  l.relative(path),
		"heard": strconv.FormatBool(next),
	})

	return l.entryFor(path, info), nil
}

func (l *Library) entryFor(path string, info fs.FileInfo) Entry {
	sizeKiB := info.Size() / 1024
	return Entry{
		Name:         filepath.Base(path),
		RelativePath: l.relative(path),
		SizeKiB:      sizeKiB,
		Size:         strconv.FormatInt(sizeKiB, 10) + " KB",
		IsDirectory:  info.IsDir(),
		IsHeard:      l.store.Get(path),
	}
}

func (l *Library) relative(path string) string {
	rel, ok := sandbox.Relative(l.base, path)
	if !ok {
		return "."
	}
	return rel
}

// statEntry follows symlinks so linked directories list as directories. A
// dangling link falls back to the link itself.
func statEntry(path string, child os.DirEntry) (fs.FileInfo, error) {
	info, err := statPath(path)
	if err == nil {
		return info, nil
	}
	return child.Info()
}
