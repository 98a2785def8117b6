package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"audiobrowser/internal/event"
	"audiobrowser/internal/sandbox"
	"github.com/fsnotify/fsnotify"
)

// addRecursiveWatches watches root and every directory beneath it. Symlinked
// directories are not followed.
func (watcher *Watcher) addRecursiveWatches(root string) (int, error) {
	dirs, err := collectRecursiveDirs(root)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, dir := range dirs {
		ok, err := watcher.addWatch(dir)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	watcher.registry.SetWatchedDirectories(watcher.activeWatches())
	return added, nil
}

func collectRecursiveDirs(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if entry.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}

func (watcher *Watcher) addWatch(path string) (bool, error) {
	watcher.mutex.Lock()
	fsw := watcher.fsw
	if fsw == nil {
		watcher.mutex.Unlock()
		return false, nil
	}
	if _, ok := watcher.watched[path]; ok {
		watcher.mutex.Unlock()
		return false, nil
	}
	if len(watcher.watched) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return false, ErrMaxWatchesExceeded
	}
	watcher.watched[path] = struct{}{}
	active := len(watcher.watched)
	watcher.mutex.Unlock()

	if err := fsw.Add(path); err != nil {
		watcher.mutex.Lock()
		delete(watcher.watched, path)
		watcher.mutex.Unlock()
		return false, err
	}
	watcher.logger.Debug("watch added", map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(active),
	})
	return true, nil
}

// removeWatches forgets path and every watched directory beneath it.
func (watcher *Watcher) removeWatches(path string) {
	watcher.mutex.Lock()
	fsw := watcher.fsw
	removed := []string{}
	for watched := range watcher.watched {
		if sandbox.Within(path, watched) {
			delete(watcher.watched, watched)
			removed = append(removed, watched)
		}
	}
	active := len(watcher.watched)
	watcher.mutex.Unlock()

	if len(removed) == 0 {
		return
	}
	for _, dir := range removed {
		// The kernel usually drops the watch first; a stale Remove is harmless.
		if fsw != nil {
			_ = fsw.Remove(dir)
		}
		watcher.logger.Debug("watch removed", map[string]string{
			"path":           dir,
			"active_watches": strconv.Itoa(active),
		})
	}
	watcher.registry.SetWatchedDirectories(active)
}

// trackDirectories keeps the watch set in step with the tree: new
// directories are watched, removed or renamed ones are dropped.
func (watcher *Watcher) trackDirectories(raw fsnotify.Event, bus *event.Bus[ChangeEvent]) {
	switch {
	case raw.Has(fsnotify.Create):
		info, err := os.Lstat(raw.Name)
		if err != nil || !info.IsDir() {
			return
		}
		if _, err := watcher.addRecursiveWatches(raw.Name); err != nil {
			watcher.logger.Warn("watch add failed", map[string]string{
				"path":  raw.Name,
				"error": err.Error(),
			})
		}
		watcher.announceExisting(raw.Name, bus)
	case raw.Has(fsnotify.Remove), raw.Has(fsnotify.Rename):
		watcher.removeWatches(raw.Name)
	}
}

// announceExisting reports everything already beneath a newly created
// directory. Entries made before the directory's watch was added never
// produce events of their own; a later duplicate is coalesced or harmless.
func (watcher *Watcher) announceExisting(root string, bus *event.Bus[ChangeEvent]) {
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || path == root {
			return nil
		}
		watcher.announce(ChangeEvent{
			Paths:     []string{path},
			Kind:      KindCreated,
			Timestamp: time.Now().UTC(),
		}, bus)
		return nil
	})
}

func (watcher *Watcher) activeWatches() int {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return len(watcher.watched)
}
