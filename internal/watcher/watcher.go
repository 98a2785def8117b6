package watcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"audiobrowser/internal/event"
	"audiobrowser/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const defaultMaxWatches = 8192

var (
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
	ErrAlreadyRunning     = errors.New("watcher already running")
)

// New creates a Watcher for options.Base. Nothing is watched until Run.
func New(options Options) (*Watcher, error) {
	if options.Base == "" {
		return nil, errors.New("watcher base path is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}
	return &Watcher{
		base:       options.Base,
		debounce:   options.Debounce,
		maxWatches: maxWatches,
		logger: logger.With(map[string]string{
			"audiobrowser.category": "watcher",
		}),
		registry: options.Registry,
	}, nil
}

// Run installs a recursive watch on the base directory and publishes
// admitted events to bus until ctx is done. It returns an error when the
// watch cannot be installed or the fsnotify backend stops on its own; the
// caller may call Run again to restart.
func (watcher *Watcher) Run(ctx context.Context, bus *event.Bus[ChangeEvent]) error {
	if bus == nil {
		return errors.New("watcher bus is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	watcher.mutex.Lock()
	if watcher.running {
		watcher.mutex.Unlock()
		_ = fsw.Close()
		return ErrAlreadyRunning
	}
	watcher.running = true
	watcher.fsw = fsw
	watcher.watched = make(map[string]struct{})
	watcher.debouncer = newDebouncer(watcher.debounce)
	watcher.mutex.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		watcher.shutdown()
	}()

	added, err := watcher.addRecursiveWatches(watcher.base)
	if err != nil {
		return fmt.Errorf("watch %s: %w", watcher.base, err)
	}
	watcher.logger.Info("watcher started", map[string]string{
		"path":           watcher.base,
		"active_watches": strconv.Itoa(added),
	})

	events, errs := forward(fsw, done)
	for {
		select {
		case <-ctx.Done():
			watcher.logger.Info("watcher stopped", nil)
			return nil
		case raw, ok := <-events:
			if !ok {
				return errors.New("fsnotify event stream closed")
			}
			watcher.handleEvent(raw, bus)
		case err, ok := <-errs:
			if !ok {
				return errors.New("fsnotify error stream closed")
			}
			watcher.handleError(err, bus)
		}
	}
}

// forward decouples the fsnotify channels from the run loop so a slow
// publish never backs up the kernel queue reader. Both returned channels are
// closed when the source closes.
func forward(source *fsnotify.Watcher, done <-chan struct{}) (<-chan fsnotify.Event, <-chan error) {
	events := make(chan fsnotify.Event, 16)
	errs := make(chan error, 4)
	go func() {
		defer close(events)
		defer close(errs)
		for {
			select {
			case raw, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case events <- raw:
				case <-done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return events, errs
}

func (watcher *Watcher) shutdown() {
	watcher.mutex.Lock()
	fsw := watcher.fsw
	watcher.fsw = nil
	watcher.watched = nil
	if watcher.debouncer != nil {
		watcher.debouncer.stop()
		watcher.debouncer = nil
	}
	watcher.running = false
	watcher.mutex.Unlock()

	watcher.registry.SetWatchedDirectories(0)
	if fsw != nil {
		if err := fsw.Close(); err != nil {
			watcher.logger.Warn("fsnotify close failed", map[string]string{
				"error": err.Error(),
			})
		}
	}
}

func (watcher *Watcher) handleEvent(raw fsnotify.Event, bus *event.Bus[ChangeEvent]) {
	atomic.AddUint64(&watcher.eventsRaw, 1)
	watcher.announce(ChangeEvent{
		Paths:     []string{raw.Name},
		Kind:      kindOf(raw.Op),
		Timestamp: time.Now().UTC(),
	}, bus)
	watcher.trackDirectories(raw, bus)
}

// announce filters change and either publishes it or hands it to the
// debouncer, keyed by its first path.
func (watcher *Watcher) announce(change ChangeEvent, bus *event.Bus[ChangeEvent]) {
	if !Admit(change) {
		atomic.AddUint64(&watcher.eventsFiltered, 1)
		watcher.registry.IncWatcherEvent("filtered")
		return
	}
	if watcher.debounce <= 0 {
		watcher.publish(bus, change)
		return
	}

	path := change.Paths[0]
	watcher.mutex.Lock()
	current := watcher.debouncer
	if current == nil {
		watcher.mutex.Unlock()
		return
	}
	coalesced := current.schedule(path, change, func(path string) {
		watcher.flush(current, path, bus)
	})
	watcher.mutex.Unlock()

	if coalesced {
		atomic.AddUint64(&watcher.eventsCoalesced, 1)
		watcher.registry.IncWatcherEvent("coalesced")
	}
}

func (watcher *Watcher) flush(owner *debouncer, path string, bus *event.Bus[ChangeEvent]) {
	watcher.mutex.Lock()
	if watcher.debouncer != owner {
		watcher.mutex.Unlock()
		return
	}
	change, ok := owner.pop(path)
	watcher.mutex.Unlock()
	if ok {
		watcher.publish(bus, change)
	}
}

func (watcher *Watcher) publish(bus *event.Bus[ChangeEvent], change ChangeEvent) {
	atomic.AddUint64(&watcher.eventsAdmitted, 1)
	watcher.registry.IncWatcherEvent("admitted")

	err := bus.Publish(change)
	switch {
	case err == nil:
	case errors.Is(err, event.ErrNoSubscribers):
		watcher.logger.Debug("no subscribers for change", map[string]string{
			"path": change.Paths[0],
			"kind": change.Kind.String(),
		})
	default:
		watcher.logger.Warn("change publish failed", map[string]string{
			"path":  change.Paths[0],
			"error": err.Error(),
		})
	}
}

// handleError reports a backend error to subscribers as a diagnostic. The
// watch stays up; an overflow only means some changes were not reported.
func (watcher *Watcher) handleError(err error, bus *event.Bus[ChangeEvent]) {
	if err == nil {
		return
	}
	atomic.AddUint64(&watcher.errorCount, 1)
	watcher.registry.IncWatcherError()
	message := "watcher error"
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		message = "watcher event queue overflow"
	}
	watcher.logger.Warn(message, map[string]string{
		"error": err.Error(),
	})

	diagnostic := ChangeEvent{
		Paths:     []string{watcher.base},
		Kind:      KindOther,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
	if publishErr := bus.Publish(diagnostic); publishErr != nil && !errors.Is(publishErr, event.ErrNoSubscribers) {
		watcher.logger.Warn("diagnostic publish failed", map[string]string{
			"error": publishErr.Error(),
		})
	}
}

func kindOf(op fsnotify.Op) Kind {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreated
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindRemoved
	case op.Has(fsnotify.Write):
		return KindModified
	default:
		return KindOther
	}
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := len(watcher.watched)
	watcher.mutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsRaw:       atomic.LoadUint64(&watcher.eventsRaw),
		EventsAdmitted:  atomic.LoadUint64(&watcher.eventsAdmitted),
		EventsFiltered:  atomic.LoadUint64(&watcher.eventsFiltered),
		EventsCoalesced: atomic.LoadUint64(&watcher.eventsCoalesced),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
	}
}
