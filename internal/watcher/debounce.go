package watcher

import "time"

type pendingChange struct {
	timer  *time.Timer
	change ChangeEvent
}

// debouncer holds at most one pending change per path and flushes it once
// the path has been quiet for duration. It is not safe for concurrent use;
// the Watcher guards it with its mutex.
type debouncer struct {
	duration time.Duration
	pending  map[string]*pendingChange
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		pending:  make(map[string]*pendingChange),
	}
}

// schedule records change for path and restarts its quiet timer. It reports
// whether an earlier change was folded into this one.
func (debouncer *debouncer) schedule(path string, change ChangeEvent, flush func(string)) bool {
	if debouncer == nil || debouncer.pending == nil {
		return false
	}
	entry, ok := debouncer.pending[path]
	if !ok {
		debouncer.pending[path] = &pendingChange{
			change: change,
			timer: time.AfterFunc(debouncer.duration, func() {
				flush(path)
			}),
		}
		return false
	}
	change.Kind = mergeKind(entry.change.Kind, change.Kind)
	entry.change = change
	entry.timer.Reset(debouncer.duration)
	return true
}

func (debouncer *debouncer) pop(path string) (ChangeEvent, bool) {
	if debouncer == nil {
		return ChangeEvent{}, false
	}
	entry, ok := debouncer.pending[path]
	if !ok {
		return ChangeEvent{}, false
	}
	delete(debouncer.pending, path)
	return entry.change, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.pending {
		entry.timer.Stop()
	}
	debouncer.pending = nil
}

// mergeKind folds a later change into an earlier one. A file created and then
// written inside one window is still reported as created; removal wins.
func mergeKind(earlier, later Kind) Kind {
	switch {
	case later == KindRemoved:
		return KindRemoved
	case earlier == KindCreated:
		return KindCreated
	case later == KindOther:
		return earlier
	default:
		return later
	}
}
