package watcher

import (
	"sync"
	"time"

	"audiobrowser/internal/logging"
	"audiobrowser/internal/metrics"
	"github.com/fsnotify/fsnotify"
)

// Kind classifies a filesystem change.
type Kind int

const (
	KindOther Kind = iota
	KindCreated
	KindModified
	KindRemoved
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindRemoved:
		return "removed"
	default:
		return "other"
	}
}

// ChangeEvent is one filesystem change under the base directory. Paths is
// non-empty and holds absolute paths. A non-nil Err marks a diagnostic from
// the watch backend instead of a change.
type ChangeEvent struct {
	Paths      []string
	Kind       Kind
	AccessOnly bool
	Timestamp  time.Time
	Err        error
}

// Options controls watcher behavior.
type Options struct {
	// Base is the canonical directory watched recursively.
	Base string
	// Debounce is the per-path coalescing window. Zero or less publishes
	// every admitted event immediately.
	Debounce   time.Duration
	MaxWatches int
	Logger     *logging.Logger
	Registry   *metrics.Registry
}

// Metrics is a snapshot of watcher counters.
type Metrics struct {
	ActiveWatches   int    `json:"active_watches"`
	EventsRaw       uint64 `json:"events_raw"`
	EventsAdmitted  uint64 `json:"events_admitted"`
	EventsFiltered  uint64 `json:"events_filtered"`
	EventsCoalesced uint64 `json:"events_coalesced"`
	Errors          uint64 `json:"errors"`
}

// Watcher owns the fsnotify handle for the base directory while Run is
// active.
type Watcher struct {
	base       string
	debounce   time.Duration
	maxWatches int
	logger     *logging.Logger
	registry   *metrics.Registry

	mutex     sync.Mutex
	fsw       *fsnotify.Watcher
	watched   map[string]struct{}
	debouncer *debouncer
	running   bool

	eventsRaw       uint64
	eventsAdmitted  uint64
	eventsFiltered  uint64
	eventsCoalesced uint64
	errorCount      uint64
}
