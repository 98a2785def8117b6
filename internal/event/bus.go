// Package event implements an in-process broadcast bus.
//
// A Bus has one or more producers and any number of subscribers. Every
// subscriber receives its own copy of each event published after it
// subscribed; nothing is replayed. Publish never blocks: a subscriber whose
// buffer is full misses the event and can find out through Missed.
package event

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"audiobrowser/internal/logging"
	"audiobrowser/internal/metrics"
)

const defaultSubscriberBufferSize = 16
const defaultDropWarningThreshold = 0.01
const defaultDropWarningInterval = 30 * time.Second

var (
	ErrNoSubscribers = errors.New("event bus has no subscribers")
	ErrBusClosed     = errors.New("event bus closed")
)

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	Logger               *logging.Logger
	Registry             *metrics.Registry
}

type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription[T]
	nextSubID   atomic.Uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	logger      *logging.Logger
	registry    *metrics.Registry
	published   atomic.Int64
	dropped     atomic.Int64
	lastWarning atomic.Int64
}

// Subscription is one subscriber's view of a Bus. C is closed when the
// subscription is cancelled or the bus is closed.
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	id     uint64
	bus    *Bus[T]
	missed atomic.Uint64
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]*Subscription[T]),
		options:     opts,
		logger:      logger,
		registry:    opts.Registry,
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

// Subscribe registers a new subscriber. On a closed bus the returned
// subscription's channel is already closed.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, b.options.SubscriberBufferSize)
	sub := &Subscription[T]{
		C:   ch,
		ch:  ch,
		id:  b.nextSubID.Add(1),
		bus: b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub
	}
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	b.registry.SetEventSubscribers(b.busName(), count)
	return sub
}

// Publish delivers event to every current subscriber without blocking.
func (b *Bus[T]) Publish(event T) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	b.published.Add(1)
	b.registry.IncEventPublished(b.busName())
	if len(b.subscribers) == 0 {
		b.mu.RUnlock()
		return ErrNoSubscribers
	}
	var dropped int
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.missed.Add(1)
			dropped++
		}
	}
	b.mu.RUnlock()

	if dropped > 0 {
		b.dropped.Add(int64(dropped))
		for i := 0; i < dropped; i++ {
			b.registry.IncEventDropped(b.busName())
		}
		b.maybeWarnDropRate()
	}
	return nil
}

func (b *Bus[T]) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]*Subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.registry.SetEventSubscribers(b.busName(), 0)
	})
}

func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Cancel removes the subscription from its bus and closes C. It is safe to
// call more than once.
func (s *Subscription[T]) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.removeSubscriber(s.id)
}

// Missed reports how many events were dropped for this subscriber since the
// previous call.
func (s *Subscription[T]) Missed() uint64 {
	if s == nil {
		return 0
	}
	return s.missed.Swap(0)
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return
	}
	close(sub.ch)
	b.registry.SetEventSubscribers(b.busName(), count)
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

func (b *Bus[T]) maybeWarnDropRate() {
	published := b.published.Load()
	dropped := b.dropped.Load()
	if published == 0 || dropped == 0 {
		return
	}
	rate := float64(dropped) / float64(published)
	if rate < b.options.DropWarningThreshold {
		return
	}
	now := time.Now()
	lastNanos := b.lastWarning.Load()
	if lastNanos > 0 && now.Sub(time.Unix(0, lastNanos)) < b.options.DropWarningInterval {
		return
	}
	if !b.lastWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	b.logger.Warn("event bus dropping events", map[string]string{
		"bus":       b.busName(),
		"rate":      fmt.Sprintf("%.2f%%", rate*100),
		"dropped":   strconv.FormatInt(dropped, 10),
		"published": strconv.FormatInt(published, 10),
	})
}
