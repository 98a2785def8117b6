package logging

import "sync"

// LogBuffer keeps the most recent entries in a fixed-size ring so the
// diagnostics endpoint can show what the server logged lately.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	start   int
	count   int
}

func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{entries: make([]LogEntry, size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return
	}
	if b.count < len(b.entries) {
		b.entries[(b.start+b.count)%len(b.entries)] = entry
		b.count++
		return
	}
	b.entries[b.start] = entry
	b.start = (b.start + 1) % len(b.entries)
}

// Recent returns up to limit entries at or above minLevel, oldest first.
// A non-positive limit returns every matching entry.
func (b *LogBuffer) Recent(limit int, minLevel Level) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]LogEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		entry := b.entries[(b.start+i)%len(b.entries)]
		if minLevel != "" && !entry.Level.atLeast(minLevel) {
			continue
		}
		out = append(out, entry)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
