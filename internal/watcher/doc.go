// Package watcher turns filesystem notifications under the base directory
// into ChangeEvents on an event bus.
//
// Delivery is best-effort: events for one path are coalesced inside the
// debounce window and a slow subscriber misses events rather than stalling
// the watcher. Consumers should treat an event as a hint to refresh.
package watcher
