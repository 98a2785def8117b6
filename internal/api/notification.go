package api

import (
	"strconv"

	"audiobrowser/internal/sandbox"
	"audiobrowser/internal/watcher"
)

const (
	eventFileUpdated  = "fileUpdated"
	eventWatcherError = "watcher_error"
)

// notification is what a live-update client receives for one change.
type notification struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// data is the SSE data line: the relative path for file updates, the
// diagnostic text otherwise.
func (n notification) data() string {
	if n.Type == eventFileUpdated {
		return n.Path
	}
	return n.Message
}

// notificationFor maps a change to the notification for its first path.
// Changes outside base are skipped.
func notificationFor(base string, change watcher.ChangeEvent) (notification, bool) {
	if change.Err != nil {
		return notification{Type: eventWatcherError, Message: change.Err.Error()}, true
	}
	if len(change.Paths) == 0 {
		return notification{}, false
	}
	relative, ok := sandbox.Relative(base, change.Paths[0])
	if !ok {
		return notification{}, false
	}
	return notification{Type: eventFileUpdated, Path: relative}, true
}

func missedNotification(count uint64) notification {
	return notification{
		Type:    eventWatcherError,
		Message: "missed " + strconv.FormatUint(count, 10) + " events",
	}
}
