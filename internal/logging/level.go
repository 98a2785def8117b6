package logging

import (
	"slices"
	"strings"
)

// Level is the severity of a log entry. Its string form is what the
// /logs endpoint and the text output carry.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// levels lists every Level from least to most severe.
var levels = []Level{LevelDebug, LevelInfo, LevelWarning, LevelError}

// ParseLevel accepts a level name case-insensitively; "warn" is an alias
// for warning.
func ParseLevel(value string) (Level, bool) {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "warn" {
		name = string(LevelWarning)
	}
	level := Level(name)
	if !level.known() {
		return "", false
	}
	return level, true
}

func (level Level) known() bool {
	return slices.Contains(levels, level)
}

// severity orders levels. Unknown levels rank as info.
func (level Level) severity() int {
	if index := slices.Index(levels, level); index >= 0 {
		return index
	}
	return slices.Index(levels, LevelInfo)
}

func (level Level) atLeast(floor Level) bool {
	return level.severity() >= floor.severity()
}

func (level Level) orInfo() Level {
	if level.known() {
		return level
	}
	return LevelInfo
}
