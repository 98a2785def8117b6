package logging

import (
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const DefaultBufferSize = 500

type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// Logger records entries into a LogBuffer and writes them as text lines.
// Loggers derived with With share the parent's destinations.
type Logger struct {
	dest   *destinations
	floor  Level
	fields map[string]string
}

type destinations struct {
	buffer *LogBuffer
	text   *log.Logger
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stderr)
}

// NewLoggerWithOutput is NewLogger writing text lines to output instead of
// stderr. A nil buffer gets a fresh one; a nil output discards text.
func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	return &Logger{
		dest: &destinations{
			buffer: buffer,
			text:   log.New(output, "", log.LstdFlags),
		},
		floor: minLevel.orInfo(),
	}
}

// Discard returns a logger that records nothing.
func Discard() *Logger {
	return &Logger{floor: LevelError}
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil || l.dest == nil {
		return nil
	}
	return l.dest.buffer
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		dest:   l.dest,
		floor:  l.floor,
		fields: mergeFields(l.fields, fields),
	}
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.emit(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.emit(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.emit(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.emit(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level.atLeast(l.floor)
}

func (l *Logger) emit(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) || l.dest == nil {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.fields, fields),
	}
	if l.dest.buffer != nil {
		l.dest.buffer.Add(entry)
	}
	if l.dest.text != nil {
		l.dest.text.Print(entry.text())
	}
}

// mergeFields layers maps left to right into a new map; later keys win.
func mergeFields(layers ...map[string]string) map[string]string {
	size := 0
	for _, layer := range layers {
		size += len(layer)
	}
	if size == 0 {
		return nil
	}
	merged := make(map[string]string, size)
	for _, layer := range layers {
		maps.Copy(merged, layer)
	}
	return merged
}

// text renders the entry as `level=... msg="..." key="value"...` with keys
// in sorted order.
func (entry LogEntry) text() string {
	var line strings.Builder
	line.WriteString("level=" + string(entry.Level))
	line.WriteString(" msg=" + strconv.Quote(entry.Message))
	for _, key := range slices.Sorted(maps.Keys(entry.Context)) {
		line.WriteString(" " + key + "=" + strconv.Quote(entry.Context[key]))
	}
	return line.String()
}
