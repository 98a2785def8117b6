package watcher

import (
	"path/filepath"
	"strings"
)

// TempExtension marks files that are still being written.
const TempExtension = "tmp"

// Admit reports whether event is worth telling subscribers about. Access-only
// events are dropped, as are events whose every path is a temp file.
// Diagnostics are always admitted.
func Admit(event ChangeEvent) bool {
	if event.Err != nil {
		return true
	}
	if event.AccessOnly {
		return false
	}
	for _, path := range event.Paths {
		if extension(path) != TempExtension {
			return true
		}
	}
	return false
}

// extension returns the part of the file name after its last dot, without
// the dot. Names with no dot, or whose only dot is the leading one, have no
// extension.
func extension(path string) string {
	name := filepath.Base(path)
	index := strings.LastIndexByte(name, '.')
	if index <= 0 {
		return ""
	}
	return name[index+1:]
}
