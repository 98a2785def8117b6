package version

import "strings"

// Build metadata, set with -ldflags "-X audiobrowser/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Built   = ""
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Built   string `json:"built,omitempty"`
}

func Get() Info {
	version := strings.TrimSpace(Version)
	if version == "" {
		version = "dev"
	}
	return Info{
		Version: version,
		Commit:  strings.TrimSpace(Commit),
		Built:   strings.TrimSpace(Built),
	}
}

// String renders the info for --version output, e.g. "1.2.0 (abc123, built 2026-01-11)".
func (i Info) String() string {
	details := []string{}
	if i.Commit != "" {
		details = append(details, i.Commit)
	}
	if i.Built != "" {
		details = append(details, "built "+i.Built)
	}
	if len(details) == 0 {
		return i.Version
	}
	return i.Version + " (" + strings.Join(details, ", ") + ")"
}
