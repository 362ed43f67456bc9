package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/match"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away.
	OpRename
	// OpConfigChange indicates a project config file (.agentmem.yaml) changed.
	OpConfigChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// ConfigFileNames are the project config names reported as OpConfigChange.
var ConfigFileNames = []string{".agentmem.yaml", ".agentmem.yml"}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is relative to the watched root, with forward slashes.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// IsDir is only known for events on paths that still exist.
	IsDir bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Watcher defines the interface for file system watching.
type Watcher interface {
	// Start watches path recursively until Stop is called or ctx is done.
	Start(ctx context.Context, path string) error

	// Stop releases resources. Safe to call multiple times.
	Stop() error

	// Events returns debounced batches; closed when the watcher stops.
	Events() <-chan []FileEvent

	// Errors returns non-fatal errors; closed when the watcher stops.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 200ms
	DebounceWindow time.Duration `yaml:"debounce" json:"debounce"`

	// PollInterval is the scan interval in polling mode. Default: 5s
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// EventBufferSize is the number of batches buffered. Default: 1000
	EventBufferSize int `yaml:"event_buffer_size" json:"event_buffer_size"`

	// Include are glob patterns (* and ?) a file's base name or relative
	// path must match. Default: *.jsonl, *.ndjson
	Include []string `yaml:"include" json:"include"`

	// Exclude are glob patterns that drop otherwise included files.
	Exclude []string `yaml:"exclude" json:"exclude"`

	// ForcePolling skips fsnotify, e.g. on network mounts.
	ForcePolling bool `yaml:"force_polling" json:"force_polling"`
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
		Include:         []string{"*.jsonl", "*.ndjson"},
	}
}

// Validate validates the options and returns an error if invalid.
func (o Options) Validate() error {
	if o.DebounceWindow < 0 {
		return fmt.Errorf("debounce window must not be negative, got %v", o.DebounceWindow)
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative, got %v", o.PollInterval)
	}
	if o.EventBufferSize < 0 {
		return fmt.Errorf("event buffer size must not be negative, got %d", o.EventBufferSize)
	}
	for _, p := range append(append([]string{}, o.Include...), o.Exclude...) {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty watch pattern")
		}
	}
	return nil
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Include) == 0 {
		o.Include = defaults.Include
	}
	return o
}

// Matches reports whether a file at relPath should produce events.
func (o Options) Matches(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	if matchAny(o.Exclude, relPath) {
		return false
	}
	return matchAny(o.Include, relPath)
}

func matchAny(patterns []string, relPath string) bool {
	base := relPath
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		base = relPath[i+1:]
	}
	for _, p := range patterns {
		if match.Match(base, p) || match.Match(relPath, p) {
			return true
		}
	}
	return false
}

// IsConfigFile reports whether relPath names a project config file at any depth.
func IsConfigFile(relPath string) bool {
	base := filepath.Base(relPath)
	for _, name := range ConfigFileNames {
		if base == name {
			return true
		}
	}
	return false
}

// isHidden reports whether any element of relPath starts with a dot. The
// data directory and VCS metadata live in such directories.
func isHidden(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}
