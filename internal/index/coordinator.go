package index

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Aman-CERP/agentmem/internal/watcher"
)

// DefaultMaxFileSize is the largest memory file the coordinator imports.
const DefaultMaxFileSize int64 = 64 * 1024 * 1024

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// RootPath is the absolute path of the watched directory.
	RootPath string

	// Service receives imports and deletes.
	Service *Service

	// Watch selects the memory files; it should match the watcher's options.
	Watch watcher.Options

	// MaxFileSize skips larger files with a warning. Zero means DefaultMaxFileSize.
	MaxFileSize int64

	// OnConfigChange is called for OpConfigChange events. Optional.
	OnConfigChange func(ctx context.Context, path string) error
}

// FileChange summarizes what one event did.
type FileChange struct {
	Path      string            `json:"path"`
	Operation watcher.Operation `json:"-"`
	Result    ImportResult      `json:"result"`
	Skipped   bool              `json:"skipped,omitempty"`
}

// Coordinator keeps the store in step with a directory of JSONL memory
// files. Each file's relative path is its memories' source.
type Coordinator struct {
	config CoordinatorConfig
	mu     sync.Mutex
	hashes map[string]string // relative path -> content hash of the last import
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	config.Watch = config.Watch.WithDefaults()
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}
	return &Coordinator{
		config: config,
		hashes: make(map[string]string),
	}
}

// HandleEvents processes a batch of file events. A failing event is logged
// and does not stop the rest of the batch.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) []FileChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := make([]FileChange, 0, len(events))
	for _, event := range events {
		change, err := c.handleEvent(ctx, event)
		if err != nil {
			slog.Warn("failed to process file event",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
			continue
		}
		changes = append(changes, change)
	}
	return changes
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) (FileChange, error) {
	slog.Debug("processing file event",
		slog.String("path", event.Path),
		slog.String("operation", event.Operation.String()))

	change := FileChange{Path: event.Path, Operation: event.Operation}
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		result, skipped, err := c.importFile(ctx, event.Path)
		change.Result, change.Skipped = result, skipped
		return change, err
	case watcher.OpDelete, watcher.OpRename:
		// A rename reports the old name; the new name arrives as a create.
		n, err := c.removeSource(ctx, event.Path)
		change.Result.Removed = n
		return change, err
	case watcher.OpConfigChange:
		if c.config.OnConfigChange == nil {
			change.Skipped = true
			return change, nil
		}
		return change, c.config.OnConfigChange(ctx, event.Path)
	default:
		change.Skipped = true
		return change, nil
	}
}

// importFile reimports relPath, replacing its previous memories. Files
// whose content is unchanged since the last import are skipped.
func (c *Coordinator) importFile(ctx context.Context, relPath string) (ImportResult, bool, error) {
	absPath := filepath.Join(c.config.RootPath, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted before we got to it; the delete event follows.
			return ImportResult{}, true, nil
		}
		return ImportResult{}, false, err
	}
	if info.IsDir() {
		return ImportResult{}, true, nil
	}
	if info.Size() > c.config.MaxFileSize {
		slog.Warn("skipping oversized memory file",
			slog.String("path", relPath),
			slog.Int64("size", info.Size()),
			slog.Int64("max", c.config.MaxFileSize))
		return ImportResult{}, true, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return ImportResult{}, false, fmt.Errorf("read %s: %w", relPath, err)
	}
	hash := hashContent(content)
	if c.hashes[relPath] == hash {
		return ImportResult{}, true, nil
	}

	result, err := c.config.Service.Import(ctx, bytes.NewReader(content), ImportOptions{
		Source:  relPath,
		Replace: true,
	})
	if err != nil {
		return result, false, err
	}
	c.hashes[relPath] = hash

	slog.Info("memory file imported",
		slog.String("path", relPath),
		slog.Int("memories", result.Read),
		slog.Int("removed", result.Removed))
	return result, false, nil
}

// removeSource drops memories from relPath, or from anything under it when
// relPath was a directory.
func (c *Coordinator) removeSource(ctx context.Context, relPath string) (int, error) {
	n, err := c.config.Service.DeleteSource(ctx, relPath, true)
	if err != nil {
		return 0, err
	}
	for p := range c.hashes {
		if p == relPath || strings.HasPrefix(p, relPath+"/") {
			delete(c.hashes, p)
		}
	}
	if n > 0 {
		slog.Info("memory file removed", slog.String("path", relPath), slog.Int("memories", n))
	}
	return n, nil
}

// Sync imports every matching file under the root and drops memories whose
// source file no longer exists. Run it before watching so changes made
// while nobody was watching are picked up.
func (c *Coordinator) Sync(ctx context.Context) ([]FileChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[string]bool)
	var changes []FileChange
	err := filepath.WalkDir(c.config.RootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping unreadable path", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(c.config.RootPath, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !c.config.Watch.Matches(rel) {
			return nil
		}
		present[rel] = true

		result, skipped, err := c.importFile(ctx, rel)
		if err != nil {
			slog.Warn("failed to import memory file", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		changes = append(changes, FileChange{Path: rel, Operation: watcher.OpCreate, Result: result, Skipped: skipped})
		return nil
	})
	if err != nil {
		return changes, err
	}

	stale, err := c.staleSources(ctx, present)
	if err != nil {
		return changes, err
	}
	for _, src := range stale {
		n, err := c.config.Service.DeleteSource(ctx, src, false)
		if err != nil {
			return changes, err
		}
		delete(c.hashes, src)
		changes = append(changes, FileChange{Path: src, Operation: watcher.OpDelete, Result: ImportResult{Removed: n}})
	}
	return changes, nil
}

// staleSources returns sources that look like watched files but are not
// in present. Sources set by explicit imports elsewhere are left alone.
func (c *Coordinator) staleSources(ctx context.Context, present map[string]bool) ([]string, error) {
	memories, err := c.config.Service.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var stale []string
	for _, m := range memories {
		src, _ := m.Metadata[MetadataSource].(string)
		if src == "" || seen[src] || present[src] {
			continue
		}
		seen[src] = true
		if filepath.IsAbs(src) || !c.config.Watch.Matches(src) {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.config.RootPath, filepath.FromSlash(src))); os.IsNotExist(err) {
			stale = append(stale, src)
		}
	}
	return stale, nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
