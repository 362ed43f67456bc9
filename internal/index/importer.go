package index

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/store"
)

// MetadataSource is the metadata key naming the file a memory came from.
const MetadataSource = "source"

// maxLineSize bounds one JSONL record.
const maxLineSize = 16 << 20

// Record is the JSONL form of a memory.
type Record struct {
	ID         string         `json:"id,omitempty"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Importance float64        `json:"importance,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitzero"`
	UpdatedAt  time.Time      `json:"updated_at,omitzero"`
}

func (r Record) memory() *store.Memory {
	return &store.Memory{
		ID:         r.ID,
		Content:    r.Content,
		Metadata:   r.Metadata,
		Importance: r.Importance,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// RecordFromMemory converts a stored memory for export.
func RecordFromMemory(m *store.Memory) Record {
	return Record{
		ID:         m.ID,
		Content:    m.Content,
		Metadata:   m.Metadata,
		Importance: m.Importance,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// ReadJSONL parses one memory per line. Blank lines are skipped; a
// malformed line fails the whole read with its line number.
func ReadJSONL(r io.Reader) ([]*store.Memory, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var memories []*store.Memory
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, agenterrors.ValidationError(fmt.Sprintf("line %d: invalid JSON", line), err)
		}
		if strings.TrimSpace(rec.Content) == "" {
			return nil, agenterrors.ValidationError(fmt.Sprintf("line %d: content is required", line), nil)
		}
		memories = append(memories, rec.memory())
	}
	if err := sc.Err(); err != nil {
		return nil, agenterrors.ValidationError(fmt.Sprintf("line %d: read failed", line+1), err)
	}
	return memories, nil
}

// WriteJSONL writes one record per memory.
func WriteJSONL(w io.Writer, memories []*store.Memory) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, m := range memories {
		if err := enc.Encode(RecordFromMemory(m)); err != nil {
			return err
		}
	}
	return nil
}

// StableID derives a memory ID from its source and content, so reimporting
// an unchanged line keeps its ID and its learned history.
func StableID(source, content string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + content))
	return hex.EncodeToString(sum[:16])
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Source is recorded under metadata "source" and seeds IDs for records
	// without one. Empty leaves metadata alone and assigns random IDs.
	Source string

	// Replace deletes memories previously imported from Source that are
	// absent from this import.
	Replace bool

	// BatchSize is the number of memories added per write (default 256).
	BatchSize int

	// Progress is called after each batch.
	Progress func(done, total int)
}

// ImportResult summarizes an import.
type ImportResult struct {
	Read     int           `json:"read"`
	Added    int           `json:"added"`
	Removed  int           `json:"removed"`
	Duration time.Duration `json:"duration"`
}

// Import reads JSONL from r and adds every record.
func (s *Service) Import(ctx context.Context, r io.Reader, opts ImportOptions) (ImportResult, error) {
	start := time.Now()
	memories, err := ReadJSONL(r)
	if err != nil {
		return ImportResult{}, err
	}
	result, err := s.importMemories(ctx, memories, opts)
	result.Duration = time.Since(start)
	return result, err
}

// ImportFile imports the JSONL file at path.
func (s *Service) ImportFile(ctx context.Context, path string, opts ImportOptions) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, agenterrors.ValidationError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()
	return s.Import(ctx, f, opts)
}

func (s *Service) importMemories(ctx context.Context, memories []*store.Memory, opts ImportOptions) (ImportResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	result := ImportResult{Read: len(memories)}

	keep := make(map[string]bool, len(memories))
	for _, m := range memories {
		if opts.Source == "" {
			continue
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]any, 1)
		}
		m.Metadata[MetadataSource] = opts.Source
		if m.ID == "" {
			m.ID = StableID(opts.Source, m.Content)
		}
		keep[m.ID] = true
	}

	for start := 0; start < len(memories); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+opts.BatchSize, len(memories))
		if err := s.Add(ctx, memories[start:end]); err != nil {
			return result, err
		}
		result.Added = end
		if opts.Progress != nil {
			opts.Progress(end, len(memories))
		}
	}

	if opts.Replace && opts.Source != "" {
		stale, err := s.sourceIDs(ctx, opts.Source, keep)
		if err != nil {
			return result, err
		}
		if err := s.Delete(ctx, stale); err != nil {
			return result, err
		}
		result.Removed = len(stale)
	}

	slog.Debug("import finished",
		slog.String("source", opts.Source),
		slog.Int("added", result.Added),
		slog.Int("removed", result.Removed))
	return result, nil
}

// DeleteSource removes every memory imported from source or, when prefix
// is true, from any source under the directory source.
func (s *Service) DeleteSource(ctx context.Context, source string, prefix bool) (int, error) {
	memories, err := s.catalog.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, m := range memories {
		src, _ := m.Metadata[MetadataSource].(string)
		if src == source || (prefix && strings.HasPrefix(src, source+"/")) {
			ids = append(ids, m.ID)
		}
	}
	if err := s.Delete(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// sourceIDs lists memories from source whose IDs are not in keep.
func (s *Service) sourceIDs(ctx context.Context, source string, keep map[string]bool) ([]string, error) {
	memories, err := s.catalog.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range memories {
		if src, _ := m.Metadata[MetadataSource].(string); src == source && !keep[m.ID] {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// Export writes up to limit memories as JSONL (limit <= 0: all).
func (s *Service) Export(ctx context.Context, w io.Writer, limit int) (int, error) {
	memories, err := s.catalog.List(ctx, limit)
	if err != nil {
		return 0, err
	}
	return len(memories), WriteJSONL(w, memories)
}
