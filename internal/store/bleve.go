package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	MemoryTokenizerName  = "agentmem_tokenizer"
	MemoryStopFilterName = "agentmem_stop"
	MemoryAnalyzerName   = "agentmem_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(MemoryTokenizerName, memoryTokenizerConstructor)
	_ = registry.RegisterTokenFilter(MemoryStopFilterName, memoryStopFilterConstructor)
}

// BleveBM25Index is a persistent lexical index backed by bleve.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the stored document shape.
type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveBM25Index opens or creates an index at path. An empty path
// creates an in-memory index. A corrupt index directory is removed and
// recreated empty.
func NewBleveBM25Index(path string) (*BleveBM25Index, error) {
	indexMapping, err := newIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if verr := validateIndexMeta(path); verr != nil {
			slog.Warn("bleve_index_corrupted", slog.String("path", path), slog.String("error", verr.Error()))
			if rerr := os.RemoveAll(path); rerr != nil {
				return nil, fmt.Errorf("bleve index corrupted at %s and cannot remove: %w", path, rerr)
			}
		}

		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, indexMapping)
		} else if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
			slog.Warn("bleve_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if rerr := os.RemoveAll(path); rerr != nil {
				return nil, fmt.Errorf("bleve index corrupted, cannot clear: %w", rerr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open bleve index: %w", err)
	}

	return &BleveBM25Index{index: idx, path: path}, nil
}

// validateIndexMeta checks that an existing index has parseable metadata.
func validateIndexMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(MemoryAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     MemoryTokenizerName,
		"token_filters": []string{MemoryStopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = MemoryAnalyzerName
	return indexMapping, nil
}

// Index adds documents to the index.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns documents matching query, scored by bleve's BM25.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if hit.Score <= 0 {
			continue
		}
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents from the index.
func (b *BleveBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// AllIDs returns every indexed document ID.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Stats returns index statistics. Bleve does not expose term counts.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}
	docCount, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(docCount)}
}

// Close closes the index.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func matchedTerms(hit *search.DocumentMatch) []string {
	terms := make([]string, 0, len(hit.Locations["content"]))
	for term := range hit.Locations["content"] {
		terms = append(terms, term)
	}
	return terms
}

var _ BM25Index = (*BleveBM25Index)(nil)

func memoryTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &memoryTokenizer{}, nil
}

// memoryTokenizer feeds TokenizeIdentifiers output to bleve.
type memoryTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *memoryTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeIdentifiers(text, DefaultBM25Config().MinTokenLength)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		if end > len(text) {
			end = len(text)
		}

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		// Identifier parts overlap the whole identifier, so resume at start.
		offset = start
	}
	return result
}

func memoryStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &memoryStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

type memoryStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *memoryStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
