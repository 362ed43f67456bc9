package search

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
	"github.com/Aman-CERP/agentmem/internal/store"
)

// Default fuzzy matching values.
const (
	DefaultFuzzyMaxEditDistance = 2
	DefaultFuzzyMinMatchLength  = 3
)

// FuzzyConfig configures typo-tolerant lexical matching.
type FuzzyConfig struct {
	// Enabled turns on the fuzzy fallback behind the lexical searcher.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxEditDistance is the largest Levenshtein distance two words may be
	// apart and still match.
	MaxEditDistance int `yaml:"max_edit_distance" json:"max_edit_distance"`

	// MinMatchLength is the shortest query, in runes, that is matched at all.
	MinMatchLength int `yaml:"min_match_length" json:"min_match_length"`

	CaseSensitive bool `yaml:"case_sensitive" json:"case_sensitive"`
}

// DefaultFuzzyConfig returns the default fuzzy configuration.
func DefaultFuzzyConfig() FuzzyConfig {
	return FuzzyConfig{
		Enabled:         true,
		MaxEditDistance: DefaultFuzzyMaxEditDistance,
		MinMatchLength:  DefaultFuzzyMinMatchLength,
	}
}

// FuzzySearcher scores every catalog memory by how closely its words match
// the query words within MaxEditDistance edits. It scans the whole catalog,
// so it serves as a fallback for queries the lexical index misses entirely,
// typically because of a typo.
type FuzzySearcher struct {
	catalog store.Catalog
	config  FuzzyConfig
}

var _ BM25Searcher = (*FuzzySearcher)(nil)

// NewFuzzySearcher creates a fuzzy searcher over catalog. Non-positive
// limits take defaults.
func NewFuzzySearcher(catalog store.Catalog, config FuzzyConfig) *FuzzySearcher {
	if config.MaxEditDistance <= 0 {
		config.MaxEditDistance = DefaultFuzzyMaxEditDistance
	}
	if config.MinMatchLength <= 0 {
		config.MinMatchLength = DefaultFuzzyMinMatchLength
	}
	return &FuzzySearcher{catalog: catalog, config: config}
}

// SearchBM25 returns memories with a positive fuzzy score, best first. Ties
// keep catalog order.
func (s *FuzzySearcher) SearchBM25(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < s.config.MinMatchLength || limit <= 0 {
		return nil, nil
	}
	queryWords := s.words(query)

	memories, err := s.catalog.List(ctx, 0)
	if err != nil {
		return nil, agenterrors.New(agenterrors.ErrCodeSearcherFailed, "fuzzy search failed", err)
	}

	var results []*SearchResult
	for _, m := range memories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := s.score(queryWords, s.words(m.Content))
		if score <= 0 {
			continue
		}
		fs := score
		results = append(results, &SearchResult{
			ID:            m.ID,
			Content:       m.Content,
			Score:         score,
			FulltextScore: &fs,
			Metadata:      MemoryMetadata(m),
		})
	}

	slices.SortStableFunc(results, func(a, b *SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *FuzzySearcher) words(text string) []string {
	if !s.config.CaseSensitive {
		text = strings.ToLower(text)
	}
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// score averages, over the query words, the best similarity
// 1 - distance/maxLen against any document word within the edit budget.
func (s *FuzzySearcher) score(queryWords, docWords []string) float64 {
	if len(queryWords) == 0 || len(docWords) == 0 {
		return 0
	}
	var total float64
	for _, q := range queryWords {
		qr := []rune(q)
		best := 0.0
		for _, d := range docWords {
			dr := []rune(d)
			dist := levenshtein(qr, dr, s.config.MaxEditDistance)
			if dist > s.config.MaxEditDistance {
				continue
			}
			if sim := 1 - float64(dist)/float64(max(len(qr), len(dr))); sim > best {
				best = sim
			}
		}
		total += best
	}
	return total / float64(len(queryWords))
}

// levenshtein returns the edit distance between a and b, or limit+1 as soon
// as the distance is known to exceed limit. It keeps a single row.
func levenshtein(a, b []rune, limit int) int {
	if d := len(a) - len(b); d > limit || -d > limit {
		return limit + 1
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	row := make([]int, len(a)+1)
	for i := range row {
		row[i] = i
	}
	for j := 1; j <= len(b); j++ {
		prev := row[0]
		row[0] = j
		rowMin := row[0]
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur := min(row[i]+1, row[i-1]+1, prev+cost)
			prev = row[i]
			row[i] = cur
			rowMin = min(rowMin, cur)
		}
		if rowMin > limit {
			return limit + 1
		}
	}
	return row[len(a)]
}

// FallbackSearcher runs primary and, only when it returns nothing, fallback.
type FallbackSearcher struct {
	primary  BM25Searcher
	fallback BM25Searcher
}

var _ BM25Searcher = (*FallbackSearcher)(nil)

// NewFallbackSearcher chains two lexical searchers.
func NewFallbackSearcher(primary, fallback BM25Searcher) *FallbackSearcher {
	return &FallbackSearcher{primary: primary, fallback: fallback}
}

// SearchBM25 returns the primary results, or the fallback's when there are
// none. Primary errors are returned as is.
func (s *FallbackSearcher) SearchBM25(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	results, err := s.primary.SearchBM25(ctx, query, limit)
	if err != nil || len(results) > 0 {
		return results, err
	}
	return s.fallback.SearchBM25(ctx, query, limit)
}
