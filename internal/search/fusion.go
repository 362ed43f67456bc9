package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// RRFFusion merges ranked lists with Reciprocal Rank Fusion:
//
//	score(d) = Σ weight_s / (k + rank_s(d))
//
// where rank_s is the 1-based position of d in source s. Sources that do not
// contain d contribute nothing.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines per-source ranked lists into one list sorted by fused score.
//
// Sources are visited in the order exact, bm25, vector, then any other names
// alphabetically; equal scores keep first-seen order. VectorScore,
// FulltextScore, Content and Metadata are merged across sources. A source
// missing from weights has weight 0. Only the first occurrence of an ID
// within one source counts. Inputs are not modified.
func (f *RRFFusion) Fuse(sources map[string][]*SearchResult, weights map[string]float64) []*SearchResult {
	byID := make(map[string]*SearchResult)
	order := make([]*SearchResult, 0)

	for _, name := range orderedSources(sources) {
		weight := weights[name]
		seen := make(map[string]struct{}, len(sources[name]))
		for i, r := range sources[name] {
			if r == nil {
				continue
			}
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			fused, ok := byID[r.ID]
			if !ok {
				fused = r.clone()
				fused.Score = 0
				byID[r.ID] = fused
				order = append(order, fused)
			} else {
				mergeResult(fused, r)
			}
			fused.Score += weight / float64(f.K+i+1)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Score > order[j].Score
	})
	return order
}

// orderedSources returns the known sources first, then the rest sorted.
func orderedSources(sources map[string][]*SearchResult) []string {
	names := make([]string, 0, len(sources))
	known := make(map[string]bool, len(sourceOrder))
	for _, name := range sourceOrder {
		known[name] = true
		if _, ok := sources[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range sources {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// mergeResult copies per-source fields from src into dst where dst lacks them.
func mergeResult(dst, src *SearchResult) {
	if dst.VectorScore == nil && src.VectorScore != nil {
		v := *src.VectorScore
		dst.VectorScore = &v
	}
	if dst.FulltextScore == nil && src.FulltextScore != nil {
		v := *src.FulltextScore
		dst.FulltextScore = &v
	}
	if dst.Content == "" {
		dst.Content = src.Content
	}
	for k, v := range src.Metadata {
		if dst.Metadata == nil {
			dst.Metadata = make(map[string]any, len(src.Metadata))
		}
		if _, exists := dst.Metadata[k]; !exists {
			dst.Metadata[k] = v
		}
	}
}

// exactResults returns copies of exact matches with score 1.0, deduplicated.
func exactResults(results []*SearchResult, limit int) []*SearchResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		c := r.clone()
		c.Score = 1.0
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
