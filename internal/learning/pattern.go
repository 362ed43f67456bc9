package learning

import (
	"github.com/Aman-CERP/agentmem/internal/search"
)

// QueryPattern is the coarse bucket feedback is aggregated under.
// It is derived from query features independently of search.QueryType.
type QueryPattern string

const (
	PatternQuestion       QueryPattern = "question"
	PatternTechnical      QueryPattern = "technical"
	PatternShort          QueryPattern = "short"
	PatternLong           QueryPattern = "long"
	PatternConversational QueryPattern = "conversational"
	PatternGeneral        QueryPattern = "general"
)

// AllPatterns lists every pattern in derivation priority order.
func AllPatterns() []QueryPattern {
	return []QueryPattern{
		PatternQuestion,
		PatternTechnical,
		PatternShort,
		PatternLong,
		PatternConversational,
		PatternGeneral,
	}
}

// ParsePattern returns the pattern named s.
func ParsePattern(s string) (QueryPattern, bool) {
	for _, p := range AllPatterns() {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

const (
	shortMaxWords     = 3
	longMinWords      = 12
	longMinComplexity = 0.7
)

// PatternFromFeatures buckets a query. The first matching rule wins.
func PatternFromFeatures(f search.QueryFeatures) QueryPattern {
	switch {
	case f.IsQuestion:
		return PatternQuestion
	case f.HasTechnicalTerms:
		return PatternTechnical
	case f.WordCount <= shortMaxWords:
		return PatternShort
	case f.WordCount >= longMinWords || f.SemanticComplexity > longMinComplexity:
		return PatternLong
	case f.HasTemporalIndicator:
		return PatternConversational
	default:
		return PatternGeneral
	}
}

// maxBlend caps the total share related patterns may contribute to a target.
const maxBlend = 0.5

// Adjacency maps a pattern to the patterns that inform it and their blend
// factors. It need not be symmetric.
type Adjacency map[QueryPattern]map[QueryPattern]float64

// DefaultAdjacency relates the patterns whose queries tend to overlap:
// short queries are often bare technical identifiers, long queries are
// often questions, and conversational follow-ups are usually questions.
func DefaultAdjacency() Adjacency {
	return Adjacency{
		PatternTechnical:      {PatternShort: 0.2},
		PatternShort:          {PatternTechnical: 0.2},
		PatternQuestion:       {PatternLong: 0.15},
		PatternLong:           {PatternQuestion: 0.15},
		PatternConversational: {PatternQuestion: 0.1},
	}
}

// relation is one related pattern and its blend factor.
type relation struct {
	pattern QueryPattern
	factor  float64
}

// related returns p's neighbours in AllPatterns order. Negative factors are
// dropped and the total is scaled down to maxBlend when it exceeds it.
func (a Adjacency) related(p QueryPattern) []relation {
	row := a[p]
	if len(row) == 0 {
		return nil
	}

	var (
		out   []relation
		total float64
	)
	for _, q := range AllPatterns() {
		f, ok := row[q]
		if !ok || q == p || f <= 0 {
			continue
		}
		out = append(out, relation{pattern: q, factor: f})
		total += f
	}
	if total > maxBlend {
		scale := maxBlend / total
		for i := range out {
			out[i].factor *= scale
		}
	}
	return out
}

// clone returns a deep copy so callers cannot mutate an engine's table.
func (a Adjacency) clone() Adjacency {
	if a == nil {
		return nil
	}
	out := make(Adjacency, len(a))
	for p, row := range a {
		r := make(map[QueryPattern]float64, len(row))
		for q, f := range row {
			r[q] = f
		}
		out[p] = r
	}
	return out
}
