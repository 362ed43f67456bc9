package search

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Default classifier configuration values.
const (
	DefaultClassifierCacheSize = 10000

	// Semantic needs complexity, a question and at least this many words.
	DefaultSemanticMinComplexity = 0.6
	DefaultSemanticMinWords      = 8

	// NaturalLanguage is a sentence of moderate length that is mostly letters.
	DefaultNaturalMinWords      = 3
	DefaultNaturalMaxWords      = 20
	DefaultNaturalMinAlphaRatio = 0.8

	// ShortKeyword covers at most this many tokens without a question mark.
	DefaultShortKeywordMaxWords = 2
)

// conversationalPattern matches references back to an earlier exchange.
var conversationalPattern = regexp.MustCompile(
	`(?i)\b((we|you|i)\s+(talked|discussed|said|told|mentioned|agreed|decided|spoke|asked)|remember|recall)\b`)

// ClassifierConfig holds configuration for the query classifier.
type ClassifierConfig struct {
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// GeneralVectorWeight/GeneralFulltextWeight are the weights of the
	// General strategy, normally the engine's configured defaults.
	GeneralVectorWeight   float64 `yaml:"general_vector_weight" json:"general_vector_weight"`
	GeneralFulltextWeight float64 `yaml:"general_fulltext_weight" json:"general_fulltext_weight"`

	// BaseThresholds are the per-type strategy thresholds.
	BaseThresholds map[QueryType]float64 `yaml:"base_thresholds" json:"base_thresholds"`

	SemanticMinComplexity float64 `yaml:"semantic_min_complexity" json:"semantic_min_complexity"`
	SemanticMinWords      int     `yaml:"semantic_min_words" json:"semantic_min_words"`
	NaturalMinWords       int     `yaml:"natural_min_words" json:"natural_min_words"`
	NaturalMaxWords       int     `yaml:"natural_max_words" json:"natural_max_words"`
	NaturalMinAlphaRatio  float64 `yaml:"natural_min_alpha_ratio" json:"natural_min_alpha_ratio"`
	ShortKeywordMaxWords  int     `yaml:"short_keyword_max_words" json:"short_keyword_max_words"`
}

// DefaultClassifierConfig returns sensible defaults for the classifier.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		CacheSize:             DefaultClassifierCacheSize,
		GeneralVectorWeight:   DefaultVectorWeight,
		GeneralFulltextWeight: DefaultFulltextWeight,
		BaseThresholds:        DefaultBaseThresholds(),
		SemanticMinComplexity: DefaultSemanticMinComplexity,
		SemanticMinWords:      DefaultSemanticMinWords,
		NaturalMinWords:       DefaultNaturalMinWords,
		NaturalMaxWords:       DefaultNaturalMaxWords,
		NaturalMinAlphaRatio:  DefaultNaturalMinAlphaRatio,
		ShortKeywordMaxWords:  DefaultShortKeywordMaxWords,
	}
}

// Classifier maps a query to a QueryType with fixed-priority heuristic rules.
// Results are cached per trimmed query text.
type Classifier struct {
	config ClassifierConfig
	cache  *lru.Cache[string, QueryType]
}

// NewClassifier creates a classifier. Zero-valued fields take defaults.
func NewClassifier(config ClassifierConfig) *Classifier {
	config = config.withDefaults()
	cache, _ := lru.New[string, QueryType](config.CacheSize)
	return &Classifier{
		config: config,
		cache:  cache,
	}
}

func (c ClassifierConfig) withDefaults() ClassifierConfig {
	d := DefaultClassifierConfig()
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.GeneralVectorWeight == 0 && c.GeneralFulltextWeight == 0 {
		c.GeneralVectorWeight = d.GeneralVectorWeight
		c.GeneralFulltextWeight = d.GeneralFulltextWeight
	}
	if c.BaseThresholds == nil {
		c.BaseThresholds = d.BaseThresholds
	}
	if c.SemanticMinComplexity <= 0 {
		c.SemanticMinComplexity = d.SemanticMinComplexity
	}
	if c.SemanticMinWords <= 0 {
		c.SemanticMinWords = d.SemanticMinWords
	}
	if c.NaturalMinWords <= 0 {
		c.NaturalMinWords = d.NaturalMinWords
	}
	if c.NaturalMaxWords <= 0 {
		c.NaturalMaxWords = d.NaturalMaxWords
	}
	if c.NaturalMinAlphaRatio <= 0 {
		c.NaturalMinAlphaRatio = d.NaturalMinAlphaRatio
	}
	if c.ShortKeywordMaxWords <= 0 {
		c.ShortKeywordMaxWords = d.ShortKeywordMaxWords
	}
	return c
}

// Classify returns the QueryType of text.
func (c *Classifier) Classify(text string) QueryType {
	key := strings.TrimSpace(text)
	if qt, ok := c.cache.Get(key); ok {
		return qt
	}
	qt := c.classify(key, ExtractFeatures(key))
	c.cache.Add(key, qt)
	return qt
}

// ClassifyFeatures is Classify for callers that already extracted features.
func (c *Classifier) ClassifyFeatures(text string, features QueryFeatures) QueryType {
	key := strings.TrimSpace(text)
	if qt, ok := c.cache.Get(key); ok {
		return qt
	}
	qt := c.classify(key, features)
	c.cache.Add(key, qt)
	return qt
}

// classify applies the rules in priority order; the first match wins.
// Semantic is checked before NaturalLanguage because the natural-language
// word range would otherwise swallow every long question.
func (c *Classifier) classify(text string, f QueryFeatures) QueryType {
	switch {
	case text != "" && IsExactIdentifier(text):
		return QueryTypeExactID
	case f.WordCount <= c.config.ShortKeywordMaxWords && !strings.Contains(text, "?"):
		return QueryTypeShortKeyword
	case conversationalPattern.MatchString(text):
		return QueryTypeConversational
	case f.IsQuestion && f.WordCount >= c.config.SemanticMinWords &&
		f.SemanticComplexity >= c.config.SemanticMinComplexity-1e-9:
		return QueryTypeSemantic
	case c.isNaturalLanguage(text, f):
		return QueryTypeNaturalLanguage
	case f.HasTechnicalTerms:
		return QueryTypeTechnical
	default:
		return QueryTypeGeneral
	}
}

// isNaturalLanguage accepts prose of moderate length: mostly letters and no
// identifier-shaped tokens. Technical vocabulary alone does not disqualify it.
func (c *Classifier) isNaturalLanguage(text string, f QueryFeatures) bool {
	return f.WordCount >= c.config.NaturalMinWords && f.WordCount <= c.config.NaturalMaxWords &&
		alphabeticRatio(text) >= c.config.NaturalMinAlphaRatio &&
		!hasCodeTokens(text)
}

// Strategy returns the default strategy for a query type.
func (c *Classifier) Strategy(qt QueryType) SearchStrategy {
	s := SearchStrategy{
		UseVector: true,
		UseBM25:   true,
		Threshold: c.baseThreshold(qt),
	}
	switch qt {
	case QueryTypeExactID:
		return SearchStrategy{UseExactMatch: true, Threshold: 0}
	case QueryTypeShortKeyword:
		s.BM25Weight, s.VectorWeight = 0.6, 0.4
	case QueryTypeConversational:
		s.VectorWeight, s.BM25Weight = 0.6, 0.4
	case QueryTypeSemantic:
		s.VectorWeight, s.BM25Weight = 0.8, 0.2
	case QueryTypeTechnical:
		s.BM25Weight, s.VectorWeight = 0.65, 0.35
	case QueryTypeNaturalLanguage:
		s.VectorWeight, s.BM25Weight = 0.5, 0.5
	default:
		w := SearchWeights{
			VectorWeight:   c.config.GeneralVectorWeight,
			FulltextWeight: c.config.GeneralFulltextWeight,
		}.Normalize()
		s.VectorWeight, s.BM25Weight = w.VectorWeight, w.FulltextWeight
	}
	return s
}

func (c *Classifier) baseThreshold(qt QueryType) float64 {
	if t, ok := c.config.BaseThresholds[qt]; ok {
		return t
	}
	return DefaultBaseThresholds()[qt]
}

// CacheLen reports how many classifications are cached.
func (c *Classifier) CacheLen() int {
	return c.cache.Len()
}
