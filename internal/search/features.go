package search

import (
	"regexp"
	"strings"
	"unicode"
)

// QueryFeatures is the fixed feature vector derived from a query string.
// It is a pure function of the text.
type QueryFeatures struct {
	HasExactTerms        bool    `json:"has_exact_terms"`
	SemanticComplexity   float64 `json:"semantic_complexity"`
	HasTemporalIndicator bool    `json:"has_temporal_indicator"`
	EntityCount          int     `json:"entity_count"`
	QueryLength          int     `json:"query_length"`
	IsQuestion           bool    `json:"is_question"`
	HasTechnicalTerms    bool    `json:"has_technical_terms"`
	WordCount            int     `json:"word_count"`
}

// Identifier-like patterns. Compiled at package init.
var (
	// Strict identifiers, whole query only.
	exactIDPattern  = regexp.MustCompile(`^P\d{6}$`)
	skuPattern      = regexp.MustCompile(`^[A-Z]+-\d+$`)
	uuidPattern     = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	embeddedCodeRe  = regexp.MustCompile(`\b(P\d{6}|[A-Z]+-\d+)\b`)
	embeddedUUIDRe  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	emailPattern    = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	quotedSpanRe    = regexp.MustCompile(`"[^"]+"`)
	camelCaseRe     = regexp.MustCompile(`\b[a-z]+[A-Z][a-zA-Z0-9]*\b`)
	pascalCaseRe    = regexp.MustCompile(`\b[A-Z][a-z0-9]+[A-Z][a-zA-Z0-9]*\b`)
	snakeCaseRe     = regexp.MustCompile(`\b[a-zA-Z0-9]+_[a-zA-Z0-9_]+\b`)
	dottedIdentRe   = regexp.MustCompile(`\b[a-zA-Z_]\w*\.[a-zA-Z_]\w*(\(\))?`)
	errorCodeRe     = regexp.MustCompile(`\b(ERR_\w+|E\d{3,5}|[A-Z]{2,}\d{3,}|\w+(Error|Exception))\b`)
	fileExtensionRe = regexp.MustCompile(`(?i)\b[\w\-/]+\.(go|py|rs|js|ts|tsx|java|rb|c|cpp|h|json|yaml|yml|toml|md|sql|sh|log|csv)\b`)
)

var questionWords = map[string]struct{}{
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "who": {},
	"which": {}, "can": {}, "does": {}, "is": {}, "are": {}, "should": {},
}

var technicalKeywords = map[string]struct{}{
	"api": {}, "error": {}, "config": {}, "configuration": {}, "function": {},
	"database": {}, "server": {}, "endpoint": {}, "bug": {}, "deploy": {},
	"deployment": {}, "http": {}, "https": {}, "json": {}, "yaml": {},
	"sql": {}, "timeout": {}, "exception": {}, "stacktrace": {}, "cache": {},
	"docker": {}, "kubernetes": {}, "crash": {}, "null": {}, "regex": {},
	"compile": {}, "compiler": {}, "runtime": {}, "latency": {}, "query": {},
	"schema": {}, "index": {}, "token": {}, "auth": {}, "oauth": {},
	"migration": {}, "variable": {}, "parameter": {}, "library": {},
}

// Multi-word temporal phrases are matched as substrings; single words by token.
var temporalPhrases = []string{"last week", "last month", "last year", "this morning", "the other day"}

var temporalWords = map[string]struct{}{
	"yesterday": {}, "today": {}, "tomorrow": {}, "recently": {}, "ago": {},
	"earlier": {}, "tonight": {},
}

// ExtractFeatures derives QueryFeatures from text. It never fails; the empty
// string yields the zero feature vector.
func ExtractFeatures(text string) QueryFeatures {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return QueryFeatures{}
	}

	fields := strings.Fields(trimmed)
	words := normalizedWords(fields)
	lower := strings.ToLower(trimmed)

	return QueryFeatures{
		HasExactTerms:        hasExactTerms(trimmed),
		SemanticComplexity:   semanticComplexity(words),
		HasTemporalIndicator: hasTemporalIndicator(lower, words),
		EntityCount:          countEntities(trimmed, fields),
		QueryLength:          len([]rune(trimmed)),
		IsQuestion:           isQuestion(trimmed, words),
		HasTechnicalTerms:    hasTechnicalTerms(trimmed, words),
		WordCount:            len(fields),
	}
}

// normalizedWords lowercases each field and trims surrounding punctuation.
// Fields that are pure punctuation are dropped.
func normalizedWords(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(strings.ToLower(f), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// IsExactIdentifier reports whether the whole query is a strict identifier.
func IsExactIdentifier(text string) bool {
	t := strings.TrimSpace(text)
	return exactIDPattern.MatchString(t) || skuPattern.MatchString(t) || uuidPattern.MatchString(t)
}

func hasExactTerms(text string) bool {
	if strings.ContainsAny(text, "\"@#") {
		return true
	}
	return emailPattern.MatchString(text) ||
		embeddedCodeRe.MatchString(text) ||
		embeddedUUIDRe.MatchString(text)
}

func isQuestion(text string, words []string) bool {
	if strings.HasSuffix(text, "?") {
		return true
	}
	if len(words) == 0 {
		return false
	}
	_, ok := questionWords[words[0]]
	return ok
}

func hasTechnicalTerms(text string, words []string) bool {
	if hasCodeTokens(text) {
		return true
	}
	for _, w := range words {
		if _, ok := technicalKeywords[w]; ok {
			return true
		}
	}
	return false
}

// hasCodeTokens reports identifier-shaped tokens (camelCase, snake_case,
// dotted names, error codes, file names) that never occur in prose.
func hasCodeTokens(text string) bool {
	return camelCaseRe.MatchString(text) || pascalCaseRe.MatchString(text) ||
		snakeCaseRe.MatchString(text) || dottedIdentRe.MatchString(text) ||
		errorCodeRe.MatchString(text) || fileExtensionRe.MatchString(text)
}

func hasTemporalIndicator(lower string, words []string) bool {
	for _, w := range words {
		if _, ok := temporalWords[w]; ok {
			return true
		}
	}
	for _, p := range temporalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// semanticComplexity buckets by word count (0.2 / 0.5 / 0.8) and shifts the
// bucket by up to ±0.1 according to vocabulary diversity.
func semanticComplexity(words []string) float64 {
	n := len(words)
	if n == 0 {
		return 0
	}

	var base float64
	switch {
	case n <= 3:
		base = 0.2
	case n <= 10:
		base = 0.5
	default:
		base = 0.8
	}

	unique := make(map[string]struct{}, n)
	for _, w := range words {
		unique[w] = struct{}{}
	}
	diversity := float64(len(unique)) / float64(n)

	return clamp(base+0.2*(diversity-0.5), 0, 1)
}

// countEntities counts capitalized words that do not start a sentence, plus
// double-quoted spans. The pronoun "I" is not an entity.
func countEntities(text string, fields []string) int {
	count := len(quotedSpanRe.FindAllString(text, -1))

	sentenceStart := true
	for _, f := range fields {
		word := strings.TrimLeftFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if word != "" && !sentenceStart && word != "I" && !strings.HasPrefix(word, "I'") {
			if first := []rune(word)[0]; unicode.IsUpper(first) {
				count++
			}
		}
		sentenceStart = strings.HasSuffix(f, ".") || strings.HasSuffix(f, "!") || strings.HasSuffix(f, "?")
	}
	return count
}

// alphabeticRatio is the share of letters among non-space runes.
func alphabeticRatio(text string) float64 {
	var letters, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
