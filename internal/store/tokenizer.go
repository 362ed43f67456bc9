package store

import (
	"regexp"
	"strings"
	"unicode"
)

// Tokenize lowercases text, splits it on whitespace, trims punctuation from
// each word and drops words shorter than minLen runes.
func Tokenize(text string, minLen int) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		word := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if word == "" || len([]rune(word)) < minLen {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// identifierRegex matches alphanumeric runs, underscores included.
var identifierRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// TokenizeIdentifiers is Tokenize plus camelCase and snake_case splitting.
// The whole identifier is kept alongside its parts so that either form matches.
func TokenizeIdentifiers(text string, minLen int) []string {
	var tokens []string
	for _, word := range identifierRegex.FindAllString(text, -1) {
		parts := SplitIdentifier(word)
		if len(parts) > 1 {
			if lower := strings.ToLower(word); len([]rune(lower)) >= minLen {
				tokens = append(tokens, lower)
			}
		}
		for _, p := range parts {
			lower := strings.ToLower(p)
			if len([]rune(lower)) >= minLen {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case and camelCase identifiers.
func SplitIdentifier(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// DefaultStopWords are dropped by the persistent lexical backends.
var DefaultStopWords = []string{
	"the", "and", "for", "are", "but", "not", "you", "all", "any", "can",
	"had", "her", "was", "one", "our", "out", "has", "have", "this", "that",
	"with", "from", "they", "will", "would", "there", "their", "what", "about",
	"which", "when", "were", "been", "into", "than", "then", "them", "these",
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
