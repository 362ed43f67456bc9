package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/agentmem/internal/search"
)

// overrideFlags are the per-query search overrides shared by search and
// feedback, so feedback can credit the weights a search actually used.
type overrideFlags struct {
	vectorWeight   float64
	fulltextWeight float64
	threshold      float64
	filters        []string
	where          string
}

func (o *overrideFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&o.vectorWeight, "vector-weight", 0, "Vector weight override (0 disables vector search when set)")
	cmd.Flags().Float64Var(&o.fulltextWeight, "fulltext-weight", 0, "Full-text weight override (0 disables BM25 when set)")
	cmd.Flags().Float64Var(&o.threshold, "threshold", 0, "Vector similarity threshold override")
	cmd.Flags().StringArrayVar(&o.filters, "filter", nil, "Metadata equality filter key=value (repeatable)")
	cmd.Flags().StringVar(&o.where, "where", "", `Metadata filter group as JSON, e.g. {"op":"AND","conditions":[{"field":"tag","operator":"eq","value":"x"}]}`)
}

// build returns the overrides set on the command line, or nil when none are.
func (o *overrideFlags) build(cmd *cobra.Command) (*search.SearchQuery, error) {
	q := &search.SearchQuery{}
	set := false

	if cmd.Flags().Changed("vector-weight") {
		q.VectorWeight = &o.vectorWeight
		set = true
	}
	if cmd.Flags().Changed("fulltext-weight") {
		q.FulltextWeight = &o.fulltextWeight
		set = true
	}
	if cmd.Flags().Changed("threshold") {
		if o.threshold < 0 || o.threshold > 1 {
			return nil, fmt.Errorf("--threshold must be between 0 and 1, got %v", o.threshold)
		}
		q.Threshold = &o.threshold
		set = true
	}
	if len(o.filters) > 0 {
		filters, err := parseKeyValues(o.filters)
		if err != nil {
			return nil, fmt.Errorf("invalid --filter: %w", err)
		}
		q.Filters = filters
		set = true
	}
	if o.where != "" {
		var group search.FilterGroup
		if err := json.Unmarshal([]byte(o.where), &group); err != nil {
			return nil, fmt.Errorf("invalid --where: %w", err)
		}
		if err := group.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --where: %w", err)
		}
		q.MetadataFilters = &group
		set = true
	}

	if !set {
		return nil, nil
	}
	return q, nil
}

// parseKeyValues parses key=value pairs.
func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

// parseMetadata parses key=value pairs into memory metadata. Values that
// look like numbers or booleans are stored as such so range filters work.
func parseMetadata(pairs []string) (map[string]any, error) {
	kv, err := parseKeyValues(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		out[k] = typedValue(v)
	}
	return out, nil
}

func typedValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
