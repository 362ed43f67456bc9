package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/agentmem/internal/search"
)

func parseOverrides(t *testing.T, args ...string) (*search.SearchQuery, error) {
	t.Helper()
	var o overrideFlags
	cmd := &cobra.Command{Use: "test"}
	o.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return o.build(cmd)
}

func TestOverrideFlags_Build(t *testing.T) {
	t.Run("nothing set returns nil", func(t *testing.T) {
		q, err := parseOverrides(t)
		require.NoError(t, err)
		assert.Nil(t, q)
	})

	t.Run("explicit zero weight is kept", func(t *testing.T) {
		q, err := parseOverrides(t, "--vector-weight", "0")
		require.NoError(t, err)
		require.NotNil(t, q)
		require.NotNil(t, q.VectorWeight)
		assert.Zero(t, *q.VectorWeight)
		assert.Nil(t, q.FulltextWeight)
	})

	t.Run("threshold and filters", func(t *testing.T) {
		q, err := parseOverrides(t, "--threshold", "0.4", "--filter", "team=infra", "--filter", "priority=2")
		require.NoError(t, err)
		require.NotNil(t, q.Threshold)
		assert.InDelta(t, 0.4, *q.Threshold, 1e-9)
		assert.Equal(t, map[string]string{"team": "infra", "priority": "2"}, q.Filters)
	})

	t.Run("where", func(t *testing.T) {
		q, err := parseOverrides(t, "--where", `{"op":"OR","conditions":[{"field":"a","operator":"eq","value":1},{"field":"b","operator":"ne","value":"x"}]}`)
		require.NoError(t, err)
		require.NotNil(t, q.MetadataFilters)
		assert.Equal(t, search.FilterOr, q.MetadataFilters.Op)
		assert.Len(t, q.MetadataFilters.Conditions, 2)
	})

	errCases := []struct {
		name string
		args []string
	}{
		{"threshold above one", []string{"--threshold", "1.2"}},
		{"negative threshold", []string{"--threshold", "-0.1"}},
		{"filter without equals", []string{"--filter", "team"}},
		{"filter without key", []string{"--filter", "=x"}},
		{"where not json", []string{"--where", "{"}},
		{"where bad operator", []string{"--where", `{"conditions":[{"field":"a","operator":"like","value":1}]}`}},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOverrides(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestParseMetadata(t *testing.T) {
	// Given: mixed value types
	got, err := parseMetadata([]string{"count=3", "ratio=0.5", "done=true", "team=infra", "empty=", "url=a=b"})

	// Then: numbers and booleans are typed, the rest stays text
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"count": 3.0,
		"ratio": 0.5,
		"done":  true,
		"team":  "infra",
		"empty": "",
		"url":   "a=b",
	}, got)

	_, err = parseMetadata([]string{"novalue"})
	assert.Error(t, err)
}
