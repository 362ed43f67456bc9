package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
)

func TestFilterCondition_Match(t *testing.T) {
	md := map[string]any{
		"category": "travel",
		"priority": 3,
		"score":    0.75,
		"tags":     []string{"work", "Berlin"},
		"title":    "Trip to Berlin",
	}

	tests := []struct {
		name string
		cond FilterCondition
		want bool
	}{
		{"eq string", FilterCondition{"category", OpEq, "travel"}, true},
		{"eq mismatch", FilterCondition{"category", OpEq, "food"}, false},
		{"eq number from string", FilterCondition{"priority", OpEq, "3"}, true},
		{"ne", FilterCondition{"category", OpNe, "food"}, true},
		{"gt", FilterCondition{"priority", OpGt, 2}, true},
		{"gte equal", FilterCondition{"priority", OpGte, 3}, true},
		{"lt float", FilterCondition{"score", OpLt, 0.5}, false},
		{"lte", FilterCondition{"score", OpLte, 0.75}, true},
		{"string ordering", FilterCondition{"category", OpGt, "food"}, true},
		{"incomparable", FilterCondition{"tags", OpGt, 1}, false},
		{"in", FilterCondition{"category", OpIn, []string{"food", "travel"}}, true},
		{"in any slice", FilterCondition{"priority", OpIn, []any{1.0, 3.0}}, true},
		{"nin", FilterCondition{"category", OpNin, []string{"food"}}, true},
		{"contains substring", FilterCondition{"title", OpContains, "Berlin"}, true},
		{"contains is case sensitive", FilterCondition{"title", OpContains, "berlin"}, false},
		{"icontains", FilterCondition{"title", OpIContains, "berlin"}, true},
		{"contains in slice", FilterCondition{"tags", OpContains, "work"}, true},
		{"icontains in slice", FilterCondition{"tags", OpIContains, "berlin"}, true},
		{"missing field eq", FilterCondition{"owner", OpEq, "me"}, false},
		{"missing field ne", FilterCondition{"owner", OpNe, "me"}, true},
		{"missing field nin", FilterCondition{"owner", OpNin, []string{"me"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Match(md))
		})
	}
}

func TestFilterGroup_Match(t *testing.T) {
	md := map[string]any{"category": "travel", "priority": 3}
	isTravel := FilterCondition{"category", OpEq, "travel"}
	isFood := FilterCondition{"category", OpEq, "food"}
	urgent := FilterCondition{"priority", OpGte, 5}

	tests := []struct {
		name  string
		group *FilterGroup
		want  bool
	}{
		{"nil group", nil, true},
		{"empty group", &FilterGroup{}, true},
		{"and", &FilterGroup{Op: FilterAnd, Conditions: []FilterCondition{isTravel, urgent}}, false},
		{"default op is and", &FilterGroup{Conditions: []FilterCondition{isTravel}}, true},
		{"or", &FilterGroup{Op: FilterOr, Conditions: []FilterCondition{isFood, isTravel}}, true},
		{"not", &FilterGroup{Op: FilterNot, Conditions: []FilterCondition{isFood}}, true},
		{"nested", &FilterGroup{
			Op:         FilterAnd,
			Conditions: []FilterCondition{isTravel},
			Groups: []*FilterGroup{
				{Op: FilterOr, Conditions: []FilterCondition{urgent, {"priority", OpEq, 3}}},
			},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.group.Match(md))
		})
	}
}

func TestFilterGroup_Validate(t *testing.T) {
	valid := &FilterGroup{
		Op:         FilterOr,
		Conditions: []FilterCondition{{"a", OpEq, 1}},
		Groups:     []*FilterGroup{{Op: FilterNot, Conditions: []FilterCondition{{"b", OpIn, []int{1}}}}},
	}
	require.NoError(t, valid.Validate())
	require.NoError(t, (*FilterGroup)(nil).Validate())

	tests := []struct {
		name  string
		group *FilterGroup
	}{
		{"bad op", &FilterGroup{Op: "XOR"}},
		{"bad operator", &FilterGroup{Conditions: []FilterCondition{{"a", "like", "x"}}}},
		{"missing field", &FilterGroup{Conditions: []FilterCondition{{"", OpEq, "x"}}}},
		{"nested bad operator", &FilterGroup{Groups: []*FilterGroup{{Conditions: []FilterCondition{{"a", "~", 1}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.group.Validate()
			require.Error(t, err)
			assert.Equal(t, agenterrors.ErrCodeInvalidFilter, agenterrors.GetCode(err))
		})
	}
}

func TestApplyFilters(t *testing.T) {
	results := []*SearchResult{
		{ID: "1", Metadata: map[string]any{"category": "travel", "priority": 1}},
		{ID: "2", Metadata: map[string]any{"category": "food", "priority": 5}},
		{ID: "3", Metadata: map[string]any{"category": "travel", "priority": 5}},
		{ID: "4"},
	}

	t.Run("no filters returns input", func(t *testing.T) {
		assert.Equal(t, results, ApplyFilters(results, nil, nil))
	})

	t.Run("equality", func(t *testing.T) {
		got := ApplyFilters(results, map[string]string{"category": "travel"}, nil)
		assert.Equal(t, []string{"1", "3"}, ids(got))
	})

	t.Run("equality and group", func(t *testing.T) {
		got := ApplyFilters(results, map[string]string{"category": "travel"},
			&FilterGroup{Conditions: []FilterCondition{{"priority", OpGt, 2}}})
		assert.Equal(t, []string{"3"}, ids(got))
	})

	t.Run("group only", func(t *testing.T) {
		got := ApplyFilters(results, nil,
			&FilterGroup{Op: FilterNot, Conditions: []FilterCondition{{"category", OpEq, "food"}}})
		assert.Equal(t, []string{"1", "3", "4"}, ids(got))
	})
}
