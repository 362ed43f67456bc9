package learning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/agentmem/internal/search"
)

func newTestFeedbackStore(t *testing.T) *SQLiteFeedbackStore {
	t.Helper()
	s, err := NewSQLiteFeedbackStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteFeedbackStore_SaveAndRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestFeedbackStore(t)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	for i, label := range []string{"first", "second", "third"} {
		require.NoError(t, s.Save(ctx, FeedbackRecord{
			Pattern:       PatternQuestion,
			Features:      questionFeatures,
			Weights:       weights(0.6),
			Effectiveness: 0.5 + float64(i)/10,
			Label:         label,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest two, oldest first.
	assert.Equal(t, "second", got[0].Label)
	assert.Equal(t, "third", got[1].Label)

	rec := got[1]
	_, err = uuid.Parse(rec.ID)
	assert.NoError(t, err)
	assert.Equal(t, PatternQuestion, rec.Pattern)
	assert.Equal(t, questionFeatures, rec.Features)
	assert.InDelta(t, 0.6, rec.Weights.VectorWeight, 1e-9)
	assert.InDelta(t, 0.4, rec.Weights.FulltextWeight, 1e-9)
	assert.InDelta(t, 0.7, rec.Weights.Confidence, 1e-9)
	assert.InDelta(t, 0.7, rec.Effectiveness, 1e-9)
	assert.True(t, base.Add(2*time.Minute).Equal(rec.CreatedAt))

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteFeedbackStore_DuplicateIDIsIgnored(t *testing.T) {
	ctx := context.Background()
	s := newTestFeedbackStore(t)
	rec := FeedbackRecord{ID: uuid.NewString(), Pattern: PatternShort, Features: search.QueryFeatures{WordCount: 1}}

	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Save(ctx, rec))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteFeedbackStore_Closed(t *testing.T) {
	s, err := NewSQLiteFeedbackStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Error(t, s.Save(context.Background(), FeedbackRecord{}))
	_, err = s.Recent(context.Background(), 1)
	assert.Error(t, err)
}
