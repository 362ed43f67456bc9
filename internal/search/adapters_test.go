package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/agentmem/internal/embed"
	"github.com/Aman-CERP/agentmem/internal/store"
)

var recipeCorpus = []*store.Memory{
	{ID: "doc1", Content: "apple pie recipe", Importance: 0.5, Metadata: map[string]any{"category": "food"}},
	{ID: "doc2", Content: "banana bread recipe", Metadata: map[string]any{"category": "food"}},
	{ID: "doc3", Content: "car engine repair", Metadata: map[string]any{"category": "auto"}},
}

func newLexical(t *testing.T, memories []*store.Memory) *store.BM25Engine {
	t.Helper()
	e := store.NewBM25Engine(store.DefaultBM25Config())
	docs := make([]*store.Document, len(memories))
	for i, m := range memories {
		docs[i] = &store.Document{ID: m.ID, Content: m.Content}
	}
	require.NoError(t, e.Index(context.Background(), docs))
	return e
}

func newCatalog(t *testing.T, memories []*store.Memory) *store.SQLiteCatalog {
	t.Helper()
	c, err := store.NewSQLiteCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Put(context.Background(), memories))
	return c
}

// =============================================================================
// LexicalSearcher
// =============================================================================

func TestLexicalSearcher_ContentFromIndex(t *testing.T) {
	s := NewLexicalSearcher(newLexical(t, recipeCorpus), nil)

	got, err := s.SearchBM25(context.Background(), "recipe", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"doc1", "doc2"}, ids(got))
	for _, r := range got {
		require.NotNil(t, r.FulltextScore)
		assert.Equal(t, r.Score, *r.FulltextScore)
		assert.Nil(t, r.VectorScore)
		assert.Contains(t, r.Content, "recipe")
		assert.Equal(t, []string{"recipe"}, r.Metadata["matched_terms"])
	}
}

func TestLexicalSearcher_HydratesAndDropsOrphans(t *testing.T) {
	// doc2 is indexed but no longer in the catalog.
	catalog := newCatalog(t, []*store.Memory{recipeCorpus[0], recipeCorpus[2]})
	s := NewLexicalSearcher(newLexical(t, recipeCorpus), catalog)

	got, err := s.SearchBM25(context.Background(), "recipe", 10)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "doc1", got[0].ID)
	assert.Equal(t, "apple pie recipe", got[0].Content)
	assert.Equal(t, "food", got[0].Metadata["category"])
	assert.InDelta(t, 0.5, got[0].Metadata[MetadataImportance], 1e-9)
	assert.Contains(t, got[0].Metadata, MetadataCreatedAt)
	assert.Equal(t, []string{"recipe"}, got[0].Metadata["matched_terms"])
}

// =============================================================================
// SemanticSearcher
// =============================================================================

func newSemantic(t *testing.T, catalog store.Catalog) *SemanticSearcher {
	t.Helper()
	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	s := NewSemanticSearcher(embedder, vectors, catalog)
	require.NoError(t, s.IndexMemories(context.Background(), recipeCorpus))
	return s
}

func TestSemanticSearcher_NearestFirst(t *testing.T) {
	s := newSemantic(t, nil)

	got, err := s.SearchVector(context.Background(), "apple pie recipe", 3, 0)
	require.NoError(t, err)

	require.NotEmpty(t, got)
	assert.Equal(t, "doc1", got[0].ID)
	require.NotNil(t, got[0].VectorScore)
	assert.Greater(t, *got[0].VectorScore, 0.95)
	assert.Nil(t, got[0].FulltextScore)
}

func TestSemanticSearcher_AppliesThreshold(t *testing.T) {
	s := newSemantic(t, nil)

	got, err := s.SearchVector(context.Background(), "apple pie recipe", 3, 0.95)
	require.NoError(t, err)

	assert.Equal(t, []string{"doc1"}, ids(got))
	for _, r := range got {
		assert.GreaterOrEqual(t, *r.VectorScore, 0.95)
	}
}

func TestSemanticSearcher_Hydrates(t *testing.T) {
	s := newSemantic(t, newCatalog(t, recipeCorpus))

	got, err := s.SearchVector(context.Background(), "car engine repair", 1, 0)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "doc3", got[0].ID)
	assert.Equal(t, "car engine repair", got[0].Content)
	assert.Equal(t, "auto", got[0].Metadata["category"])
}

func TestSemanticSearcher_IndexMemories_Empty(t *testing.T) {
	s := newSemantic(t, nil)
	assert.NoError(t, s.IndexMemories(context.Background(), nil))
}

// =============================================================================
// CatalogMatcher
// =============================================================================

func TestCatalogMatcher_MatchExact(t *testing.T) {
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	catalog := newCatalog(t, []*store.Memory{{ID: "P000001", Content: "order shipped", CreatedAt: created}})
	m := NewCatalogMatcher(catalog)
	ctx := context.Background()

	got, err := m.MatchExact(ctx, " P000001 ", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "P000001", got[0].ID)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, "order shipped", got[0].Content)

	got, err = m.MatchExact(ctx, "P999999", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.MatchExact(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryMetadata(t *testing.T) {
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	md := MemoryMetadata(&store.Memory{
		Metadata:   map[string]any{"user": "alice"},
		Importance: 0.7,
		CreatedAt:  created,
	})

	assert.Equal(t, "alice", md["user"])
	assert.Equal(t, 0.7, md[MetadataImportance])
	assert.Equal(t, created, md[MetadataCreatedAt])

	bare := MemoryMetadata(&store.Memory{})
	assert.NotContains(t, bare, MetadataImportance)
	assert.NotContains(t, bare, MetadataCreatedAt)
}
