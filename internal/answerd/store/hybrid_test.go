package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/internal/answerd/store"
)

type fakeLexical struct {
	hits []*store.LexicalHit
	err  error
}

func (f *fakeLexical) SearchText(ctx context.Context, orgID, query string, filters *store.SearchFilters, limit int) ([]*store.LexicalHit, error) {
	return f.hits, f.err
}

type fakeVector struct {
	hits []*store.VectorHit
	err  error
}

func (f *fakeVector) SearchVector(ctx context.Context, orgID string, embedding []float32, filters *store.SearchFilters, limit int) ([]*store.VectorHit, error) {
	return f.hits, f.err
}

type fakeRules struct {
	rules map[string]*store.PermissionRule
	err   error
}

func (f *fakeRules) PermissionRules(ctx context.Context, orgID string, chunkIDs []string) (map[string]*store.PermissionRule, error) {
	return f.rules, f.err
}

func hitChunk(id string) store.Chunk {
	return store.Chunk{
		ChunkID:      id,
		DocVersionID: "v-" + id,
		Text:         "text for " + id,
		SourceURL:    "https://kb.example.com/" + id,
	}
}

func TestHybridSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("merges passes and annotates ranks", func(t *testing.T) {
		lexical := &fakeLexical{hits: []*store.LexicalHit{
			{Chunk: hitChunk("a"), Score: 2.5},
			{Chunk: hitChunk("b"), Score: 1.5},
		}}
		vector := &fakeVector{hits: []*store.VectorHit{
			{Chunk: hitChunk("b"), Distance: 0.1},
			{Chunk: hitChunk("c"), Distance: 0.4},
		}}
		hybrid := store.NewHybridStore(lexical, vector, &fakeRules{})

		candidates, err := hybrid.HybridSearch(ctx, "org-1", "query", nil, nil, 30)
		require.NoError(t, err)
		require.Len(t, candidates, 3)

		byID := make(map[string]*store.RankedCandidate, len(candidates))
		for _, c := range candidates {
			byID[c.ChunkID] = c
		}

		a := byID["a"]
		assert.Equal(t, 1, a.LexicalRank)
		assert.Zero(t, a.VectorRank)
		assert.Equal(t, "lexical", a.MatchReason)
		assert.Equal(t, 2.5, a.LexicalScore)

		b := byID["b"]
		assert.Equal(t, 2, b.LexicalRank)
		assert.Equal(t, 1, b.VectorRank)
		assert.Equal(t, "lexical+vector", b.MatchReason)
		assert.Equal(t, 0.1, b.VectorDistance)

		c := byID["c"]
		assert.Zero(t, c.LexicalRank)
		assert.Equal(t, 2, c.VectorRank)
		assert.Equal(t, "vector", c.MatchReason)
	})

	t.Run("attaches permission rules by chunk id", func(t *testing.T) {
		lexical := &fakeLexical{hits: []*store.LexicalHit{{Chunk: hitChunk("a")}, {Chunk: hitChunk("b")}}}
		rules := &fakeRules{rules: map[string]*store.PermissionRule{
			"a": {Mode: store.PermissionCustom, Allow: []string{"group:eng"}},
		}}
		hybrid := store.NewHybridStore(lexical, &fakeVector{}, rules)

		candidates, err := hybrid.HybridSearch(ctx, "org-1", "query", nil, nil, 30)
		require.NoError(t, err)
		require.Len(t, candidates, 2)

		require.NotNil(t, candidates[0].Permission)
		assert.Equal(t, store.PermissionCustom, candidates[0].Permission.Mode)
		assert.Nil(t, candidates[1].Permission)
	})

	t.Run("lexical pass failure fails the search", func(t *testing.T) {
		hybrid := store.NewHybridStore(
			&fakeLexical{err: errors.New("text index missing")},
			&fakeVector{},
			&fakeRules{})

		_, err := hybrid.HybridSearch(ctx, "org-1", "query", nil, nil, 30)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lexical pass failed")
	})

	t.Run("vector pass failure fails the search", func(t *testing.T) {
		hybrid := store.NewHybridStore(
			&fakeLexical{},
			&fakeVector{err: errors.New("collection not loaded")},
			&fakeRules{})

		_, err := hybrid.HybridSearch(ctx, "org-1", "query", nil, nil, 30)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vector pass failed")
	})

	t.Run("permission resolution failure fails the search", func(t *testing.T) {
		hybrid := store.NewHybridStore(
			&fakeLexical{hits: []*store.LexicalHit{{Chunk: hitChunk("a")}}},
			&fakeVector{},
			&fakeRules{err: errors.New("objects collection unavailable")})

		_, err := hybrid.HybridSearch(ctx, "org-1", "query", nil, nil, 30)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to resolve permissions")
	})

	t.Run("no hits yields no candidates", func(t *testing.T) {
		hybrid := store.NewHybridStore(&fakeLexical{}, &fakeVector{}, &fakeRules{})

		candidates, err := hybrid.HybridSearch(ctx, "org-1", "query", nil, nil, 30)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}
