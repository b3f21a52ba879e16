package biz_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/internal/answerd/biz"
	"github.com/kart-io/answerd/internal/answerd/store"
)

type fakeChunkStore struct {
	candidates []*store.RankedCandidate
	err        error
	calls      int
	poolSize   int
}

func (f *fakeChunkStore) HybridSearch(ctx context.Context, orgID, query string, embedding []float32, filters *store.SearchFilters, poolSize int) ([]*store.RankedCandidate, error) {
	f.calls++
	f.poolSize = poolSize
	return f.candidates, f.err
}

func (f *fakeChunkStore) Close(ctx context.Context) error { return nil }

func testChunk(id string, sourceScore float64, updatedAt time.Time) store.Chunk {
	return store.Chunk{
		ChunkID:      id,
		DocVersionID: "v-" + id,
		Text:         "chunk text for " + id,
		SourceURL:    "https://kb.example.com/" + id,
		SourceScore:  sourceScore,
		UpdatedAt:    updatedAt.Format(time.RFC3339),
	}
}

func TestFuseRankings(t *testing.T) {
	now := scoringNow

	t.Run("mismatched array lengths raise ValidationError", func(t *testing.T) {
		chunks := []store.Chunk{testChunk("c1", 50, now), testChunk("c2", 50, now)}

		_, err := biz.FuseRankings(chunks, []int{1}, []int{1, 2}, 10, now)
		require.Error(t, err)

		var validationErr *biz.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	t.Run("output is limited and sorted descending", func(t *testing.T) {
		var chunks []store.Chunk
		var lexRanks, vecRanks []int
		for i := 0; i < 10; i++ {
			chunks = append(chunks, testChunk(fmt.Sprintf("c%02d", i), 50, now))
			lexRanks = append(lexRanks, i+1)
			vecRanks = append(vecRanks, i+1)
		}

		fused, err := biz.FuseRankings(chunks, lexRanks, vecRanks, 4, now)
		require.NoError(t, err)
		require.Len(t, fused, 4)
		for i := 1; i < len(fused); i++ {
			assert.GreaterOrEqual(t, fused[i-1].Score, fused[i].Score)
		}
		assert.Equal(t, "c00", fused[0].ChunkID)
	})

	t.Run("presence in both passes beats one pass", func(t *testing.T) {
		chunks := []store.Chunk{testChunk("both", 50, now), testChunk("lexical-only", 50, now)}

		fused, err := biz.FuseRankings(chunks, []int{1, 2}, []int{1, 0}, 10, now)
		require.NoError(t, err)
		require.Len(t, fused, 2)
		assert.Equal(t, "both", fused[0].ChunkID)
	})

	t.Run("trust boost breaks rank ties", func(t *testing.T) {
		trusted := testChunk("trusted", 100, now)
		untrusted := testChunk("untrusted", 0, now)

		fused, err := biz.FuseRankings([]store.Chunk{untrusted, trusted}, []int{0, 0}, []int{1, 1}, 10, now)
		require.NoError(t, err)
		assert.Equal(t, "trusted", fused[0].ChunkID)
	})

	t.Run("stale evidence gets no recency boost", func(t *testing.T) {
		fresh := testChunk("fresh", 50, now.Add(-time.Hour))
		stale := testChunk("stale", 50, now.Add(-90*24*time.Hour))

		fused, err := biz.FuseRankings([]store.Chunk{stale, fresh}, []int{1, 1}, []int{0, 0}, 10, now)
		require.NoError(t, err)
		assert.Equal(t, "fresh", fused[0].ChunkID)
	})

	t.Run("future timestamps count as maximally fresh", func(t *testing.T) {
		// Clock-skewed connectors date chunks slightly ahead; they get
		// the full recency boost, same as the trust scorer's clamp.
		future := testChunk("future", 50, now.Add(48*time.Hour))
		recent := testChunk("recent", 50, now.Add(-time.Hour))

		fused, err := biz.FuseRankings([]store.Chunk{recent, future}, []int{1, 1}, []int{0, 0}, 10, now)
		require.NoError(t, err)
		assert.Equal(t, "future", fused[0].ChunkID)
		assert.InDelta(t, fused[0].Score, fused[1].Score, 0.001)
	})

	t.Run("deduplicates by chunk id", func(t *testing.T) {
		dup := testChunk("dup", 50, now)

		fused, err := biz.FuseRankings([]store.Chunk{dup, dup}, []int{1, 2}, []int{0, 1}, 10, now)
		require.NoError(t, err)
		assert.Len(t, fused, 1)
	})
}

func TestPermitted(t *testing.T) {
	principals := []string{"user:u1", "group:eng"}

	cases := []struct {
		name      string
		rule      *store.PermissionRule
		permitted bool
	}{
		{"ordinary chunk without rule", nil, true},
		{"org wide", &store.PermissionRule{Mode: store.PermissionOrgWide}, true},
		{"inherited source acl excluded", &store.PermissionRule{Mode: store.PermissionInheritedSourceACL}, false},
		{"custom with zero allow rules", &store.PermissionRule{Mode: store.PermissionCustom}, true},
		{"custom with matching allow", &store.PermissionRule{Mode: store.PermissionCustom, Allow: []string{"group:eng"}}, true},
		{"custom without matching allow", &store.PermissionRule{Mode: store.PermissionCustom, Allow: []string{"group:sales"}}, false},
		{"custom deny wins over allow", &store.PermissionRule{Mode: store.PermissionCustom, Allow: []string{"user:u1"}, Deny: []string{"user:u1"}}, false},
		{"unknown mode fails closed", &store.PermissionRule{Mode: "public"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.permitted, biz.Permitted(tc.rule, principals))
		})
	}

	t.Run("no principals cannot match allow rules", func(t *testing.T) {
		rule := &store.PermissionRule{Mode: store.PermissionCustom, Allow: []string{"user:u1"}}
		assert.False(t, biz.Permitted(rule, nil))
	})
}

func TestRetrieverRetrieve(t *testing.T) {
	now := scoringNow

	t.Run("filters candidates the caller may not see", func(t *testing.T) {
		allowed := &store.RankedCandidate{Chunk: testChunk("allowed", 80, now), LexicalRank: 2}
		restricted := &store.RankedCandidate{
			Chunk:       testChunk("restricted", 90, now),
			LexicalRank: 1,
			Permission: &store.PermissionRule{
				Mode:  store.PermissionCustom,
				Allow: []string{"group:finance"},
			},
		}
		chunkStore := &fakeChunkStore{candidates: []*store.RankedCandidate{restricted, allowed}}
		retriever := biz.NewRetriever(chunkStore)

		filters := &store.SearchFilters{PrincipalKeys: []string{"user:u1"}}
		results, err := retriever.Retrieve(context.Background(), "org-1", "query", nil, filters, 10, 30, now)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "allowed", results[0].ChunkID)
	})

	t.Run("wraps store failures in RetrievalError", func(t *testing.T) {
		chunkStore := &fakeChunkStore{err: errors.New("connection refused")}
		retriever := biz.NewRetriever(chunkStore)

		_, err := retriever.Retrieve(context.Background(), "org-1", "query", nil, nil, 10, 30, now)
		require.Error(t, err)

		var retrievalErr *biz.RetrievalError
		assert.ErrorAs(t, err, &retrievalErr)
	})

	t.Run("passes the pool size through", func(t *testing.T) {
		chunkStore := &fakeChunkStore{}
		retriever := biz.NewRetriever(chunkStore)

		_, err := retriever.Retrieve(context.Background(), "org-1", "query", nil, nil, 10, 50, now)
		require.NoError(t, err)
		assert.Equal(t, 50, chunkStore.poolSize)
	})
}
