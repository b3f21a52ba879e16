package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/logger"
)

// HybridStore joins the lexical and vector passes into rank-annotated
// candidates. The two passes run concurrently; either failing fails
// the search.
type HybridStore struct {
	lexical LexicalSearcher
	vector  VectorSearcher
	rules   PermissionRuleSource
}

// NewHybridStore creates a hybrid chunk store.
func NewHybridStore(lexical LexicalSearcher, vector VectorSearcher, rules PermissionRuleSource) *HybridStore {
	return &HybridStore{lexical: lexical, vector: vector, rules: rules}
}

// HybridSearch runs both passes with the given pool size and merges
// their results by chunk id. Ranks are 1-based per pass, 0 when the
// chunk was absent from a pass. Scoring is left to the caller.
func (s *HybridStore) HybridSearch(ctx context.Context, orgID, query string, embedding []float32, filters *SearchFilters, poolSize int) ([]*RankedCandidate, error) {
	var (
		wg      sync.WaitGroup
		lexHits []*LexicalHit
		vecHits []*VectorHit
		lexErr  error
		vecErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		lexHits, lexErr = s.lexical.SearchText(ctx, orgID, query, filters, poolSize)
	}()
	go func() {
		defer wg.Done()
		vecHits, vecErr = s.vector.SearchVector(ctx, orgID, embedding, filters, poolSize)
	}()
	wg.Wait()

	if lexErr != nil {
		return nil, fmt.Errorf("lexical pass failed: %w", lexErr)
	}
	if vecErr != nil {
		return nil, fmt.Errorf("vector pass failed: %w", vecErr)
	}

	candidates := mergeHits(lexHits, vecHits)
	if len(candidates) == 0 {
		return nil, nil
	}

	if err := s.attachPermissions(ctx, orgID, candidates); err != nil {
		return nil, err
	}

	logger.Debugw("hybrid search merged",
		"org_id", orgID,
		"lexical_hits", len(lexHits),
		"vector_hits", len(vecHits),
		"candidates", len(candidates))

	return candidates, nil
}

// Close is a no-op; the underlying searchers own their connections.
func (s *HybridStore) Close(ctx context.Context) error {
	return nil
}

// mergeHits joins the two result sets by chunk id, preserving the
// lexical pass order for chunks present in both.
func mergeHits(lexHits []*LexicalHit, vecHits []*VectorHit) []*RankedCandidate {
	byID := make(map[string]*RankedCandidate, len(lexHits)+len(vecHits))
	var candidates []*RankedCandidate

	for i, hit := range lexHits {
		c := &RankedCandidate{
			Chunk:        hit.Chunk,
			LexicalRank:  i + 1,
			LexicalScore: hit.Score,
			MatchReason:  "lexical",
		}
		byID[hit.Chunk.ChunkID] = c
		candidates = append(candidates, c)
	}

	for i, hit := range vecHits {
		if c, ok := byID[hit.Chunk.ChunkID]; ok {
			c.VectorRank = i + 1
			c.VectorDistance = hit.Distance
			c.MatchReason = "lexical+vector"
			continue
		}
		c := &RankedCandidate{
			Chunk:          hit.Chunk,
			VectorRank:     i + 1,
			VectorDistance: hit.Distance,
			MatchReason:    "vector",
		}
		byID[hit.Chunk.ChunkID] = c
		candidates = append(candidates, c)
	}

	return candidates
}

func (s *HybridStore) attachPermissions(ctx context.Context, orgID string, candidates []*RankedCandidate) error {
	chunkIDs := make([]string, len(candidates))
	for i, c := range candidates {
		chunkIDs[i] = c.ChunkID
	}

	rules, err := s.rules.PermissionRules(ctx, orgID, chunkIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve permissions: %w", err)
	}

	for _, c := range candidates {
		if rule, ok := rules[c.ChunkID]; ok {
			c.Permission = rule
		}
	}
	return nil
}

var _ ChunkStore = (*HybridStore)(nil)
