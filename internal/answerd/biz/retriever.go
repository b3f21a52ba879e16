package biz

import (
	"context"
	"sort"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/answerd/internal/answerd/store"
	"github.com/kart-io/answerd/internal/pkg/textutil"
)

// Reciprocal rank fusion parameters.
const (
	rrfK               = 60
	trustBoostWeight   = 0.2
	recencyBoostWeight = 0.1
	recencyBoostWindow = 30 * 24 * time.Hour
)

// ScoredCandidate is a retrieval candidate with its fused score.
type ScoredCandidate struct {
	*store.RankedCandidate

	// Score is the reciprocal-rank-fusion score with trust and recency
	// boosts applied.
	Score float64 `json:"score"`
}

// Retriever ranks evidence for a query: permission filtering first,
// then rank fusion, dedup, and truncation to the caller's limit.
type Retriever struct {
	store store.ChunkStore
}

// NewRetriever creates a retriever over the given chunk store.
func NewRetriever(chunkStore store.ChunkStore) *Retriever {
	return &Retriever{store: chunkStore}
}

// Retrieve runs the hybrid search and returns the top limit candidates
// sorted descending by fused score. Store failures surface as
// RetrievalError.
func (r *Retriever) Retrieve(ctx context.Context, orgID, query string, embedding []float32, filters *store.SearchFilters, limit int, poolSize int, now time.Time) ([]*ScoredCandidate, error) {
	candidates, err := r.store.HybridSearch(ctx, orgID, query, embedding, filters, poolSize)
	if err != nil {
		return nil, &RetrievalError{Err: err}
	}

	var principals []string
	if filters != nil {
		principals = filters.PrincipalKeys
	}

	permitted := make([]*store.RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		if Permitted(c.Permission, principals) {
			permitted = append(permitted, c)
		}
	}

	logger.Debugw("retrieval pool filtered",
		"org_id", orgID,
		"candidates", len(candidates),
		"permitted", len(permitted))

	return fuse(permitted, now, limit), nil
}

// Permitted applies the fail-closed principal check for a knowledge
// object. A nil rule means an ordinary corpus chunk, which is always
// permitted. Objects in inherited_source_acl mode are resolved by the
// connector layer and excluded here. Unknown modes are excluded.
func Permitted(rule *store.PermissionRule, principals []string) bool {
	if rule == nil {
		return true
	}
	switch rule.Mode {
	case store.PermissionOrgWide:
		return true
	case store.PermissionInheritedSourceACL:
		return false
	case store.PermissionCustom:
		for _, deny := range rule.Deny {
			for _, p := range principals {
				if deny == p {
					return false
				}
			}
		}
		if len(rule.Allow) == 0 {
			return true
		}
		for _, allow := range rule.Allow {
			for _, p := range principals {
				if allow == p {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// FuseRankings fuses caller-supplied per-pass rankings for the given
// chunks. Ranks are 1-based, 0 meaning absent from that pass. Returns
// ValidationError when the array lengths disagree.
func FuseRankings(chunks []store.Chunk, lexicalRanks, vectorRanks []int, limit int, now time.Time) ([]*ScoredCandidate, error) {
	if len(lexicalRanks) != len(chunks) || len(vectorRanks) != len(chunks) {
		return nil, &ValidationError{
			Field:   "rankings",
			Message: "lexical, vector and chunk array lengths must match",
		}
	}

	candidates := make([]*store.RankedCandidate, len(chunks))
	for i := range chunks {
		candidates[i] = &store.RankedCandidate{
			Chunk:       chunks[i],
			LexicalRank: lexicalRanks[i],
			VectorRank:  vectorRanks[i],
		}
	}
	return fuse(candidates, now, limit), nil
}

// fuse scores candidates with reciprocal rank fusion plus trust and
// recency boosts, dedupes by chunk id keeping the higher score, and
// returns the top limit sorted descending. Ties break on chunk id so
// the ordering is deterministic.
func fuse(candidates []*store.RankedCandidate, now time.Time, limit int) []*ScoredCandidate {
	byID := make(map[string]*ScoredCandidate, len(candidates))
	for _, c := range candidates {
		scored := &ScoredCandidate{RankedCandidate: c, Score: fusedScore(c, now)}
		if prev, ok := byID[c.ChunkID]; ok && prev.Score >= scored.Score {
			continue
		}
		byID[c.ChunkID] = scored
	}

	fused := make([]*ScoredCandidate, 0, len(byID))
	for _, c := range byID {
		fused = append(fused, c)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})

	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}

func fusedScore(c *store.RankedCandidate, now time.Time) float64 {
	var score float64
	if c.VectorRank > 0 {
		score += 1 / float64(rrfK+c.VectorRank)
	}
	if c.LexicalRank > 0 {
		score += 1 / float64(rrfK+c.LexicalRank)
	}
	score += trustBoostWeight * textutil.Clamp01(c.SourceScore/100)
	score += recencyBoostWeight * recencyNorm(c.UpdatedAt, now)
	return score
}

// recencyNorm decays linearly from 1 to 0 over the boost window.
// Unparsable timestamps get no boost.
func recencyNorm(updatedAt string, now time.Time) float64 {
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0
	}
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	norm := 1 - float64(age)/float64(recencyBoostWindow)
	if norm < 0 {
		return 0
	}
	return norm
}
