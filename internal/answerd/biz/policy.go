package biz

import "time"

// PolicyVersion identifies the quality-contract policy revision
// recorded in every contract result.
const PolicyVersion = "v1"

// Policy holds the answer-quality thresholds. All fields are named and
// overridable; the defaults reproduce the production behavior.
type Policy struct {
	// CitationRequired blocks groundedness when no citations survive.
	CitationRequired bool `json:"citation_required"`

	// MinCitationCoverage is the minimum fraction of answer sentences
	// that must be supported by cited evidence.
	MinCitationCoverage float64 `json:"min_citation_coverage"`

	// MaxUnsupportedClaims is the maximum number of unsupported answer
	// sentences tolerated.
	MaxUnsupportedClaims int `json:"max_unsupported_claims"`

	// FreshnessWindow is the age beyond which evidence counts as stale.
	FreshnessWindow time.Duration `json:"freshness_window"`

	// MinFreshCoverage is the minimum fraction of citations that must
	// be fresh.
	MinFreshCoverage float64 `json:"min_fresh_coverage"`

	// ClaimOverlapThreshold is the minimum term-overlap ratio for a
	// citation to count as supporting a claim.
	ClaimOverlapThreshold float64 `json:"claim_overlap_threshold"`

	// RetrievalPoolMin and RetrievalPoolMultiplier size the candidate
	// pool as max(RetrievalPoolMin, limit*RetrievalPoolMultiplier).
	RetrievalPoolMin        int `json:"retrieval_pool_min"`
	RetrievalPoolMultiplier int `json:"retrieval_pool_multiplier"`
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() *Policy {
	return &Policy{
		CitationRequired:        true,
		MinCitationCoverage:     0.8,
		MaxUnsupportedClaims:    0,
		FreshnessWindow:         30 * 24 * time.Hour,
		MinFreshCoverage:        0.8,
		ClaimOverlapThreshold:   0.14,
		RetrievalPoolMin:        30,
		RetrievalPoolMultiplier: 5,
	}
}

// PoolSize returns the retrieval pool size for the given result limit.
func (p *Policy) PoolSize(limit int) int {
	size := limit * p.RetrievalPoolMultiplier
	if size < p.RetrievalPoolMin {
		size = p.RetrievalPoolMin
	}
	return size
}
