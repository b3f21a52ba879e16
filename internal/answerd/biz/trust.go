package biz

import (
	"math"
	"time"

	"github.com/kart-io/answerd/internal/pkg/textutil"
)

// TrustModelVersion identifies the scoring model recorded with every
// computed score.
const TrustModelVersion = "trust-v1"

// recencyHalfLife is the half-life of the recency decay factor.
const recencyHalfLife = 14 * 24 * time.Hour

// Trust factor weights. They sum to 1.
const (
	recencyWeight          = 0.35
	sourceAuthorityWeight  = 0.25
	authorAuthorityWeight  = 0.20
	citationCoverageWeight = 0.20
)

// TrustFactors are the normalized inputs of a source trust score, each
// in [0, 1].
type TrustFactors struct {
	Recency          float64 `json:"recency"`
	SourceAuthority  float64 `json:"source_authority"`
	AuthorAuthority  float64 `json:"author_authority"`
	CitationCoverage float64 `json:"citation_coverage"`
}

// SourceScore is a composite 0-100 trust score for an evidence source.
type SourceScore struct {
	Total        int          `json:"total"`
	Factors      TrustFactors `json:"factors"`
	ComputedAt   time.Time    `json:"computed_at"`
	ModelVersion string       `json:"model_version"`
}

// RecencyDecay returns the recency factor for a source last updated at
// the given RFC 3339 timestamp, using a 14-day half-life. Unparsable
// timestamps yield 0; future-dated timestamps clamp to 1, so decay
// stays monotonically non-increasing across clock-skewed connector
// updates.
func RecencyDecay(updatedAt string, now time.Time) float64 {
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0
	}
	ageHours := now.Sub(t).Hours()
	return textutil.HalfLifeDecay(ageHours, recencyHalfLife.Hours())
}

// ComputeSourceScore computes the composite trust score from the
// source's last-update time and its normalized authority and citation
// factors. Pure and deterministic given now.
func ComputeSourceScore(updatedAt string, sourceAuthority, authorAuthority, citationCoverage float64, now time.Time) *SourceScore {
	factors := TrustFactors{
		Recency:          RecencyDecay(updatedAt, now),
		SourceAuthority:  textutil.Clamp01(sourceAuthority),
		AuthorAuthority:  textutil.Clamp01(authorAuthority),
		CitationCoverage: textutil.Clamp01(citationCoverage),
	}

	weighted := recencyWeight*factors.Recency +
		sourceAuthorityWeight*factors.SourceAuthority +
		authorAuthorityWeight*factors.AuthorAuthority +
		citationCoverageWeight*factors.CitationCoverage

	return &SourceScore{
		Total:        int(math.Round(textutil.Clamp01(weighted) * 100)),
		Factors:      factors,
		ComputedAt:   now,
		ModelVersion: TrustModelVersion,
	}
}
