package biz

import "time"

// GateStatus is the outcome of a quality dimension or the whole
// contract.
type GateStatus string

const (
	StatusPassed  GateStatus = "passed"
	StatusBlocked GateStatus = "blocked"
)

// ReasonCode is a closed, enumerable gate decision code. The gate
// never emits free-text codes.
type ReasonCode string

const (
	ReasonNoCitations        ReasonCode = "groundedness.no_citations"
	ReasonLowCoverage        ReasonCode = "groundedness.low_coverage"
	ReasonUnsupportedClaims  ReasonCode = "groundedness.unsupported_claims"
	ReasonNoFreshCitations   ReasonCode = "freshness.no_fresh_citations"
	ReasonLowFreshCoverage   ReasonCode = "freshness.low_fresh_coverage"
	ReasonHistoricalOverride ReasonCode = "freshness.historical_override"
	ReasonNoPrincipals       ReasonCode = "permission.no_principals"
	ReasonNoCandidates       ReasonCode = "permission.no_candidates"
	ReasonNoCitedEvidence    ReasonCode = "permission.no_citations"
)

var reasonText = map[ReasonCode]string{
	ReasonNoCitations:        "answer carries no valid citations",
	ReasonLowCoverage:        "citation coverage below required minimum",
	ReasonUnsupportedClaims:  "answer contains unsupported claims",
	ReasonNoFreshCitations:   "no citation falls within the freshness window",
	ReasonLowFreshCoverage:   "fresh citation coverage below required minimum",
	ReasonHistoricalOverride: "freshness check disabled by historical-evidence override",
	ReasonNoPrincipals:       "caller supplied no viewer principals",
	ReasonNoCandidates:       "no permitted evidence candidates were found",
	ReasonNoCitedEvidence:    "no permitted evidence was cited",
}

// DimensionResult is the verdict of one quality dimension.
type DimensionResult struct {
	Status      GateStatus         `json:"status"`
	Reasons     []string           `json:"reasons,omitempty"`
	ReasonCodes []ReasonCode       `json:"reason_codes,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

func (d *DimensionResult) block(code ReasonCode) {
	d.Status = StatusBlocked
	d.ReasonCodes = append(d.ReasonCodes, code)
	d.Reasons = append(d.Reasons, reasonText[code])
}

// ContractDimensions groups the three quality dimensions.
type ContractDimensions struct {
	Groundedness     DimensionResult `json:"groundedness"`
	Freshness        DimensionResult `json:"freshness"`
	PermissionSafety DimensionResult `json:"permission_safety"`
}

// QualityContract is the gate's full verdict, carrying the policy
// snapshot it was evaluated against.
type QualityContract struct {
	Version                 string             `json:"version"`
	Status                  GateStatus         `json:"status"`
	Policy                  Policy             `json:"policy"`
	AllowHistoricalEvidence bool               `json:"allow_historical_evidence"`
	Dimensions              ContractDimensions `json:"dimensions"`
}

// Blocked reports whether the contract blocks the answer.
func (c *QualityContract) Blocked() bool {
	return c.Status == StatusBlocked
}

// GateInput is the evidence the gate evaluates.
type GateInput struct {
	// Citations is the final citation list of the answer.
	Citations []Citation

	// Grounding is the grounding report for the final answer text.
	Grounding *GroundingReport

	// UpdatedAtByChunk maps cited chunk ids to their source update
	// timestamps (RFC 3339). Missing or unparsable entries count as
	// stale.
	UpdatedAtByChunk map[string]string

	// CandidateCount is the size of the permitted retrieval pool.
	CandidateCount int

	// PrincipalCount is the number of viewer principals the caller
	// supplied.
	PrincipalCount int

	// AllowHistoricalEvidence disables the freshness dimension.
	AllowHistoricalEvidence bool

	// Now anchors freshness classification.
	Now time.Time
}

// EvaluateQualityContract evaluates the three quality dimensions
// independently and blocks the contract when any dimension blocks.
// The gate is stateless; the same input always yields the same
// verdict.
func EvaluateQualityContract(policy *Policy, in *GateInput) *QualityContract {
	contract := &QualityContract{
		Version:                 PolicyVersion,
		Status:                  StatusPassed,
		Policy:                  *policy,
		AllowHistoricalEvidence: in.AllowHistoricalEvidence,
		Dimensions: ContractDimensions{
			Groundedness:     evaluateGroundedness(policy, in),
			Freshness:        evaluateFreshness(policy, in),
			PermissionSafety: evaluatePermissionSafety(in),
		},
	}

	if contract.Dimensions.Groundedness.Status == StatusBlocked ||
		contract.Dimensions.Freshness.Status == StatusBlocked ||
		contract.Dimensions.PermissionSafety.Status == StatusBlocked {
		contract.Status = StatusBlocked
	}
	return contract
}

func evaluateGroundedness(policy *Policy, in *GateInput) DimensionResult {
	valid := ValidCitations(in.Citations)
	result := DimensionResult{
		Status: StatusPassed,
		Metrics: map[string]float64{
			"citation_count":     float64(len(valid)),
			"citation_coverage":  in.Grounding.CitationCoverage,
			"unsupported_claims": float64(in.Grounding.UnsupportedClaimCount),
		},
	}

	if policy.CitationRequired && len(valid) == 0 {
		result.block(ReasonNoCitations)
	}
	if in.Grounding.CitationCoverage < policy.MinCitationCoverage {
		result.block(ReasonLowCoverage)
	}
	if in.Grounding.UnsupportedClaimCount > policy.MaxUnsupportedClaims {
		result.block(ReasonUnsupportedClaims)
	}
	return result
}

func evaluateFreshness(policy *Policy, in *GateInput) DimensionResult {
	if in.AllowHistoricalEvidence {
		return DimensionResult{
			Status:      StatusPassed,
			Reasons:     []string{reasonText[ReasonHistoricalOverride]},
			ReasonCodes: []ReasonCode{ReasonHistoricalOverride},
		}
	}

	valid := ValidCitations(in.Citations)
	cutoff := in.Now.Add(-policy.FreshnessWindow)

	fresh := 0
	for _, c := range valid {
		t, err := time.Parse(time.RFC3339, in.UpdatedAtByChunk[c.ChunkID])
		if err != nil {
			continue
		}
		if !t.Before(cutoff) {
			fresh++
		}
	}

	freshCoverage := 0.0
	if len(valid) > 0 {
		freshCoverage = float64(fresh) / float64(len(valid))
	}

	result := DimensionResult{
		Status: StatusPassed,
		Metrics: map[string]float64{
			"fresh_citation_count": float64(fresh),
			"stale_citation_count": float64(len(valid) - fresh),
			"fresh_coverage":       freshCoverage,
		},
	}

	if fresh == 0 {
		result.block(ReasonNoFreshCitations)
	}
	if freshCoverage < policy.MinFreshCoverage {
		result.block(ReasonLowFreshCoverage)
	}
	return result
}

func evaluatePermissionSafety(in *GateInput) DimensionResult {
	result := DimensionResult{
		Status: StatusPassed,
		Metrics: map[string]float64{
			"principal_count": float64(in.PrincipalCount),
			"candidate_count": float64(in.CandidateCount),
			"citation_count":  float64(len(in.Citations)),
		},
	}

	if in.PrincipalCount == 0 {
		result.block(ReasonNoPrincipals)
	}
	if in.CandidateCount == 0 {
		result.block(ReasonNoCandidates)
	}
	if len(in.Citations) == 0 {
		result.block(ReasonNoCitedEvidence)
	}
	return result
}
