package biz

import (
	"net/url"

	"github.com/kart-io/answerd/internal/pkg/textutil"
)

// Citation points at the evidence span backing part of an answer.
type Citation struct {
	ChunkID      string `json:"chunk_id"`
	DocVersionID string `json:"doc_version_id"`
	SourceURL    string `json:"source_url"`
	StartOffset  int    `json:"start_offset"`
	EndOffset    int    `json:"end_offset"`
}

// Valid reports whether the citation is well formed: non-empty chunk
// and document version ids, a non-inverted offset range, and an
// absolute http(s) source URL.
func (c Citation) Valid() bool {
	if c.ChunkID == "" || c.DocVersionID == "" {
		return false
	}
	if c.EndOffset < c.StartOffset {
		return false
	}
	u, err := url.Parse(c.SourceURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// ValidCitations filters the citation list to well-formed entries.
func ValidCitations(citations []Citation) []Citation {
	valid := make([]Citation, 0, len(citations))
	for _, c := range citations {
		if c.Valid() {
			valid = append(valid, c)
		}
	}
	return valid
}

// GroundingReport measures how well an answer's sentences are backed
// by the text of its citations.
type GroundingReport struct {
	// CitationCoverage is the fraction of answer sentences that share
	// at least one content term with the cited evidence.
	CitationCoverage float64 `json:"citation_coverage"`

	// UnsupportedClaimCount is the number of sentences with no term in
	// common with the cited evidence.
	UnsupportedClaimCount int `json:"unsupported_claim_count"`

	// SentenceCount is the number of sentences assessed.
	SentenceCount int `json:"sentence_count"`
}

// AssessGrounding splits the answer into sentences and checks each one
// for term overlap with the union of the cited chunks' text. Invalid
// citations contribute no evidence. An answer with no qualifying
// sentences is vacuously covered; citations whose chunks yield no
// content terms leave every sentence unsupported.
func AssessGrounding(answer string, citations []Citation, chunkText map[string]string) *GroundingReport {
	sentences := textutil.SplitSentences(answer)
	if len(sentences) == 0 {
		return &GroundingReport{CitationCoverage: 1}
	}

	citedTerms := make(map[string]struct{})
	for _, c := range ValidCitations(citations) {
		for term := range textutil.TermSet(chunkText[c.ChunkID]) {
			citedTerms[term] = struct{}{}
		}
	}
	if len(citedTerms) == 0 {
		return &GroundingReport{
			UnsupportedClaimCount: len(sentences),
			SentenceCount:         len(sentences),
		}
	}

	supported := 0
	for _, sentence := range sentences {
		if textutil.SharesTerm(textutil.TermSet(sentence), citedTerms) {
			supported++
		}
	}

	return &GroundingReport{
		CitationCoverage:      float64(supported) / float64(len(sentences)),
		UnsupportedClaimCount: len(sentences) - supported,
		SentenceCount:         len(sentences),
	}
}
