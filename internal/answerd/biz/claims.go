package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/answerd/internal/pkg/textutil"
)

// AnswerClaim is one atomic claim extracted from an answer, with the
// citations that support it. Order matches sentence order.
type AnswerClaim struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Order     int        `json:"order"`
	Supported bool       `json:"supported"`
	Citations []Citation `json:"citations"`
}

// BuildClaims splits the answer into ordered claims and attaches the
// citations whose chunk text overlaps each claim by at least the
// overlap threshold. When no fragment qualifies as a sentence, the
// whole trimmed answer becomes a single claim.
func BuildClaims(answer string, citations []Citation, chunkText map[string]string, overlapThreshold float64) []AnswerClaim {
	sentences := textutil.SplitSentences(answer)
	if len(sentences) == 0 {
		trimmed := strings.TrimSpace(answer)
		if trimmed == "" {
			return nil
		}
		sentences = []string{trimmed}
	}

	valid := ValidCitations(citations)
	citationTerms := make([]map[string]struct{}, len(valid))
	for i, c := range valid {
		citationTerms[i] = textutil.TermSet(chunkText[c.ChunkID])
	}

	claims := make([]AnswerClaim, 0, len(sentences))
	for i, sentence := range sentences {
		claimTerms := textutil.TermSet(sentence)

		var matched []Citation
		for j, c := range valid {
			if textutil.OverlapRatio(claimTerms, citationTerms[j]) >= overlapThreshold {
				matched = append(matched, c)
			}
		}

		claims = append(claims, AnswerClaim{
			ID:        claimID(i),
			Text:      sentence,
			Order:     i,
			Supported: len(matched) > 0,
			Citations: matched,
		})
	}
	return claims
}

func claimID(order int) string {
	return fmt.Sprintf("claim-%03d", order)
}
