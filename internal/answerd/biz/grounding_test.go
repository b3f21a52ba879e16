package biz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/internal/answerd/biz"
)

func TestCitationValid(t *testing.T) {
	base := biz.Citation{
		ChunkID:      "c1",
		DocVersionID: "v1",
		SourceURL:    "https://kb.example.com/doc1",
		StartOffset:  0,
		EndOffset:    120,
	}

	cases := []struct {
		name   string
		mutate func(c *biz.Citation)
		valid  bool
	}{
		{"well formed", func(c *biz.Citation) {}, true},
		{"missing chunk id", func(c *biz.Citation) { c.ChunkID = "" }, false},
		{"missing doc version", func(c *biz.Citation) { c.DocVersionID = "" }, false},
		{"inverted offsets", func(c *biz.Citation) { c.StartOffset, c.EndOffset = 10, 5 }, false},
		{"zero length span", func(c *biz.Citation) { c.StartOffset, c.EndOffset = 10, 10 }, true},
		{"relative url", func(c *biz.Citation) { c.SourceURL = "/doc1" }, false},
		{"ftp url", func(c *biz.Citation) { c.SourceURL = "ftp://host/doc1" }, false},
		{"plain http url", func(c *biz.Citation) { c.SourceURL = "http://kb.example.com/doc1" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			assert.Equal(t, tc.valid, c.Valid())
		})
	}
}

func TestAssessGrounding(t *testing.T) {
	chunkText := map[string]string{
		"c1": "The deployment pipeline requires approval from the platform team.",
		"c2": "Rollback procedures restore the previous release automatically.",
	}
	validCitation := biz.Citation{
		ChunkID:      "c1",
		DocVersionID: "v1",
		SourceURL:    "https://kb.example.com/doc1",
		EndOffset:    60,
	}
	invalidCitation := biz.Citation{
		ChunkID:   "c2",
		SourceURL: "https://kb.example.com/doc2",
		EndOffset: 60,
	}

	t.Run("invalid citations contribute no evidence", func(t *testing.T) {
		answer := "The deployment pipeline requires approval before release. " +
			"Rollback procedures restore earlier versions quickly. " +
			"Incident commanders coordinate postmortems afterwards. " +
			"Nothing mentioned matches either document whatsoever."

		report := biz.AssessGrounding(answer, []biz.Citation{validCitation, invalidCitation}, chunkText)
		require.NotNil(t, report)
		assert.Equal(t, 4, report.SentenceCount)
		assert.InDelta(t, 0.25, report.CitationCoverage, 1e-9)
		assert.Equal(t, 3, report.UnsupportedClaimCount)
	})

	t.Run("full overlap covers every sentence", func(t *testing.T) {
		answer := "The deployment pipeline requires approval. The platform team grants that approval."

		report := biz.AssessGrounding(answer, []biz.Citation{validCitation}, chunkText)
		assert.InDelta(t, 1.0, report.CitationCoverage, 1e-9)
		assert.Zero(t, report.UnsupportedClaimCount)
	})

	t.Run("zero overlap leaves every sentence unsupported", func(t *testing.T) {
		answer := "Kubernetes schedules workloads across nodes. Containers share the host kernel."

		report := biz.AssessGrounding(answer, []biz.Citation{validCitation}, chunkText)
		assert.Zero(t, report.CitationCoverage)
		assert.Equal(t, report.SentenceCount, report.UnsupportedClaimCount)
	})

	t.Run("no citations means zero coverage", func(t *testing.T) {
		answer := "The deployment pipeline requires approval before release."

		report := biz.AssessGrounding(answer, nil, chunkText)
		assert.Zero(t, report.CitationCoverage)
		assert.Equal(t, 1, report.UnsupportedClaimCount)
	})

	t.Run("answer without qualifying sentences is vacuously covered", func(t *testing.T) {
		report := biz.AssessGrounding("Ok.", nil, chunkText)
		assert.InDelta(t, 1.0, report.CitationCoverage, 1e-9)
		assert.Zero(t, report.SentenceCount)
	})
}
