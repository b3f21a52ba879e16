package biz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/internal/answerd/biz"
)

func TestBuildClaims(t *testing.T) {
	chunkText := map[string]string{
		"c1": "The deployment pipeline requires approval from the platform team.",
	}
	citation := biz.Citation{
		ChunkID:      "c1",
		DocVersionID: "v1",
		SourceURL:    "https://kb.example.com/doc1",
		EndOffset:    60,
	}
	threshold := 0.14

	t.Run("claims keep sentence order and supporting citations", func(t *testing.T) {
		answer := "The deployment pipeline requires approval. Weather forecasts remain entirely unrelated material."

		claims := biz.BuildClaims(answer, []biz.Citation{citation}, chunkText, threshold)
		require.Len(t, claims, 2)

		assert.Equal(t, "claim-000", claims[0].ID)
		assert.Equal(t, 0, claims[0].Order)
		assert.True(t, claims[0].Supported)
		require.Len(t, claims[0].Citations, 1)
		assert.Equal(t, "c1", claims[0].Citations[0].ChunkID)

		assert.Equal(t, "claim-001", claims[1].ID)
		assert.Equal(t, 1, claims[1].Order)
		assert.False(t, claims[1].Supported)
		assert.Empty(t, claims[1].Citations)
	})

	t.Run("overlap below the threshold does not attach", func(t *testing.T) {
		// One of nine claim terms overlaps, ratio 0.111.
		answer := "Alpha bravo charlie delta echoes foxtrot golfers hotels pipeline."

		claims := biz.BuildClaims(answer, []biz.Citation{citation}, chunkText, threshold)
		require.Len(t, claims, 1)
		assert.False(t, claims[0].Supported)
	})

	t.Run("short answer collapses to a single whole-text claim", func(t *testing.T) {
		claims := biz.BuildClaims("  Short answer. ", []biz.Citation{citation}, chunkText, threshold)
		require.Len(t, claims, 1)
		assert.Equal(t, "Short answer.", claims[0].Text)
		assert.Equal(t, 0, claims[0].Order)
	})

	t.Run("invalid citations never attach", func(t *testing.T) {
		invalid := citation
		invalid.DocVersionID = ""
		answer := "The deployment pipeline requires approval from the team."

		claims := biz.BuildClaims(answer, []biz.Citation{invalid}, chunkText, threshold)
		require.Len(t, claims, 1)
		assert.False(t, claims[0].Supported)
		assert.Empty(t, claims[0].Citations)
	})

	t.Run("empty answer yields no claims", func(t *testing.T) {
		assert.Empty(t, biz.BuildClaims("   ", nil, chunkText, threshold))
	})
}
