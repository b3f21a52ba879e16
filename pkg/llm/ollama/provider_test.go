package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/pkg/llm"
	"github.com/kart-io/answerd/pkg/llm/ollama"
)

func testProvider(baseURL string) *ollama.Provider {
	cfg := ollama.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 1
	return ollama.NewProviderWithConfig(cfg)
}

func contextChunks() []llm.ContextChunk {
	return []llm.ContextChunk{
		{
			ChunkID:      "c1",
			DocVersionID: "v-c1",
			SourceURL:    "https://kb.example.com/c1",
			Text:         "The deployment pipeline requires approval.",
		},
		{
			ChunkID:      "c2",
			DocVersionID: "v-c2",
			SourceURL:    "https://kb.example.com/c2",
			Text:         "Rollback restores the previous release.",
		},
	}
}

func TestEmbed(t *testing.T) {
	t.Run("returns one embedding per input", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/embed", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]any{
				"model":      "nomic-embed-text",
				"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}},
			})
		}))
		defer srv.Close()

		embeddings, err := testProvider(srv.URL).Embed(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		require.Len(t, embeddings, 2)
		assert.Equal(t, []float32{0.1, 0.2}, embeddings[0])
	})

	t.Run("count mismatch is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"embeddings": [][]float32{{0.1}},
			})
		}))
		defer srv.Close()

		_, err := testProvider(srv.URL).Embed(context.Background(), []string{"a", "b"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "count mismatch")
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		embeddings, err := testProvider("http://unused.invalid").Embed(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, embeddings)
	})
}

func TestAnswerQuestion(t *testing.T) {
	t.Run("parses markers into chunk citations and strips them", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/generate", r.URL.Path)

			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Contains(t, req["prompt"], "[1] https://kb.example.com/c1")
			assert.Equal(t, "be strict", req["system"])

			json.NewEncoder(w).Encode(map[string]any{
				"model":    "llama3.1:8b",
				"response": "Approval is required [1]. Rollback is automatic [2]. Also [1].",
				"done":     true,
			})
		}))
		defer srv.Close()

		result, err := testProvider(srv.URL).AnswerQuestion(
			context.Background(), "question", "be strict", contextChunks())
		require.NoError(t, err)

		assert.Equal(t, "Approval is required . Rollback is automatic . Also .", result.Answer)
		assert.Equal(t, "llama3.1:8b", result.Model)

		require.Len(t, result.Citations, 2)
		assert.Equal(t, "c1", result.Citations[0].ChunkID)
		assert.Equal(t, "v-c1", result.Citations[0].DocVersionID)
		assert.Equal(t, len(contextChunks()[0].Text), result.Citations[0].EndOffset)
		assert.Equal(t, "c2", result.Citations[1].ChunkID)
	})

	t.Run("out-of-range markers are ignored", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"response": "Approval is required [1, 7].",
			})
		}))
		defer srv.Close()

		result, err := testProvider(srv.URL).AnswerQuestion(
			context.Background(), "question", "", contextChunks())
		require.NoError(t, err)
		require.Len(t, result.Citations, 1)
		assert.Equal(t, "c1", result.Citations[0].ChunkID)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"response": "Approval is required [1]."})
		}))
		defer srv.Close()

		result, err := testProvider(srv.URL).AnswerQuestion(
			context.Background(), "question", "", contextChunks())
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, "Approval is required .", result.Answer)
	})

	t.Run("client errors do not retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := testProvider(srv.URL).AnswerQuestion(
			context.Background(), "question", "", contextChunks())
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestProviderRegistration(t *testing.T) {
	assert.Contains(t, llm.ListProviders(), ollama.ProviderName)

	embedder, err := llm.NewEmbeddingProvider(ollama.ProviderName, map[string]any{
		"base_url": "http://localhost:11434",
	})
	require.NoError(t, err)
	assert.Equal(t, ollama.ProviderName, embedder.Name())

	_, err = llm.NewLanguageModelProvider("no-such-provider", nil)
	assert.Error(t, err)
}
