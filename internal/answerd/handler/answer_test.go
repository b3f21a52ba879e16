package handler_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/internal/answerd/biz"
	"github.com/kart-io/answerd/internal/answerd/handler"
	"github.com/kart-io/answerd/internal/answerd/router"
	"github.com/kart-io/answerd/internal/answerd/store"
	"github.com/kart-io/answerd/pkg/llm"
)

type stubChunkStore struct {
	candidates []*store.RankedCandidate
	err        error
}

func (s *stubChunkStore) HybridSearch(ctx context.Context, orgID, query string, embedding []float32, filters *store.SearchFilters, poolSize int) ([]*store.RankedCandidate, error) {
	return s.candidates, s.err
}

func (s *stubChunkStore) Close(ctx context.Context) error { return nil }

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (stubEmbedder) Name() string { return "stub" }

type stubGenerator struct {
	result *llm.GenerateResult
	err    error
}

func (g *stubGenerator) AnswerQuestion(ctx context.Context, question, instruction string, contextChunks []llm.ContextChunk) (*llm.GenerateResult, error) {
	return g.result, g.err
}

func (g *stubGenerator) Name() string { return "stub" }

func newTestEngine(chunkStore *stubChunkStore, gen *stubGenerator) *gin.Engine {
	gin.SetMode(gin.TestMode)

	svc := biz.NewService(&biz.ServiceConfig{
		Retriever: biz.NewRetriever(chunkStore),
		Embedder:  stubEmbedder{},
		Generator: gen,
		Now:       func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) },
	})

	engine := gin.New()
	router.Register(engine, handler.NewAnswerHandler(svc))
	return engine
}

func groundedFixture() (*stubChunkStore, *stubGenerator) {
	chunk := store.Chunk{
		ChunkID:      "c1",
		DocVersionID: "v-c1",
		Text:         "The deployment pipeline requires approval from the platform team.",
		SourceURL:    "https://kb.example.com/c1",
		SourceScore:  90,
		UpdatedAt:    time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	chunkStore := &stubChunkStore{candidates: []*store.RankedCandidate{
		{Chunk: chunk, LexicalRank: 1, VectorRank: 1, MatchReason: "lexical+vector"},
	}}
	gen := &stubGenerator{result: &llm.GenerateResult{
		Answer: "The deployment pipeline requires approval from the platform team.",
		Citations: []llm.CitationRef{{
			ChunkID:      "c1",
			DocVersionID: "v-c1",
			SourceURL:    "https://kb.example.com/c1",
			EndOffset:    60,
		}},
	}}
	return chunkStore, gen
}

const answerBody = `{"org_id":"org-1","query":"Does the pipeline require approval?","mode":"ask","filters":{"principal_keys":["user:u1"]}}`

func postJSON(engine *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestCreateAnswer(t *testing.T) {
	t.Run("answers a grounded query", func(t *testing.T) {
		engine := newTestEngine(groundedFixture())

		w := postJSON(engine, "/v1/answers", answerBody)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"answer":"The deployment pipeline requires approval`)
		assert.Contains(t, w.Body.String(), `"status":"passed"`)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		engine := newTestEngine(groundedFixture())

		w := postJSON(engine, "/v1/answers", "{not json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid mode is a bad request", func(t *testing.T) {
		engine := newTestEngine(groundedFixture())

		w := postJSON(engine, "/v1/answers", `{"org_id":"org-1","query":"q","mode":"explain"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("retrieval failure is a bad gateway", func(t *testing.T) {
		_, gen := groundedFixture()
		engine := newTestEngine(&stubChunkStore{err: errors.New("mongo down")}, gen)

		w := postJSON(engine, "/v1/answers", answerBody)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("generation failure is a bad gateway", func(t *testing.T) {
		chunkStore, _ := groundedFixture()
		engine := newTestEngine(chunkStore, &stubGenerator{err: errors.New("model overloaded")})

		w := postJSON(engine, "/v1/answers", answerBody)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("invalid citations are unprocessable", func(t *testing.T) {
		chunkStore, _ := groundedFixture()
		gen := &stubGenerator{result: &llm.GenerateResult{
			Answer:    "The deployment pipeline requires approval from the platform team.",
			Citations: []llm.CitationRef{{ChunkID: "", SourceURL: "not-a-url"}},
		}}
		engine := newTestEngine(chunkStore, gen)

		w := postJSON(engine, "/v1/answers", answerBody)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

// streamRecorder adds the CloseNotifier the SSE handler expects.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		closed:           make(chan bool, 1),
	}
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func TestStreamAnswer(t *testing.T) {
	engine := newTestEngine(groundedFixture())

	req := httptest.NewRequest(http.MethodPost, "/v1/answers/stream", bytes.NewBufferString(answerBody))
	req.Header.Set("Content-Type", "application/json")
	w := newStreamRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	for _, event := range []string{"event:start", "event:sources", "event:chunk", "event:complete"} {
		assert.Contains(t, body, event)
	}
	assert.Less(t, strings.Index(body, "event:start"), strings.Index(body, "event:complete"))
}

func TestHealthz(t *testing.T) {
	engine := newTestEngine(groundedFixture())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestStats(t *testing.T) {
	engine := newTestEngine(groundedFixture())

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "queries_total")
}