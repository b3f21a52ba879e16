package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/answerd/internal/answerd/metrics"
	"github.com/kart-io/answerd/internal/answerd/store"
	"github.com/kart-io/answerd/internal/pkg/textutil"
	"github.com/kart-io/answerd/pkg/llm"
)

// Answer modes.
const (
	ModeAsk       = "ask"
	ModeSummarize = "summarize"
	ModeTrace     = "trace"
)

// FallbackAnswer replaces the generated text whenever the quality gate
// blocks the answer.
const FallbackAnswer = "I could not find enough trustworthy, up-to-date evidence to answer this question."

// DefaultResultLimit is the evidence list size when the caller does
// not set one.
const DefaultResultLimit = 8

// Confidence blend weights and bounds.
const (
	confidenceModelWeight     = 0.10
	confidenceRetrievalWeight = 0.35
	confidenceCoverageWeight  = 0.35
	confidenceTrustWeight     = 0.20
	confidenceFloor           = 0.05
	confidenceCeiling         = 0.99
)

// Job names for follow-up side effects.
const (
	JobUsageMetering = "usage.metering"
	JobAnswerReview  = "answer.review"
	JobAnswerEval    = "answer.eval"
)

var modeInstructions = map[string]string{
	ModeAsk:       "Answer the question directly and concisely, citing the evidence for every statement.",
	ModeSummarize: "Summarize the relevant evidence into a structured overview, citing each source you draw from.",
	ModeTrace:     "Walk through the reasoning step by step, citing the evidence that supports each step.",
}

// strictInstruction is the regeneration instruction used after a
// low-coverage first attempt.
const strictInstruction = "State only claims that are directly supported by the provided evidence, and cite the supporting evidence for every claim. Omit anything the evidence does not support."

// AnswerQueryRequest is one answer query.
type AnswerQueryRequest struct {
	OrgID                   string               `json:"org_id"`
	Query                   string               `json:"query"`
	Mode                    string               `json:"mode"`
	Filters                 *store.SearchFilters `json:"filters,omitempty"`
	AllowHistoricalEvidence bool                 `json:"allow_historical_evidence,omitempty"`
	ThreadID                string               `json:"thread_id,omitempty"`
	Limit                   int                  `json:"limit,omitempty"`
}

// Validate checks the request fields.
func (r *AnswerQueryRequest) Validate() error {
	if r.OrgID == "" {
		return &ValidationError{Field: "org_id", Message: "must not be empty"}
	}
	if r.Query == "" {
		return &ValidationError{Field: "query", Message: "must not be empty"}
	}
	switch r.Mode {
	case ModeAsk, ModeSummarize, ModeTrace:
		return nil
	default:
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", r.Mode)}
	}
}

// Provenance carries the source metadata used by freshness checks.
type Provenance struct {
	Author       string `json:"author,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	DocVersionID string `json:"doc_version_id"`
}

// EvidenceItem is a retrieval-ranked view of a chunk exposed in the
// response.
type EvidenceItem struct {
	ChunkID     string     `json:"chunk_id"`
	SourceURL   string     `json:"source_url"`
	Snippet     string     `json:"snippet"`
	Relevance   float64    `json:"relevance"`
	SourceScore float64    `json:"source_score"`
	Reason      string     `json:"reason"`
	Provenance  Provenance `json:"provenance"`
}

// GroundingSummary is the grounding section of the response.
type GroundingSummary struct {
	CitationCoverage      float64 `json:"citation_coverage"`
	UnsupportedClaimCount int     `json:"unsupported_claim_count"`
	RetrievalScore        float64 `json:"retrieval_score"`
}

// Traceability summarizes how auditable the answer is.
type Traceability struct {
	Coverage           float64 `json:"coverage"`
	MissingAuthorCount int     `json:"missing_author_count"`
	MissingDateCount   int     `json:"missing_date_count"`
}

// Timings records pipeline stage durations.
type Timings struct {
	RetrievalMs  int64 `json:"retrieval_ms"`
	GenerationMs int64 `json:"generation_ms"`
}

// AnswerQueryResponse is the full answer payload.
type AnswerQueryResponse struct {
	Answer          string           `json:"answer"`
	Confidence      float64          `json:"confidence"`
	SourceScore     float64          `json:"source_score"`
	Citations       []Citation       `json:"citations"`
	Claims          []AnswerClaim    `json:"claims"`
	Sources         []EvidenceItem   `json:"sources"`
	Grounding       GroundingSummary `json:"grounding"`
	Traceability    Traceability     `json:"traceability"`
	QualityContract *QualityContract `json:"quality_contract"`
	Timings         Timings          `json:"timings"`
	Mode            string           `json:"mode"`
	Model           string           `json:"model,omitempty"`
	ThreadID        string           `json:"thread_id,omitempty"`
	MessageID       string           `json:"message_id,omitempty"`
}

// AnswerRepository persists the full response transactionally.
type AnswerRepository interface {
	SaveAnswer(ctx context.Context, req *AnswerQueryRequest, resp *AnswerQueryResponse) (threadID, messageID string, err error)
}

// JobScheduler enqueues fire-and-forget follow-up jobs.
type JobScheduler interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

// Stream event types, emitted in order: start, sources, chunk*,
// then complete or error.
const (
	EventStart    = "start"
	EventSources  = "sources"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one event of the streaming answer sequence. Chunk
// events are provisional; only the complete event carries the gated
// payload.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// streamChunkSize is the rune length of one chunk event.
const streamChunkSize = 80

// Service orchestrates one answer query end to end: retrieval,
// generation with one bounded regeneration retry, claim extraction,
// quality gating, persistence, and follow-up jobs.
type Service struct {
	retriever *Retriever
	embedder  llm.EmbeddingProvider
	generator llm.LanguageModelProvider
	repo      AnswerRepository
	jobs      JobScheduler
	cache     *AnswerCache
	policy    *Policy
	metrics   *metrics.AnswerMetrics
	now       func() time.Time
	tracer    trace.Tracer
}

// ServiceConfig wires the service collaborators. Repo, Jobs and Cache
// are optional; Now defaults to time.Now.
type ServiceConfig struct {
	Retriever *Retriever
	Embedder  llm.EmbeddingProvider
	Generator llm.LanguageModelProvider
	Repo      AnswerRepository
	Jobs      JobScheduler
	Cache     *AnswerCache
	Policy    *Policy
	Now       func() time.Time
}

// NewService creates the answer orchestrator.
func NewService(cfg *ServiceConfig) *Service {
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		retriever: cfg.Retriever,
		embedder:  cfg.Embedder,
		generator: cfg.Generator,
		repo:      cfg.Repo,
		jobs:      cfg.Jobs,
		cache:     cfg.Cache,
		policy:    policy,
		metrics:   metrics.Get(),
		now:       now,
		tracer:    otel.Tracer("answerd"),
	}
}

// Policy returns the active quality policy.
func (s *Service) Policy() *Policy {
	return s.policy
}

// AnswerQuery answers one query. A blocked quality gate is not an
// error: the response comes back with status blocked and the fallback
// answer text.
func (s *Service) AnswerQuery(ctx context.Context, req *AnswerQueryRequest) (*AnswerQueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached := s.cache.Get(ctx, req.OrgID, req.Mode, req.Query); cached != nil {
			s.metrics.RecordCacheLookup(true)
			return cached, nil
		}
		s.metrics.RecordCacheLookup(false)
	}

	resp, err := s.answer(ctx, req, nil)
	s.metrics.RecordQuery(resp != nil && resp.QualityContract.Blocked(), err)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, req.OrgID, req.Mode, req.Query, resp)
	}
	return resp, nil
}

// AnswerQueryStream answers one query as an ordered event stream. The
// channel is closed after the terminal complete or error event.
func (s *Service) AnswerQueryStream(ctx context.Context, req *AnswerQueryRequest) (<-chan *StreamEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	events := make(chan *StreamEvent, 16)
	go func() {
		defer close(events)

		emit := func(ev *StreamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		emit(&StreamEvent{Type: EventStart, Data: map[string]string{"mode": req.Mode}})

		resp, err := s.answer(ctx, req, emit)
		s.metrics.RecordQuery(resp != nil && resp.QualityContract.Blocked(), err)
		if err != nil {
			emit(&StreamEvent{Type: EventError, Data: map[string]string{"message": err.Error()}})
			return
		}

		if s.cache != nil {
			s.cache.Set(ctx, req.OrgID, req.Mode, req.Query, resp)
		}
		emit(&StreamEvent{Type: EventComplete, Data: resp})
	}()
	return events, nil
}

// answer runs the pipeline. emit is nil for non-streaming calls;
// when set, it receives sources and provisional chunk events.
func (s *Service) answer(ctx context.Context, req *AnswerQueryRequest, emit func(*StreamEvent)) (*AnswerQueryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "answerd.AnswerQuery", trace.WithAttributes(
		attribute.String("org_id", req.OrgID),
		attribute.String("mode", req.Mode),
	))
	defer span.End()

	now := s.now()
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultResultLimit
	}

	embedding, err := s.embedder.EmbedSingle(ctx, req.Query)
	if err != nil {
		return nil, &RetrievalError{Err: fmt.Errorf("query embedding failed: %w", err)}
	}

	retrievalStart := time.Now()
	candidates, err := s.retriever.Retrieve(ctx, req.OrgID, req.Query, embedding, req.Filters,
		limit, s.policy.PoolSize(limit), now)
	retrievalMs := time.Since(retrievalStart).Milliseconds()
	s.metrics.RecordRetrieval(time.Since(retrievalStart), err)
	if err != nil {
		return nil, err
	}

	principalCount := 0
	if req.Filters != nil {
		principalCount = len(req.Filters.PrincipalKeys)
	}

	if len(candidates) == 0 {
		resp := s.blockedEmptyResponse(req, principalCount, now, retrievalMs)
		if err := s.finalize(ctx, req, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	sources := buildEvidenceItems(candidates)
	chunkText := make(map[string]string, len(candidates))
	updatedAt := make(map[string]string, len(candidates))
	sourceScore := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		chunkText[c.ChunkID] = c.Text
		updatedAt[c.ChunkID] = c.UpdatedAt
		sourceScore[c.ChunkID] = c.SourceScore
	}

	if emit != nil {
		emit(&StreamEvent{Type: EventSources, Data: sources})
	}

	retrievalScore := computeRetrievalScore(sources)

	result, citations, grounding, generationMs, err := s.generateGrounded(ctx, req, candidates, sources, chunkText)
	if err != nil {
		return nil, err
	}

	if emit != nil {
		emitChunks(emit, result.Answer)
	}

	if len(ValidCitations(citations)) == 0 {
		return nil, &GroundingError{Message: "missing citations for generated claim"}
	}

	claims := BuildClaims(result.Answer, citations, chunkText, s.policy.ClaimOverlapThreshold)
	traceability := computeTraceability(claims, sources)
	citationTrust := computeCitationTrust(citations, sourceScore)

	confidence := textutil.Clamp(
		confidenceModelWeight*textutil.Clamp01(result.Confidence)+
			confidenceRetrievalWeight*retrievalScore+
			confidenceCoverageWeight*grounding.CitationCoverage+
			confidenceTrustWeight*citationTrust,
		confidenceFloor, confidenceCeiling)

	contract := EvaluateQualityContract(s.policy, &GateInput{
		Citations:               citations,
		Grounding:               grounding,
		UpdatedAtByChunk:        updatedAt,
		CandidateCount:          len(candidates),
		PrincipalCount:          principalCount,
		AllowHistoricalEvidence: req.AllowHistoricalEvidence,
		Now:                     now,
	})

	answer := result.Answer
	if contract.Blocked() {
		answer = FallbackAnswer
		logger.Infow("answer blocked by quality gate",
			"org_id", req.OrgID,
			"mode", req.Mode,
			"groundedness", contract.Dimensions.Groundedness.Status,
			"freshness", contract.Dimensions.Freshness.Status,
			"permission_safety", contract.Dimensions.PermissionSafety.Status)
	}

	resp := &AnswerQueryResponse{
		Answer:      answer,
		Confidence:  confidence,
		SourceScore: citationTrust * 100,
		Citations:   citations,
		Claims:      claims,
		Sources:     sources,
		Grounding: GroundingSummary{
			CitationCoverage:      grounding.CitationCoverage,
			UnsupportedClaimCount: grounding.UnsupportedClaimCount,
			RetrievalScore:        retrievalScore,
		},
		Traceability:    traceability,
		QualityContract: contract,
		Timings:         Timings{RetrievalMs: retrievalMs, GenerationMs: generationMs},
		Mode:            req.Mode,
		Model:           result.Model,
		ThreadID:        req.ThreadID,
	}

	span.SetAttributes(
		attribute.Float64("confidence", confidence),
		attribute.String("gate_status", string(contract.Status)),
	)

	if err := s.finalize(ctx, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// generateGrounded runs the generator, measures grounding, and retries
// exactly once with the strict instruction when coverage is below the
// policy minimum. The attempt with the higher coverage wins.
func (s *Service) generateGrounded(ctx context.Context, req *AnswerQueryRequest, candidates []*ScoredCandidate, sources []EvidenceItem, chunkText map[string]string) (*llm.GenerateResult, []Citation, *GroundingReport, int64, error) {
	contextChunks := make([]llm.ContextChunk, len(candidates))
	for i, c := range candidates {
		contextChunks[i] = llm.ContextChunk{
			ChunkID:      c.ChunkID,
			DocVersionID: c.DocVersionID,
			SourceURL:    c.SourceURL,
			Text:         c.Text,
		}
	}

	generationStart := time.Now()
	result, citations, grounding, err := s.generateOnce(ctx, req, modeInstructions[req.Mode], contextChunks, candidates, chunkText)
	if err != nil {
		return nil, nil, nil, 0, err
	}

	if grounding.CitationCoverage < s.policy.MinCitationCoverage {
		s.metrics.RecordRegenerationRetry()
		logger.Infow("regenerating answer with strict instruction",
			"org_id", req.OrgID,
			"coverage", grounding.CitationCoverage)

		retryResult, retryCitations, retryGrounding, err := s.generateOnce(ctx, req, strictInstruction, contextChunks, candidates, chunkText)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		if retryGrounding.CitationCoverage > grounding.CitationCoverage {
			result, citations, grounding = retryResult, retryCitations, retryGrounding
		}
	}

	return result, citations, grounding, time.Since(generationStart).Milliseconds(), nil
}

func (s *Service) generateOnce(ctx context.Context, req *AnswerQueryRequest, instruction string, contextChunks []llm.ContextChunk, candidates []*ScoredCandidate, chunkText map[string]string) (*llm.GenerateResult, []Citation, *GroundingReport, error) {
	callStart := time.Now()
	result, err := s.generator.AnswerQuestion(ctx, req.Query, instruction, contextChunks)
	s.metrics.RecordGeneration(time.Since(callStart), err)
	if err != nil {
		return nil, nil, nil, &GenerationError{Provider: s.generator.Name(), Err: err}
	}

	citations := convertCitations(result.Citations)
	if len(citations) == 0 {
		citations = fallbackCitations(candidates)
	}

	grounding := AssessGrounding(result.Answer, citations, chunkText)
	return result, citations, grounding, nil
}

// blockedEmptyResponse is the short-circuit response when nothing the
// viewer was permitted to see was found.
func (s *Service) blockedEmptyResponse(req *AnswerQueryRequest, principalCount int, now time.Time, retrievalMs int64) *AnswerQueryResponse {
	contract := EvaluateQualityContract(s.policy, &GateInput{
		Grounding:               &GroundingReport{},
		CandidateCount:          0,
		PrincipalCount:          principalCount,
		AllowHistoricalEvidence: req.AllowHistoricalEvidence,
		Now:                     now,
	})

	return &AnswerQueryResponse{
		Answer:          FallbackAnswer,
		Confidence:      confidenceFloor,
		Citations:       []Citation{},
		Claims:          []AnswerClaim{},
		Sources:         []EvidenceItem{},
		QualityContract: contract,
		Timings:         Timings{RetrievalMs: retrievalMs},
		Mode:            req.Mode,
		ThreadID:        req.ThreadID,
	}
}

// finalize persists the response and schedules side-effect jobs.
// Persistence failures propagate; job failures are logged only.
func (s *Service) finalize(ctx context.Context, req *AnswerQueryRequest, resp *AnswerQueryResponse) error {
	if s.repo != nil {
		threadID, messageID, err := s.repo.SaveAnswer(ctx, req, resp)
		if err != nil {
			return fmt.Errorf("failed to persist answer: %w", err)
		}
		resp.ThreadID = threadID
		resp.MessageID = messageID
		s.metrics.RecordPersist()
	}

	blocked := resp.QualityContract.Blocked()
	credits := 1
	if blocked {
		credits = 0
	}

	s.enqueue(ctx, JobUsageMetering, map[string]any{
		"org_id":  req.OrgID,
		"mode":    req.Mode,
		"credits": credits,
	})

	if blocked {
		payload := map[string]any{
			"org_id":     req.OrgID,
			"query":      req.Query,
			"mode":       req.Mode,
			"thread_id":  resp.ThreadID,
			"message_id": resp.MessageID,
		}
		s.enqueue(ctx, JobAnswerReview, payload)
		s.enqueue(ctx, JobAnswerEval, payload)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, name string, payload any) {
	if s.jobs == nil {
		return
	}
	err := s.jobs.Enqueue(ctx, name, payload)
	s.metrics.RecordJob(err)
	if err != nil {
		logger.Warnw("failed to enqueue job", "job", name, "error", err.Error())
	}
}

// buildEvidenceItems converts scored candidates into response sources.
// Relevance is the fused score normalized by the top score.
func buildEvidenceItems(candidates []*ScoredCandidate) []EvidenceItem {
	maxScore := 0.0
	if len(candidates) > 0 {
		maxScore = candidates[0].Score
	}

	items := make([]EvidenceItem, len(candidates))
	for i, c := range candidates {
		relevance := 0.0
		if maxScore > 0 {
			relevance = c.Score / maxScore
		}
		items[i] = EvidenceItem{
			ChunkID:     c.ChunkID,
			SourceURL:   c.SourceURL,
			Snippet:     textutil.TruncateString(c.Text, 280),
			Relevance:   relevance,
			SourceScore: c.SourceScore,
			Reason:      c.MatchReason,
			Provenance: Provenance{
				Author:       c.Author,
				UpdatedAt:    c.UpdatedAt,
				DocVersionID: c.DocVersionID,
			},
		}
	}
	return items
}

// computeRetrievalScore averages relevance weighted by normalized
// trust over the top three evidence items.
func computeRetrievalScore(sources []EvidenceItem) float64 {
	n := len(sources)
	if n > 3 {
		n = 3
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, item := range sources[:n] {
		sum += item.Relevance * textutil.Clamp01(item.SourceScore/100)
	}
	return sum / float64(n)
}

func computeTraceability(claims []AnswerClaim, sources []EvidenceItem) Traceability {
	supported := 0
	for _, claim := range claims {
		if claim.Supported {
			supported++
		}
	}
	coverage := 0.0
	if len(claims) > 0 {
		coverage = float64(supported) / float64(len(claims))
	}

	missingAuthor, missingDate := 0, 0
	for _, src := range sources {
		if src.Provenance.Author == "" {
			missingAuthor++
		}
		if _, err := time.Parse(time.RFC3339, src.Provenance.UpdatedAt); err != nil {
			missingDate++
		}
	}

	return Traceability{
		Coverage:           coverage,
		MissingAuthorCount: missingAuthor,
		MissingDateCount:   missingDate,
	}
}

// computeCitationTrust averages the normalized source score over the
// final valid citations.
func computeCitationTrust(citations []Citation, sourceScore map[string]float64) float64 {
	valid := ValidCitations(citations)
	if len(valid) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range valid {
		sum += textutil.Clamp01(sourceScore[c.ChunkID] / 100)
	}
	return sum / float64(len(valid))
}

func convertCitations(refs []llm.CitationRef) []Citation {
	citations := make([]Citation, 0, len(refs))
	for _, ref := range refs {
		citations = append(citations, Citation{
			ChunkID:      ref.ChunkID,
			DocVersionID: ref.DocVersionID,
			SourceURL:    ref.SourceURL,
			StartOffset:  ref.StartOffset,
			EndOffset:    ref.EndOffset,
		})
	}
	return citations
}

// fallbackCitations cites the top two evidence chunks when the
// generator returned none.
func fallbackCitations(candidates []*ScoredCandidate) []Citation {
	n := len(candidates)
	if n > 2 {
		n = 2
	}
	citations := make([]Citation, 0, n)
	for _, c := range candidates[:n] {
		citations = append(citations, Citation{
			ChunkID:      c.ChunkID,
			DocVersionID: c.DocVersionID,
			SourceURL:    c.SourceURL,
			StartOffset:  0,
			EndOffset:    len(c.Text),
		})
	}
	return citations
}

func emitChunks(emit func(*StreamEvent), answer string) {
	runes := []rune(answer)
	for start := 0; start < len(runes); start += streamChunkSize {
		end := start + streamChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		emit(&StreamEvent{Type: EventChunk, Data: map[string]string{"text": string(runes[start:end])}})
	}
}
