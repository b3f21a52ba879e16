// Package ollama provides the Ollama LLM provider implementation.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/answerd/pkg/llm"
)

const ProviderName = "ollama"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config holds Ollama provider configuration.
type Config struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel  string        `json:"chat_model" mapstructure:"chat_model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:11434",
		EmbedModel: "nomic-embed-text",
		ChatModel:  "llama3.1:8b",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
}

// Provider implements llm.Provider against an Ollama server.
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// NewProvider creates an Ollama provider from a config map.
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["embed_model"].(string); ok && v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := configMap["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := configMap["max_retries"].(int); ok && v > 0 {
		cfg.MaxRetries = v
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig creates an Ollama provider from a structured config.
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderName
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates embeddings for multiple texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embedRequest{
		Model: p.config.EmbedModel,
		Input: texts,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.doRequestWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response count mismatch: got %d, want %d", len(embedResp.Embeddings), len(texts))
	}

	return embedResp.Embeddings, nil
}

// EmbedSingle generates an embedding for a single text.
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// citationMarker matches inline evidence markers like [1] or [2,3].
var citationMarker = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// AnswerQuestion generates an answer from the given context chunks. The
// model is asked to mark the evidence it used with bracketed indexes;
// the markers are parsed back into chunk-level citations.
func (p *Provider) AnswerQuestion(ctx context.Context, question, instruction string, contextChunks []llm.ContextChunk) (*llm.GenerateResult, error) {
	var prompt strings.Builder
	prompt.WriteString("Answer the question using only the evidence below. ")
	prompt.WriteString("After each statement, cite the evidence you used with its bracketed number, e.g. [1].\n\nEvidence:\n")
	for i, chunk := range contextChunks {
		fmt.Fprintf(&prompt, "[%d] %s\n%s\n\n", i+1, chunk.SourceURL, chunk.Text)
	}
	fmt.Fprintf(&prompt, "Question: %s\n\nAnswer:", question)

	reqBody := generateRequest{
		Model:  p.config.ChatModel,
		Prompt: prompt.String(),
		System: instruction,
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.doRequestWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}

	answer := strings.TrimSpace(genResp.Response)
	return &llm.GenerateResult{
		Answer:    stripMarkers(answer),
		Citations: parseCitations(answer, contextChunks),
		Model:     genResp.Model,
	}, nil
}

// parseCitations converts bracketed evidence markers into chunk-level
// citation refs. Out-of-range indexes are ignored.
func parseCitations(answer string, contextChunks []llm.ContextChunk) []llm.CitationRef {
	seen := make(map[int]bool)
	var citations []llm.CitationRef
	for _, match := range citationMarker.FindAllStringSubmatch(answer, -1) {
		for _, raw := range strings.Split(match[1], ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || idx < 1 || idx > len(contextChunks) {
				continue
			}
			if seen[idx] {
				continue
			}
			seen[idx] = true
			chunk := contextChunks[idx-1]
			citations = append(citations, llm.CitationRef{
				ChunkID:      chunk.ChunkID,
				DocVersionID: chunk.DocVersionID,
				SourceURL:    chunk.SourceURL,
				StartOffset:  0,
				EndOffset:    len(chunk.Text),
			})
		}
	}
	return citations
}

func stripMarkers(answer string) string {
	return strings.TrimSpace(citationMarker.ReplaceAllString(answer, ""))
}

// doRequestWithRetry executes the request, retrying on transport errors
// and 5xx responses with linear backoff.
func (p *Provider) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		var bodyCopy io.ReadCloser
		if req.Body != nil {
			var err error
			bodyCopy, err = req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to copy request body: %w", err)
			}
		}
		retryReq := req.Clone(req.Context())
		retryReq.Body = bodyCopy

		resp, err := p.httpClient.Do(retryReq)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("ollama server error %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, string(respBody))
		}

		return resp, nil
	}

	return nil, fmt.Errorf("ollama request failed after %d retries: %w", p.config.MaxRetries, lastErr)
}
