// Package llm provides a unified abstraction over language-model and
// embedding providers. Embedding and answer generation may use
// different vendors.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// EmbeddingProvider generates vector embeddings.
type EmbeddingProvider interface {
	// Embed generates embeddings for multiple texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider name.
	Name() string
}

// ContextChunk is one evidence chunk handed to the generator as answer
// context. ChunkID and DocVersionID identify the chunk in the corpus so
// the provider can cite it.
type ContextChunk struct {
	ChunkID      string `json:"chunk_id"`
	DocVersionID string `json:"doc_version_id"`
	SourceURL    string `json:"source_url"`
	Text         string `json:"text"`
}

// CitationRef points at the evidence span backing part of a generated
// answer. Offsets are byte offsets into the cited chunk's text.
type CitationRef struct {
	ChunkID      string `json:"chunk_id"`
	DocVersionID string `json:"doc_version_id"`
	SourceURL    string `json:"source_url"`
	StartOffset  int    `json:"start_offset"`
	EndOffset    int    `json:"end_offset"`
}

// GenerateResult is the generator's output for one question.
type GenerateResult struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`

	// Citations lists the evidence the provider claims to have used.
	// May be empty; the caller decides how to backfill.
	Citations []CitationRef `json:"citations,omitempty"`

	// Confidence is the provider's self-reported confidence in [0, 1],
	// 0 when the provider does not report one.
	Confidence float64 `json:"confidence,omitempty"`

	// Model is the concrete model that produced the answer.
	Model string `json:"model,omitempty"`
}

// LanguageModelProvider generates cited answers from evidence context.
type LanguageModelProvider interface {
	// AnswerQuestion generates an answer to question using only the
	// given context chunks. instruction is a mode-specific system
	// instruction prepended to the provider's own prompt.
	AnswerQuestion(ctx context.Context, question, instruction string, contextChunks []ContextChunk) (*GenerateResult, error)

	// Name returns the provider name.
	Name() string
}

// Provider supports both embedding and answer generation.
type Provider interface {
	EmbeddingProvider
	LanguageModelProvider
}

// ProviderFactory builds a full provider from a config map.
type ProviderFactory func(config map[string]any) (Provider, error)

// EmbeddingProviderFactory builds an embedding provider from a config map.
type EmbeddingProviderFactory func(config map[string]any) (EmbeddingProvider, error)

// LanguageModelProviderFactory builds a language-model provider from a config map.
type LanguageModelProviderFactory func(config map[string]any) (LanguageModelProvider, error)

var registry = &providerRegistry{
	providers:          make(map[string]ProviderFactory),
	embeddingProviders: make(map[string]EmbeddingProviderFactory),
	modelProviders:     make(map[string]LanguageModelProviderFactory),
}

type providerRegistry struct {
	mu                 sync.RWMutex
	providers          map[string]ProviderFactory
	embeddingProviders map[string]EmbeddingProviderFactory
	modelProviders     map[string]LanguageModelProviderFactory
}

// RegisterProvider registers a full provider factory.
func RegisterProvider(name string, factory ProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.providers[name] = factory
}

// RegisterEmbeddingProvider registers an embedding-only provider factory.
func RegisterEmbeddingProvider(name string, factory EmbeddingProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.embeddingProviders[name] = factory
}

// RegisterLanguageModelProvider registers a generation-only provider factory.
func RegisterLanguageModelProvider(name string, factory LanguageModelProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.modelProviders[name] = factory
}

// NewEmbeddingProvider creates an embedding provider by name. Dedicated
// embedding factories take precedence over full provider factories.
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	if factory, ok := registry.embeddingProviders[name]; ok {
		return factory(config)
	}
	if factory, ok := registry.providers[name]; ok {
		return factory(config)
	}
	return nil, fmt.Errorf("unknown embedding provider: %s", name)
}

// NewLanguageModelProvider creates a language-model provider by name.
// Dedicated generation factories take precedence over full provider
// factories.
func NewLanguageModelProvider(name string, config map[string]any) (LanguageModelProvider, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	if factory, ok := registry.modelProviders[name]; ok {
		return factory(config)
	}
	if factory, ok := registry.providers[name]; ok {
		return factory(config)
	}
	return nil, fmt.Errorf("unknown language model provider: %s", name)
}

// ListProviders lists all registered provider names.
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for name := range registry.providers {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range registry.embeddingProviders {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range registry.modelProviders {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
