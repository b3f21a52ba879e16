// Package store provides evidence retrieval over the ingested corpus:
// a lexical pass backed by MongoDB full-text search, a vector pass
// backed by Milvus, and a hybrid store that joins both into ranked
// candidates for fusion.
package store

import (
	"context"
)

// PermissionMode classifies how access to a knowledge object is
// controlled.
type PermissionMode string

const (
	// PermissionOrgWide permits every member of the organization.
	PermissionOrgWide PermissionMode = "org_wide"

	// PermissionInheritedSourceACL defers to the source system's ACL.
	// Objects in this mode are resolved by the connector layer and are
	// excluded from this store's results.
	PermissionInheritedSourceACL PermissionMode = "inherited_source_acl"

	// PermissionCustom uses explicit allow/deny principal lists.
	PermissionCustom PermissionMode = "custom"
)

// PermissionRule is the access rule attached to a curated knowledge
// object. Allow and Deny hold principal keys such as "user:u1" or
// "group:eng".
type PermissionRule struct {
	Mode  PermissionMode `json:"mode" bson:"mode"`
	Allow []string       `json:"allow,omitempty" bson:"allow,omitempty"`
	Deny  []string       `json:"deny,omitempty" bson:"deny,omitempty"`
}

// Chunk is an immutable unit of retrievable evidence.
type Chunk struct {
	// ChunkID uniquely identifies the chunk in the corpus.
	ChunkID string `json:"chunk_id" bson:"chunk_id"`

	// DocVersionID identifies the document version the chunk belongs to.
	DocVersionID string `json:"doc_version_id" bson:"doc_version_id"`

	// Text is the chunk content.
	Text string `json:"text" bson:"text"`

	// SourceURL is the absolute URL of the chunk's origin.
	SourceURL string `json:"source_url" bson:"source_url"`

	// SourceScore is the 0-100 trust score computed at ingestion time.
	SourceScore float64 `json:"source_score" bson:"source_score"`

	// UpdatedAt is the RFC 3339 timestamp of the source's last update.
	// Unparsable values are treated as maximally stale downstream.
	UpdatedAt string `json:"updated_at" bson:"updated_at"`

	// Author is the source author, empty when the connector did not
	// report one.
	Author string `json:"author,omitempty" bson:"author,omitempty"`

	// ConnectorType names the connector that ingested the chunk.
	ConnectorType string `json:"connector_type,omitempty" bson:"connector_type,omitempty"`
}

// RankedCandidate is a chunk annotated with its per-pass ranks. A rank
// of zero means the chunk was absent from that pass.
type RankedCandidate struct {
	Chunk

	// LexicalRank is the 1-based rank from the lexical pass.
	LexicalRank int `json:"lexical_rank"`

	// VectorRank is the 1-based rank from the vector pass.
	VectorRank int `json:"vector_rank"`

	// LexicalScore is the raw full-text relevance score.
	LexicalScore float64 `json:"lexical_score,omitempty"`

	// VectorDistance is the raw embedding distance, lower is closer.
	VectorDistance float64 `json:"vector_distance,omitempty"`

	// Permission is the access rule for curated knowledge objects, nil
	// for ordinary corpus chunks.
	Permission *PermissionRule `json:"permission,omitempty"`

	// MatchReason records which passes matched the chunk.
	MatchReason string `json:"match_reason"`
}

// SearchFilters narrows both retrieval passes. Zero values mean no
// constraint.
type SearchFilters struct {
	// SourceTypes restricts results to the given connector types.
	SourceTypes []string `json:"source_types,omitempty"`

	// Owner restricts results to chunks authored by the given author.
	Owner string `json:"owner,omitempty"`

	// Tags restricts results to chunks carrying all of the given tags.
	Tags []string `json:"tags,omitempty"`

	// UpdatedAfter / UpdatedBefore bound the source update time,
	// RFC 3339.
	UpdatedAfter  string `json:"updated_after,omitempty"`
	UpdatedBefore string `json:"updated_before,omitempty"`

	// MinScore drops chunks whose source score is below the threshold.
	MinScore float64 `json:"min_score,omitempty"`

	// PrincipalKeys are the caller's principal keys used for
	// permission filtering of knowledge objects.
	PrincipalKeys []string `json:"principal_keys,omitempty"`

	// ObjectIDs restricts results to the given chunk ids.
	ObjectIDs []string `json:"object_ids,omitempty"`
}

// LexicalHit is one result of the lexical pass.
type LexicalHit struct {
	Chunk Chunk
	Score float64
}

// VectorHit is one result of the vector pass.
type VectorHit struct {
	Chunk    Chunk
	Distance float64
}

// LexicalSearcher runs the full-text pass.
type LexicalSearcher interface {
	SearchText(ctx context.Context, orgID, query string, filters *SearchFilters, topK int) ([]*LexicalHit, error)
}

// VectorSearcher runs the embedding-distance pass.
type VectorSearcher interface {
	SearchVector(ctx context.Context, orgID string, embedding []float32, filters *SearchFilters, topK int) ([]*VectorHit, error)
}

// PermissionRuleSource resolves access rules for knowledge-object
// chunks. Chunks without a rule are ordinary corpus chunks.
type PermissionRuleSource interface {
	PermissionRules(ctx context.Context, orgID string, chunkIDs []string) (map[string]*PermissionRule, error)
}

// ChunkStore is the retrieval contract consumed by the business layer.
type ChunkStore interface {
	// HybridSearch runs the lexical and vector passes concurrently and
	// joins them by chunk id into rank-annotated candidates. Candidates
	// are unscored; fusion happens in the caller.
	HybridSearch(ctx context.Context, orgID, query string, embedding []float32, filters *SearchFilters, poolSize int) ([]*RankedCandidate, error)

	// Close releases the underlying connections.
	Close(ctx context.Context) error
}
