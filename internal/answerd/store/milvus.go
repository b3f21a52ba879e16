package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

var vectorOutputFields = []string{
	"chunk_id", "doc_version_id", "text", "source_url",
	"source_score", "updated_at", "author", "connector_type",
}

// MilvusStore runs the vector pass against a Milvus collection. The
// collection schema carries the chunk fields as scalar columns next to
// the embedding.
type MilvusStore struct {
	client     *milvusclient.Client
	collection string
}

// NewMilvusStore creates a Milvus-backed vector searcher.
func NewMilvusStore(client *milvusclient.Client, collection string) *MilvusStore {
	return &MilvusStore{client: client, collection: collection}
}

// SearchVector runs an ANN search scoped to the organization, ranked
// by ascending embedding distance.
func (s *MilvusStore) SearchVector(ctx context.Context, orgID string, embedding []float32, filters *SearchFilters, topK int) ([]*VectorHit, error) {
	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	expr := buildFilterExpr(orgID, filters)

	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		s.collection,
		topK,
		[]entity.Vector{entity.FloatVector(embedding)},
	).WithANNSField("embedding").
		WithSearchParam("ef", "64").
		WithFilter(expr).
		WithOutputFields(vectorOutputFields...))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	result := results[0]
	hits := make([]*VectorHit, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		hit := &VectorHit{Distance: float64(result.Scores[i])}
		for _, field := range result.Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				value := col.Data()[i]
				switch col.Name() {
				case "chunk_id":
					hit.Chunk.ChunkID = value
				case "doc_version_id":
					hit.Chunk.DocVersionID = value
				case "text":
					hit.Chunk.Text = value
				case "source_url":
					hit.Chunk.SourceURL = value
				case "updated_at":
					hit.Chunk.UpdatedAt = value
				case "author":
					hit.Chunk.Author = value
				case "connector_type":
					hit.Chunk.ConnectorType = value
				}
			case *column.ColumnDouble:
				if col.Name() == "source_score" {
					hit.Chunk.SourceScore = col.Data()[i]
				}
			}
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// Close closes the Milvus connection.
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// buildFilterExpr renders the caller's filters as a Milvus boolean
// expression. Tags and date-range filters are lexical-only and resolve
// during the join.
func buildFilterExpr(orgID string, filters *SearchFilters) string {
	terms := []string{fmt.Sprintf("org_id == %s", strconv.Quote(orgID))}
	if filters != nil {
		if len(filters.SourceTypes) > 0 {
			terms = append(terms, fmt.Sprintf("connector_type in %s", quoteList(filters.SourceTypes)))
		}
		if filters.Owner != "" {
			terms = append(terms, fmt.Sprintf("author == %s", strconv.Quote(filters.Owner)))
		}
		if filters.MinScore > 0 {
			terms = append(terms, fmt.Sprintf("source_score >= %g", filters.MinScore))
		}
		if len(filters.ObjectIDs) > 0 {
			terms = append(terms, fmt.Sprintf("chunk_id in %s", quoteList(filters.ObjectIDs)))
		}
	}
	return strings.Join(terms, " && ")
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

var _ VectorSearcher = (*MilvusStore)(nil)
