package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	chunkCollection  = "chunks"
	objectCollection = "knowledge_objects"
)

// MongoStore runs the lexical pass over the corpus and resolves
// knowledge-object permission rules. The chunks collection carries a
// text index on the text field.
type MongoStore struct {
	db      *mongo.Database
	chunks  *mongo.Collection
	objects *mongo.Collection
}

// NewMongoStore creates a Mongo-backed lexical searcher.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:      db,
		chunks:  db.Collection(chunkCollection),
		objects: db.Collection(objectCollection),
	}
}

type lexicalDocument struct {
	Chunk `bson:",inline"`
	Score float64 `bson:"text_score"`
}

// SearchText runs a $text search ranked by textScore.
func (s *MongoStore) SearchText(ctx context.Context, orgID, query string, filters *SearchFilters, topK int) ([]*LexicalHit, error) {
	filter := bson.M{
		"org_id": orgID,
		"$text":  bson.M{"$search": query},
	}
	applyChunkFilters(filter, filters)

	findOpts := options.Find().
		SetProjection(bson.M{
			"text_score":     bson.M{"$meta": "textScore"},
			"chunk_id":       1,
			"doc_version_id": 1,
			"text":           1,
			"source_url":     1,
			"source_score":   1,
			"updated_at":     1,
			"author":         1,
			"connector_type": 1,
		}).
		SetSort(bson.D{{Key: "text_score", Value: bson.M{"$meta": "textScore"}}}).
		SetLimit(int64(topK))

	cursor, err := s.chunks.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []*LexicalHit
	for cursor.Next(ctx) {
		var doc lexicalDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode lexical result: %w", err)
		}
		hits = append(hits, &LexicalHit{Chunk: doc.Chunk, Score: doc.Score})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("lexical cursor failed: %w", err)
	}

	return hits, nil
}

type objectDocument struct {
	ChunkID    string         `bson:"chunk_id"`
	Permission PermissionRule `bson:"permission"`
}

// PermissionRules loads the access rules for the given chunk ids.
// Chunks without a knowledge-object entry are absent from the result.
func (s *MongoStore) PermissionRules(ctx context.Context, orgID string, chunkIDs []string) (map[string]*PermissionRule, error) {
	if len(chunkIDs) == 0 {
		return map[string]*PermissionRule{}, nil
	}

	cursor, err := s.objects.Find(ctx, bson.M{
		"org_id":   orgID,
		"chunk_id": bson.M{"$in": chunkIDs},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load permission rules: %w", err)
	}
	defer cursor.Close(ctx)

	rules := make(map[string]*PermissionRule)
	for cursor.Next(ctx) {
		var doc objectDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode permission rule: %w", err)
		}
		rule := doc.Permission
		rules[doc.ChunkID] = &rule
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("permission cursor failed: %w", err)
	}

	return rules, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// applyChunkFilters translates the caller's filters into Mongo query
// clauses. RFC 3339 timestamps compare correctly as strings.
func applyChunkFilters(filter bson.M, filters *SearchFilters) {
	if filters == nil {
		return
	}
	if len(filters.SourceTypes) > 0 {
		filter["connector_type"] = bson.M{"$in": filters.SourceTypes}
	}
	if filters.Owner != "" {
		filter["author"] = filters.Owner
	}
	if len(filters.Tags) > 0 {
		filter["tags"] = bson.M{"$all": filters.Tags}
	}
	if filters.UpdatedAfter != "" || filters.UpdatedBefore != "" {
		updated := bson.M{}
		if filters.UpdatedAfter != "" {
			updated["$gte"] = filters.UpdatedAfter
		}
		if filters.UpdatedBefore != "" {
			updated["$lte"] = filters.UpdatedBefore
		}
		filter["updated_at"] = updated
	}
	if filters.MinScore > 0 {
		filter["source_score"] = bson.M{"$gte": filters.MinScore}
	}
	if len(filters.ObjectIDs) > 0 {
		filter["chunk_id"] = bson.M{"$in": filters.ObjectIDs}
	}
}

var (
	_ LexicalSearcher      = (*MongoStore)(nil)
	_ PermissionRuleSource = (*MongoStore)(nil)
)
