// Package repo persists answered queries: threads, messages, and the
// citation and claim rows derived per answer.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/kart-io/answerd/internal/answerd/biz"
	"github.com/kart-io/answerd/internal/pkg/textutil"
)

// Thread groups the messages of one conversation.
type Thread struct {
	ID        string    `gorm:"primaryKey;size:26"`
	OrgID     string    `gorm:"size:64;index"`
	Title     string    `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one answered query in a thread.
type Message struct {
	ID         string    `gorm:"primaryKey;size:26"`
	ThreadID   string    `gorm:"size:26;index"`
	OrgID      string    `gorm:"size:64;index"`
	Mode       string    `gorm:"size:16"`
	Query      string    `gorm:"type:text"`
	Answer     string    `gorm:"type:text"`
	Model      string    `gorm:"size:128"`
	Confidence float64
	GateStatus string    `gorm:"size:16"`
	CreatedAt  time.Time
}

// CitationRow is one persisted citation of a message.
type CitationRow struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	MessageID    string `gorm:"size:26;index"`
	ChunkID      string `gorm:"size:64"`
	DocVersionID string `gorm:"size:64"`
	SourceURL    string `gorm:"size:2048"`
	StartOffset  int
	EndOffset    int
}

// ClaimRow is one persisted answer claim of a message.
type ClaimRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"size:26;index"`
	ClaimID   string `gorm:"size:32"`
	Text      string `gorm:"type:text"`
	Position  int    `gorm:"column:claim_order"`
	Supported bool
}

// AnswerRepo stores answers in the relational database.
type AnswerRepo struct {
	db *gorm.DB
}

// NewAnswerRepo creates the repository.
func NewAnswerRepo(db *gorm.DB) *AnswerRepo {
	return &AnswerRepo{db: db}
}

// Migrate creates or updates the schema.
func (r *AnswerRepo) Migrate() error {
	return r.db.AutoMigrate(&Thread{}, &Message{}, &CitationRow{}, &ClaimRow{})
}

// SaveAnswer writes the thread, message, citations and claims in one
// transaction. Citations referencing chunks absent from the evidence
// snapshot are skipped to tolerate corpus drift between retrieval and
// write.
func (r *AnswerRepo) SaveAnswer(ctx context.Context, req *biz.AnswerQueryRequest, resp *biz.AnswerQueryResponse) (string, string, error) {
	threadID := resp.ThreadID
	if threadID == "" {
		threadID = ulid.Make().String()
	}
	messageID := ulid.Make().String()

	snapshot := make(map[string]struct{}, len(resp.Sources))
	for _, src := range resp.Sources {
		snapshot[src.ChunkID] = struct{}{}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		thread := Thread{
			ID:    threadID,
			OrgID: req.OrgID,
			Title: textutil.TruncateString(req.Query, 120),
		}
		if err := tx.Where(Thread{ID: threadID}).FirstOrCreate(&thread).Error; err != nil {
			return fmt.Errorf("failed to upsert thread: %w", err)
		}

		message := Message{
			ID:         messageID,
			ThreadID:   threadID,
			OrgID:      req.OrgID,
			Mode:       resp.Mode,
			Query:      req.Query,
			Answer:     resp.Answer,
			Model:      resp.Model,
			Confidence: resp.Confidence,
			GateStatus: string(resp.QualityContract.Status),
		}
		if err := tx.Create(&message).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		for _, c := range resp.Citations {
			if _, ok := snapshot[c.ChunkID]; !ok {
				continue
			}
			row := CitationRow{
				MessageID:    messageID,
				ChunkID:      c.ChunkID,
				DocVersionID: c.DocVersionID,
				SourceURL:    c.SourceURL,
				StartOffset:  c.StartOffset,
				EndOffset:    c.EndOffset,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create citation: %w", err)
			}
		}

		for _, claim := range resp.Claims {
			row := ClaimRow{
				MessageID: messageID,
				ClaimID:   claim.ID,
				Text:      claim.Text,
				Position:  claim.Order,
				Supported: claim.Supported,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create claim: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}

	return threadID, messageID, nil
}

// ListMessages returns the messages of a thread in creation order.
func (r *AnswerRepo) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var messages []Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at asc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ListCitations returns the persisted citations of a message.
func (r *AnswerRepo) ListCitations(ctx context.Context, messageID string) ([]CitationRow, error) {
	var rows []CitationRow
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list citations: %w", err)
	}
	return rows, nil
}

// ListClaims returns the persisted claims of a message in answer order.
func (r *AnswerRepo) ListClaims(ctx context.Context, messageID string) ([]ClaimRow, error) {
	var rows []ClaimRow
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("claim_order asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return rows, nil
}

var _ biz.AnswerRepository = (*AnswerRepo)(nil)
