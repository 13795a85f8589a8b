package callstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/voicebridge/voicebridge/internal/conversation"
)

// TurnRecord is the serialized form of conversation.Turn for storage.
type TurnRecord struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Truncated bool   `json:"truncated,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}

// TranscriptRecord is spec.md §6.6's persisted call record.
type TranscriptRecord struct {
	CallID         string    `gorm:"column:call_id;type:varchar(36);primaryKey"`
	AgentID        string    `gorm:"column:agent_id;type:varchar(64);not null;index"`
	UserID         string    `gorm:"column:user_id;type:varchar(64);default:''"`
	StartedAt      time.Time `gorm:"column:started_at;type:timestamp;not null"`
	EndedAt        time.Time `gorm:"column:ended_at;type:timestamp"`
	DurationSec    int       `gorm:"column:duration_sec"`
	TurnsJSON      string    `gorm:"column:turns_json;type:text"`
	FlatTranscript string    `gorm:"column:flat_transcript;type:text"`
}

func (TranscriptRecord) TableName() string { return "call_transcripts" }

// TranscriptStore persists the final per-call record on close.
type TranscriptStore interface {
	Persist(ctx context.Context, callID, agentID, userID string, startedAt, endedAt time.Time, turns []conversation.Turn) error
}

type gormTranscriptStore struct {
	db *gorm.DB
}

// NewTranscriptStore builds a gorm-backed TranscriptStore.
func NewTranscriptStore(db *gorm.DB) TranscriptStore {
	return &gormTranscriptStore{db: db}
}

// Persist serializes the turn list to JSON plus a flattened plain-text
// transcript, and writes a single row, following spec.md §6.6's record
// shape: {callId, agentId, userId?, startedAt, endedAt, durationSec,
// turns, flatTranscript}.
func (s *gormTranscriptStore) Persist(ctx context.Context, callID, agentID, userID string, startedAt, endedAt time.Time, turns []conversation.Turn) error {
	records := make([]TurnRecord, 0, len(turns))
	var flat strings.Builder
	for _, t := range turns {
		records = append(records, TurnRecord{
			Role:      string(t.Role),
			Text:      t.Text,
			Timestamp: t.StartedAt.UnixMilli(),
			Truncated: t.Truncated,
			LatencyMs: t.LatencyMs,
		})
		fmt.Fprintf(&flat, "%s: %s\n", t.Role, t.Text)
	}

	turnsJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("callstore: marshal turns: %w", err)
	}

	rec := TranscriptRecord{
		CallID:         callID,
		AgentID:        agentID,
		UserID:         userID,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		DurationSec:    int(endedAt.Sub(startedAt).Seconds()),
		TurnsJSON:      string(turnsJSON),
		FlatTranscript: flat.String(),
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("callstore: persist transcript: %w", err)
	}
	return nil
}
