// Package agentstore persists AgentConfig records (spec.md §3, expanded
// in SPEC_FULL.md §3 to note AgentConfig is gorm-backed like CallContext).
// Grounded directly on the teacher's callcontext/{types,store}.go shape:
// a gorm.Model-ish row, a narrow Store interface, and a TableName method.
package agentstore

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/voicebridge/voicebridge/internal/config"
)

// Record is the gorm row backing one AgentConfig. The numeric/string
// fields are stored as native columns; KnowledgeDocs and Characteristics
// are stored as JSON text since their shape doesn't warrant a join table
// for this module's scope.
type Record struct {
	ID                      string  `gorm:"column:id;type:varchar(64);primaryKey"`
	DisplayName             string  `gorm:"column:display_name;type:varchar(200)"`
	PersonaPrompt           string  `gorm:"column:persona_prompt;type:text"`
	VoiceID                 string  `gorm:"column:voice_id;type:varchar(64);not null"`
	LanguageTag             string  `gorm:"column:language_tag;type:varchar(16);not null"`
	EmotionLevel            float64 `gorm:"column:emotion_level"`
	VoiceSpeed              float64 `gorm:"column:voice_speed"`
	Responsiveness          float64 `gorm:"column:responsiveness"`
	InterruptionSensitivity float64 `gorm:"column:interruption_sensitivity"`
	BackgroundNoiseProfile  string  `gorm:"column:background_noise_profile;type:varchar(20)"`
	MaxCallDurationSec      int     `gorm:"column:max_call_duration_sec"`
	SilenceTimeoutSec       int     `gorm:"column:silence_timeout_sec"`
	WelcomeMessage          string  `gorm:"column:welcome_message;type:text"`
	CharacteristicsJSON     string  `gorm:"column:characteristics_json;type:text"`
	KnowledgeDocsJSON       string  `gorm:"column:knowledge_docs_json;type:text"`
}

func (Record) TableName() string { return "agent_configs" }

// Store loads and upserts AgentConfig records, backing the router's
// per-call agent lookup (router.Deps.LoadAgentConfig) via gorm, the
// way the teacher's internal/assistant lookups back its channel routes.
type Store interface {
	Get(ctx context.Context, agentID string) (config.AgentConfig, error)
	Upsert(ctx context.Context, ac config.AgentConfig) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore builds a gorm-backed Store. db should already have
// AutoMigrate(&Record{}) applied.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, agentID string) (config.AgentConfig, error) {
	var rec Record
	if err := s.db.WithContext(ctx).Where("id = ?", agentID).First(&rec).Error; err != nil {
		return config.AgentConfig{}, fmt.Errorf("agentstore: agent %s not found: %w", agentID, err)
	}
	return recordToConfig(rec), nil
}

func (s *gormStore) Upsert(ctx context.Context, ac config.AgentConfig) error {
	ac.Clamp()
	rec, err := configToRecord(ac)
	if err != nil {
		return fmt.Errorf("agentstore: encode agent %s: %w", ac.ID, err)
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("agentstore: upsert agent %s: %w", ac.ID, err)
	}
	return nil
}

func recordToConfig(rec Record) config.AgentConfig {
	ac := config.AgentConfig{
		ID:                      rec.ID,
		DisplayName:             rec.DisplayName,
		PersonaPrompt:           rec.PersonaPrompt,
		VoiceID:                 rec.VoiceID,
		LanguageTag:             rec.LanguageTag,
		EmotionLevel:            rec.EmotionLevel,
		VoiceSpeed:              rec.VoiceSpeed,
		Responsiveness:          rec.Responsiveness,
		InterruptionSensitivity: rec.InterruptionSensitivity,
		BackgroundNoiseProfile:  config.BackgroundNoiseProfile(rec.BackgroundNoiseProfile),
		MaxCallDurationSec:      rec.MaxCallDurationSec,
		SilenceTimeoutSec:       rec.SilenceTimeoutSec,
		WelcomeMessage:          rec.WelcomeMessage,
	}
	_ = json.Unmarshal([]byte(rec.CharacteristicsJSON), &ac.Characteristics)
	_ = json.Unmarshal([]byte(rec.KnowledgeDocsJSON), &ac.KnowledgeDocs)
	ac.Clamp()
	return ac
}

func configToRecord(ac config.AgentConfig) (Record, error) {
	charJSON, err := json.Marshal(ac.Characteristics)
	if err != nil {
		return Record{}, err
	}
	docsJSON, err := json.Marshal(ac.KnowledgeDocs)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:                      ac.ID,
		DisplayName:             ac.DisplayName,
		PersonaPrompt:           ac.PersonaPrompt,
		VoiceID:                 ac.VoiceID,
		LanguageTag:             ac.LanguageTag,
		EmotionLevel:            ac.EmotionLevel,
		VoiceSpeed:              ac.VoiceSpeed,
		Responsiveness:          ac.Responsiveness,
		InterruptionSensitivity: ac.InterruptionSensitivity,
		BackgroundNoiseProfile:  string(ac.BackgroundNoiseProfile),
		MaxCallDurationSec:      ac.MaxCallDurationSec,
		SilenceTimeoutSec:       ac.SilenceTimeoutSec,
		WelcomeMessage:          ac.WelcomeMessage,
		CharacteristicsJSON:     string(charJSON),
		KnowledgeDocsJSON:       string(docsJSON),
	}, nil
}
