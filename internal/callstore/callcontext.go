// Package callstore persists CallContext and the per-call transcript
// record (spec.md §3, §6.6). Grounded directly on the teacher's
// internal/callcontext/{types,store}.go: claim semantics, the
// field-update allowlist, and the BeforeCreate id-generation hook are
// carried over, with the multi-tenant assistant/organization/project
// columns dropped (spec.md's Non-goals exclude account/billing surfaces).
package callstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Call context status constants, spec.md §3: "Created when the carrier
// opens the media stream; destroyed on final teardown after transcript
// persistence."
const (
	StatusPending   = "pending"   // inbound: created, awaiting media connection
	StatusQueued    = "queued"    // outbound: created, awaiting carrier callback
	StatusClaimed   = "claimed"   // media connection established
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CallContext bridges the HTTP call-setup request (inbound webhook or
// outbound dispatch) to the WebSocket media connection that follows.
type CallContext struct {
	ID           string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	Status       string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`
	AgentID      string    `json:"agentId" gorm:"column:agent_id;type:varchar(64);not null;index"`
	OwnerUserID  string    `json:"ownerUserId" gorm:"column:owner_user_id;type:varchar(64);default:''"`
	LeadName     string    `json:"leadName" gorm:"column:lead_name;type:varchar(120);default:''"`
	LeadPhone    string    `json:"leadPhone" gorm:"column:lead_phone;type:varchar(32);default:''"`
	CarrierKind  string    `json:"carrierKind" gorm:"column:carrier_kind;type:varchar(20);not null"`
	ChannelUUID  string    `json:"channelUuid" gorm:"column:channel_uuid;type:varchar(200);default:''"`
	StartedAt    time.Time `json:"startedAt" gorm:"column:started_at;type:timestamp;not null;default:NOW()"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"column:updated_at;type:timestamp"`
}

func (CallContext) TableName() string { return "call_contexts" }

// BeforeCreate stamps an id and creation time if unset, following the
// teacher's callcontext.BeforeCreate pattern.
func (cc *CallContext) BeforeCreate(tx *gorm.DB) error {
	if cc.ID == "" {
		cc.ID = uuid.New().String()
	}
	if cc.StartedAt.IsZero() {
		cc.StartedAt = time.Now()
	}
	if cc.Status == "" {
		cc.Status = StatusPending
	}
	return nil
}

func (cc *CallContext) IsPending() bool { return cc.Status == StatusPending }
func (cc *CallContext) IsClaimed() bool { return cc.Status == StatusClaimed }

// Store mirrors the teacher's callcontext.Store interface: rows are
// never deleted mid-call because carrier status callbacks can arrive
// asynchronously, even after the media stream has ended.
type Store interface {
	Save(ctx context.Context, cc *CallContext) (string, error)
	Get(ctx context.Context, id string) (*CallContext, error)
	Claim(ctx context.Context, id string) (*CallContext, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string) error
	UpdateField(ctx context.Context, id, field, value string) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore builds a gorm-backed Store. db should already have
// AutoMigrate(&CallContext{}, &TranscriptRecord{}) applied.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Save(ctx context.Context, cc *CallContext) (string, error) {
	if err := s.db.WithContext(ctx).Create(cc).Error; err != nil {
		return "", fmt.Errorf("callstore: save call context: %w", err)
	}
	return cc.ID, nil
}

func (s *gormStore) Get(ctx context.Context, id string) (*CallContext, error) {
	var cc CallContext
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&cc).Error; err != nil {
		return nil, fmt.Errorf("callstore: call context not found: %s: %w", id, err)
	}
	return &cc, nil
}

// Claim atomically transitions pending/queued -> claimed. Only one
// concurrent media connection wins.
func (s *gormStore) Claim(ctx context.Context, id string) (*CallContext, error) {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusQueued}).
		Updates(map[string]interface{}{"status": StatusClaimed, "updated_at": time.Now()})
	if result.Error != nil {
		return nil, fmt.Errorf("callstore: claim: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("callstore: call context %s not found or already claimed", id)
	}
	return s.Get(ctx, id)
}

func (s *gormStore) Complete(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusCompleted)
}

func (s *gormStore) Fail(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusFailed)
}

func (s *gormStore) setStatus(ctx context.Context, id, status string) error {
	result := s.db.WithContext(ctx).Model(&CallContext{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("callstore: set status %s: %w", status, result.Error)
	}
	return nil
}

var updatableFields = map[string]bool{
	"channel_uuid": true,
	"status":       true,
}

// UpdateField sets a single allowlisted column, preventing injection via
// an attacker-controlled field name (teacher's callcontext.UpdateField
// pattern).
func (s *gormStore) UpdateField(ctx context.Context, id, field, value string) error {
	if !updatableFields[field] {
		return fmt.Errorf("callstore: field %q is not updatable", field)
	}
	result := s.db.WithContext(ctx).Model(&CallContext{}).Where("id = ?", id).Update(field, value)
	if result.Error != nil {
		return fmt.Errorf("callstore: update field %s: %w", field, result.Error)
	}
	return nil
}
