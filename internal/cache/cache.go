// Package cache implements the Context-Cache Manager (spec.md §4.7): a
// process-wide singleton that lazily creates and refreshes an upstream
// "cached content" handle per agent, deduplicating concurrent creation
// with a singleflight group. Grounded on spec.md §4.7's explicit
// singleflight requirement and the teacher's go.mod
// (golang.org/x/sync, redis/go-redis/v9, google.golang.org/genai — the
// latter previously used only for STT/TTS client options in
// transformer/google/google.go, here repurposed for its Caches API).
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"google.golang.org/genai"

	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/logging"
)

// HandlePattern validates a cache handle per spec.md §3/§8.
var HandlePattern = regexp.MustCompile(`^cachedContents/[A-Za-z0-9_-]+$`)

// Handle is spec.md §3's CacheHandle.
type Handle struct {
	Name        string // e.g. "cachedContents/abc123"
	AgentID     string
	Fingerprint string
	ExpiresAt   time.Time
}

// Valid reports whether the handle's name passes the regex.
func (h Handle) Valid() bool {
	return HandlePattern.MatchString(h.Name)
}

const defaultTTL = 1 * time.Hour

// Manager is the process-wide Context-Cache Manager singleton.
type Manager struct {
	logger      logging.Logger
	redis       *redis.Client
	genaiClient *genai.Client
	group       singleflight.Group
}

// New builds a Manager. genaiClient may be nil in tests that never
// exercise the real creation path (GetOrCreate will then only serve
// already-cached handles from redis).
func New(logger logging.Logger, redisClient *redis.Client, genaiClient *genai.Client) *Manager {
	return &Manager{logger: logger, redis: redisClient, genaiClient: genaiClient}
}

// Fingerprint computes the content fingerprint key used to dedupe cache
// creation across calls for the same agent + instruction + docs.
func Fingerprint(systemInstruction string, docs []config.KnowledgeDoc) string {
	h := sha256.New()
	h.Write([]byte(systemInstruction))
	for _, d := range docs {
		h.Write([]byte(d.ID))
		h.Write([]byte(d.Summary))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func redisKey(agentID, fingerprint string) string {
	return fmt.Sprintf("voicebridge:cache-handle:%s:%s", agentID, fingerprint)
}

// GetOrCreate returns a validated Handle or nil if creation failed or
// produced an invalid handle — callers must then inline the system
// instruction (spec.md §4.7). Concurrent calls for the same
// (agentID, fingerprint) key wait for a single in-flight creation.
func (m *Manager) GetOrCreate(ctx context.Context, agentID, systemInstruction string, docs []config.KnowledgeDoc) *Handle {
	fingerprint := Fingerprint(systemInstruction, docs)
	key := redisKey(agentID, fingerprint)

	if m.redis != nil {
		if name, err := m.redis.Get(ctx, key).Result(); err == nil && name != "" {
			h := &Handle{Name: name, AgentID: agentID, Fingerprint: fingerprint}
			if h.Valid() {
				return h
			}
		}
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.create(ctx, agentID, fingerprint, systemInstruction, docs)
	})
	if err != nil {
		m.logger.Warnw("cache: create_or_get failed, caller should inline system instruction", "agentId", agentID, "error", err)
		return nil
	}
	h, _ := v.(*Handle)
	if h == nil || !h.Valid() {
		return nil
	}
	return h
}

func (m *Manager) create(ctx context.Context, agentID, fingerprint, systemInstruction string, docs []config.KnowledgeDoc) (*Handle, error) {
	if m.genaiClient == nil {
		return nil, fmt.Errorf("cache: no genai client configured")
	}

	parts := []*genai.Part{genai.NewPartFromText(systemInstruction)}
	for _, d := range docs {
		parts = append(parts, genai.NewPartFromText(d.Summary))
	}

	cc, err := m.genaiClient.Caches.Create(ctx, "models/gemini-2.0-flash-001", &genai.CreateCachedContentConfig{
		Contents: []*genai.Content{{Role: "user", Parts: parts}},
		TTL:      defaultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: genai create: %w", err)
	}

	h := &Handle{
		Name:        cc.Name,
		AgentID:     agentID,
		Fingerprint: fingerprint,
		ExpiresAt:   time.Now().Add(defaultTTL),
	}
	if !h.Valid() {
		return h, nil
	}
	if m.redis != nil {
		if err := m.redis.Set(ctx, redisKey(agentID, fingerprint), h.Name, defaultTTL).Err(); err != nil {
			m.logger.Warnw("cache: failed to persist handle to redis", "error", err)
		}
	}
	return h, nil
}

// RefreshTTL is a best-effort TTL bump on call close (spec.md §4.7);
// failures are logged, never fatal.
func (m *Manager) RefreshTTL(ctx context.Context, h Handle) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Expire(ctx, redisKey(h.AgentID, h.Fingerprint), defaultTTL).Err(); err != nil {
		m.logger.Warnw("cache: refresh_ttl failed", "handle", h.Name, "error", err)
	}
}
