package cache

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/logging"
)

func TestHandlePatternValidation(t *testing.T) {
	assert.True(t, HandlePattern.MatchString("cachedContents/abc-123_XYZ"))
	assert.False(t, HandlePattern.MatchString("cached/bad id"))
}

func TestFingerprintIsDeterministic(t *testing.T) {
	docs := []config.KnowledgeDoc{{ID: "1", Summary: "hello"}}
	a := Fingerprint("instruction", docs)
	b := Fingerprint("instruction", docs)
	assert.Equal(t, a, b)

	c := Fingerprint("different instruction", docs)
	assert.NotEqual(t, a, c)
}

func TestGetOrCreateServesFromRedisWithoutCreating(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	fingerprint := Fingerprint("instr", nil)
	mock.ExpectGet(redisKey("agent-1", fingerprint)).SetVal("cachedContents/existing-handle")

	m := New(logging.NewNop(), rdb, nil)
	h := m.GetOrCreate(context.Background(), "agent-1", "instr", nil)
	require.NotNil(t, h)
	assert.Equal(t, "cachedContents/existing-handle", h.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateFallsBackToNilWithoutGenaiClient(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	fingerprint := Fingerprint("instr", nil)
	mock.ExpectGet(redisKey("agent-1", fingerprint)).RedisNil()

	m := New(logging.NewNop(), rdb, nil)
	h := m.GetOrCreate(context.Background(), "agent-1", "instr", nil)
	assert.Nil(t, h, "no genai client configured, caller must inline the system instruction")
}
