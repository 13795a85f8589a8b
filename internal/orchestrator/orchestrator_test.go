package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge/voicebridge/internal/conversation"
	"github.com/voicebridge/voicebridge/internal/callstore"
	"github.com/voicebridge/voicebridge/internal/carrier"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/logging"
)

// fakeModelUpstream accepts exactly one setup handshake and immediately
// replies with setupComplete, mirroring modelclient's own test fixture,
// re-implemented here against the raw wire JSON since modelclient's
// internal wire types are unexported.
func fakeModelUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{
			"setupComplete": map[string]interface{}{"sessionId": "sess-1"},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// fakeAdapter is a minimal carrier.Adapter: yields a fixed sequence of
// Inbound items, then reports the stream ended.
type fakeAdapter struct {
	mu      sync.Mutex
	items   []carrier.Inbound
	pos     int
	sent    [][]int16
	dropped uint64
	closed  bool
}

func (f *fakeAdapter) Recv() (carrier.Inbound, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.items) {
		return carrier.Inbound{}, false
	}
	item := f.items[f.pos]
	f.pos++
	return item, true
}

func (f *fakeAdapter) Send(pcm24k []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pcm24k)
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAdapter) DroppedFrames() uint64 { return f.dropped }

func testAgent() config.AgentConfig {
	ac := config.AgentConfig{
		ID:          "agent-1",
		VoiceID:     "Aoede",
		LanguageTag: "en-US",
	}
	ac.Clamp()
	return ac
}

func TestNewConnectsModelAndBuildsMachine(t *testing.T) {
	srv := fakeModelUpstream(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	deps := Deps{
		Logger:        logging.NewNop(),
		ModelEndpoint: wsURL,
		ModelModel:    "models/test",
	}
	adapter := &fakeAdapter{}

	sess, err := New(context.Background(), deps, "call-1", testAgent(), adapter)
	require.NoError(t, err)
	require.NotNil(t, sess)
	sess.Close()
}

func TestRunPersistsTranscriptAndClosesResourcesOnCarrierStop(t *testing.T) {
	srv := fakeModelUpstream(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var persisted bool
	var completed bool
	var mu sync.Mutex

	deps := Deps{
		Logger:        logging.NewNop(),
		ModelEndpoint: wsURL,
		ModelModel:    "models/test",
		Transcripts:   persistRecorder{onPersist: func() { mu.Lock(); persisted = true; mu.Unlock() }},
		CallStore:     completeRecorder{onComplete: func() { mu.Lock(); completed = true; mu.Unlock() }},
	}

	adapter := &fakeAdapter{
		items: []carrier.Inbound{
			{Control: &carrier.ControlEvent{Kind: carrier.ControlStop, CallID: "call-1"}},
		},
	}

	sess, err := New(context.Background(), deps, "call-1", testAgent(), adapter)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after carrier stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, persisted, "transcript should be persisted on call end")
	assert.True(t, completed, "call context should be marked complete")
	assert.True(t, adapter.closed)
}

type persistRecorder struct {
	onPersist func()
}

func (p persistRecorder) Persist(ctx context.Context, callID, agentID, userID string, startedAt, endedAt time.Time, turns []conversation.Turn) error {
	p.onPersist()
	return nil
}

type completeRecorder struct {
	onComplete func()
}

func (c completeRecorder) Save(ctx context.Context, cc *callstore.CallContext) (string, error) {
	return "", nil
}
func (c completeRecorder) Get(ctx context.Context, id string) (*callstore.CallContext, error) {
	return nil, nil
}
func (c completeRecorder) Claim(ctx context.Context, id string) (*callstore.CallContext, error) {
	return nil, nil
}
func (c completeRecorder) Complete(ctx context.Context, id string) error {
	c.onComplete()
	return nil
}
func (c completeRecorder) Fail(ctx context.Context, id string) error { return nil }
func (c completeRecorder) UpdateField(ctx context.Context, id, field, value string) error {
	return nil
}
