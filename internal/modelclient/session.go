// Package modelclient implements the Model Session Client: a long-lived
// WebSocket to the upstream generative model (spec.md §4.3). Grounded on
// two pack sources: the gemini StreamSession client (setup handshake,
// receive loop, modality-exclusivity discipline) and the teacher's
// websocket_executor.go (errgroup-based connect fan-out, mutex-guarded
// writes, reusable Close()).
package modelclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/logging"
)

// CacheHandlePattern is the validation regex from spec.md §3/§8: a
// CacheHandle is only used when it matches this pattern, otherwise the
// caller must fall back to inlining the system instruction.
var CacheHandlePattern = regexp.MustCompile(`^cachedContents/[A-Za-z0-9_-]+$`)

const (
	setupBudget        = 15 * time.Second
	maxReconnectAttempts = 3
	reconnectBaseDelay   = 1 * time.Second
	writeQueueSize       = 64
)

// Config captures everything Connect needs to perform the setup handshake.
type Config struct {
	Endpoint          string // wss://.../BidiGenerateContent?key=<apiKey>
	Model             string
	VoiceName         string
	SystemInstruction string
	CacheHandle       string // optional; validated against CacheHandlePattern
}

// Session is one live connection to the upstream model for exactly one
// call (spec.md invariant: "Exactly one Model Session Client per call").
type Session struct {
	logger logging.Logger
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string

	writeMu sync.Mutex

	events chan ModelEvent

	closeOnce   sync.Once
	intentional bool
	done        chan struct{}

	reconnects int
}

// Connect dials the upstream model and blocks until either setupComplete
// has arrived or the 15s setup budget (spec.md §4.3) is exceeded.
func Connect(ctx context.Context, logger logging.Logger, cfg Config) (*Session, error) {
	s := &Session{
		logger: logger,
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events: make(chan ModelEvent, writeQueueSize),
		done:   make(chan struct{}),
	}
	if err := s.dialAndHandshake(ctx); err != nil {
		return nil, err
	}
	go s.receiveLoop()
	return s, nil
}

// Events returns the channel of ModelEvents this session emits. Closed
// when the session is torn down for good (no further reconnects pending).
func (s *Session) Events() <-chan ModelEvent { return s.events }

func (s *Session) dialAndHandshake(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, setupBudget)
	defer cancel()

	conn, _, err := s.dialer.DialContext(setupCtx, s.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("modelclient: dial: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.sendSetup(); err != nil {
		conn.Close()
		return err
	}

	type result struct {
		sessionID string
		err       error
	}
	resultCh := make(chan result, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				resultCh <- result{err: fmt.Errorf("modelclient: setup read: %w", err)}
				return
			}
			var msg serverMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue // tolerate malformed frames before setupComplete, per lenient-decoder design note
			}
			if msg.SetupComplete != nil {
				resultCh <- result{sessionID: msg.SetupComplete.SessionID}
				return
			}
		}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return r.err
		}
		s.mu.Lock()
		s.sessionID = r.sessionID
		s.mu.Unlock()
		s.emit(ModelEvent{Kind: EventReady, SessionID: r.sessionID})
		return nil
	case <-setupCtx.Done():
		conn.Close()
		return fmt.Errorf("modelclient: setup timed out after %s: %w", setupBudget, setupCtx.Err())
	}
}

// sendSetup builds and sends the single setup message. Exactly one of
// cachedContent/systemInstruction is set (spec.md §4.3): a malformed cache
// handle is silently downgraded to the inline instruction.
func (s *Session) sendSetup() error {
	env := setupEnvelope{Setup: setupMessage{
		Model: s.cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.cfg.VoiceName},
				},
			},
		},
	}}

	if s.cfg.CacheHandle != "" && CacheHandlePattern.MatchString(s.cfg.CacheHandle) {
		env.Setup.CachedContent = s.cfg.CacheHandle
	} else {
		if s.cfg.CacheHandle != "" {
			s.logger.Warnw("cache handle failed validation, falling back to inline system instruction",
				"cacheHandle", s.cfg.CacheHandle)
		}
		env.Setup.SystemInstruction = &systemInstruction{Parts: []textPart{{Text: s.cfg.SystemInstruction}}}
	}

	return s.writeJSON(env)
}

func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("modelclient: write on closed session")
	}
	return conn.WriteJSON(v)
}

// SendAudio16k sends a PCM16/16k chunk as a realtimeInput media chunk.
// Best-effort: the write is attempted whatever the session's readiness,
// and if it fails the frame is dropped and a warning is logged. No drop
// counter is kept and there is no queue (gorilla/websocket writes are
// serialized under writeMu).
func (s *Session) SendAudio16k(pcmBytesLE []byte) error {
	chunk := mediaChunk{MimeType: "audio/pcm;rate=16000", Data: base64.StdEncoding.EncodeToString(pcmBytesLE)}
	env := realtimeInputEnvelope{RealtimeInput: realtimeInput{MediaChunks: []mediaChunk{chunk}}}
	if err := s.writeJSON(env); err != nil {
		s.logger.Warnw("dropped outbound audio frame", "error", err)
		return err
	}
	return nil
}

// SendText sends a user text turn.
func (s *Session) SendText(text string) error {
	env := clientContentEnvelope{ClientContent: clientContent{
		Turns:        []contentTurn{{Role: "user", Parts: []textPart{{Text: text}}}},
		TurnComplete: true,
	}}
	return s.writeJSON(env)
}

// Close gracefully closes the session and marks it intentional so no
// reconnection is attempted. Idempotent (DESIGN.md Open Question #2).
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.intentional = true
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			err = conn.Close()
		}
		close(s.done)
	})
	return err
}

func (s *Session) receiveLoop() {
	defer close(s.events)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.intentional {
				s.emit(ModelEvent{Kind: EventClosed, CloseReason: "intentional"})
				return
			}
			if !s.attemptReconnect() {
				s.emit(ModelEvent{Kind: EventError, ErrKind: ErrFatalUpstream, Err: err})
				s.emit(ModelEvent{Kind: EventClosed, Err: err})
				return
			}
			continue
		}

		var msg serverMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil {
			s.emit(ModelEvent{Kind: EventError, ErrKind: ErrProtocol, Err: jsonErr})
			continue
		}
		s.processServerMessage(msg)
	}
}

func (s *Session) processServerMessage(msg serverMessage) {
	switch {
	case msg.Error != nil:
		s.emit(ModelEvent{Kind: EventError, ErrKind: ErrFatalUpstream, Err: fmt.Errorf("%s", msg.Error.Message)})
	case msg.ToolCall != nil:
		payload, _ := json.Marshal(msg.ToolCall.Payload)
		s.emit(ModelEvent{Kind: EventToolCall, ToolCallID: msg.ToolCall.ID, ToolCallPayload: payload})
	case msg.ServerContent != nil:
		sc := msg.ServerContent
		if sc.Interrupted {
			s.emit(ModelEvent{Kind: EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && strings.HasPrefix(part.InlineData.MimeType, "audio/") {
					raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
					if err != nil {
						s.emit(ModelEvent{Kind: EventError, ErrKind: ErrProtocol, Err: err})
						continue
					}
					pcm := bytesToInt16LE(raw)
					s.emit(ModelEvent{Kind: EventAudio, AudioPCM24k: pcm})
				}
				if part.Text != "" {
					s.emit(ModelEvent{Kind: EventText, Text: part.Text})
				}
			}
		}
		if sc.TurnComplete {
			s.emit(ModelEvent{Kind: EventTurnComplete})
		}
	}
}

func (s *Session) emit(ev ModelEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warnw("model event channel full, dropping event", "kind", ev.Kind.String())
	}
}

// attemptReconnect implements the bounded-reconnect policy from spec.md
// §4.3: at most 3 attempts, delays 1s/2s/4s, non-reconnecting on
// intentional close.
func (s *Session) attemptReconnect() bool {
	for s.reconnects < maxReconnectAttempts {
		delay := reconnectBaseDelay * time.Duration(1<<uint(s.reconnects))
		s.reconnects++
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), setupBudget)
		err := s.dialAndHandshake(ctx)
		cancel()
		if err == nil {
			s.logger.Infof("modelclient: reconnected after %d attempt(s)", s.reconnects)
			return true
		}
		s.logger.Warnw("modelclient: reconnect attempt failed", "attempt", s.reconnects, "error", err)
	}
	return false
}

// ReconnectCount reports how many reconnect attempts this session has made.
func (s *Session) ReconnectCount() int { return s.reconnects }

// SessionID returns the upstream-assigned session id, set once setupComplete
// arrives.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func bytesToInt16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
