// Package orchestrator implements the Session Orchestrator (spec.md
// §4.6): the component that owns one call end-to-end, wiring the
// Carrier Adapter, Model Session Client, Conversation State Machine,
// Filler Engine, and Context-Cache Manager together and enforcing mixer
// exclusivity between model audio and filler audio. Grounded on the
// teacher's channel/webrtc/streamer.go lifecycle shape (own
// context/cancel, background reader/writer goroutines, a caller-context
// watcher goroutine) and channel/telephony/internal/base/base.go's
// entity-binding pattern (assistant/conversation/credential references
// held alongside the streamer).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/voicebridge/voicebridge/internal/cache"
	"github.com/voicebridge/voicebridge/internal/callstore"
	"github.com/voicebridge/voicebridge/internal/carrier"
	"github.com/voicebridge/voicebridge/internal/codec"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/conversation"
	"github.com/voicebridge/voicebridge/internal/filler"
	"github.com/voicebridge/voicebridge/internal/logging"
	"github.com/voicebridge/voicebridge/internal/modelclient"
)

var tracer = otel.Tracer("github.com/voicebridge/voicebridge/internal/orchestrator")

// Deps are the process-wide collaborators a Session needs, supplied once
// at process start and shared across calls.
type Deps struct {
	Logger         logging.Logger
	CacheManager   *cache.Manager
	CallStore      callstore.Store
	Transcripts    callstore.TranscriptStore
	FillerSelector filler.Selector // process-wide, loaded once at startup (spec.md §3)
	ModelEndpoint  string          // wss://.../BidiGenerateContent?key=<apiKey>
	ModelModel     string
	DialModel      func(ctx context.Context, logger logging.Logger, cfg modelclient.Config) (*modelclient.Session, error)
}

// Session owns exactly one call: one Carrier Adapter, one Model Session
// Client, one Conversation State Machine (spec.md invariant: "Exactly
// one Model Session Client per call").
type Session struct {
	deps   Deps
	logger logging.Logger

	callID  string
	agent   config.AgentConfig

	carrierAdapter carrier.Adapter
	model          *modelclient.Session
	machine        *conversation.Machine
	fillerEngine   *filler.Engine

	ctx    context.Context
	cancel context.CancelFunc

	mu                   sync.Mutex
	mixerSource          conversation.MixerSource
	modelAudioSuppressed bool
	turns                []conversation.Turn
	startedAt            time.Time
	closeOnce            sync.Once

	cacheHandle *cache.Handle
}

// New creates a Session and performs the creation steps from spec.md
// §4.6: load the agent config (already decoded by the caller), resolve
// or create a CacheHandle, and open the Model Session Client with
// bounded retry. adapter must already be connected to the carrier's
// media stream.
func New(ctx context.Context, deps Deps, callID string, agent config.AgentConfig, adapter carrier.Adapter) (*Session, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.New", trace.WithAttributes(
		attribute.String("call.id", callID), attribute.String("agent.id", agent.ID)))
	defer span.End()

	agent.Clamp()
	if err := agent.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid agent config: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		deps:           deps,
		logger:         deps.Logger,
		callID:         callID,
		agent:          agent,
		carrierAdapter: adapter,
		ctx:            sessCtx,
		cancel:         cancel,
		startedAt:      time.Now(),
	}

	// Resolve the CacheHandle before opening the Model Session Client:
	// the handle (if any) must be present in the setup handshake's
	// cachedContent field (spec.md §4.3: "exactly one of
	// cachedContent/systemInstruction").
	var cacheHandleName string
	if deps.CacheManager != nil {
		if h := deps.CacheManager.GetOrCreate(ctx, agent.ID, agent.PersonaPrompt, agent.KnowledgeDocs); h != nil {
			cacheHandleName = h.Name
			s.cacheHandle = h
		}
	}

	dial := deps.DialModel
	if dial == nil {
		dial = modelclient.Connect
	}
	// Up to 3 attempts, 10s each, with 1s/2s back-off between them.
	var model *modelclient.Session
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Second << uint(attempt-1)):
			case <-sessCtx.Done():
			}
		}
		attemptCtx, attemptCancel := context.WithTimeout(sessCtx, 10*time.Second)
		model, err = dial(attemptCtx, s.logger, modelclient.Config{
			Endpoint:          deps.ModelEndpoint,
			Model:             deps.ModelModel,
			VoiceName:         agent.VoiceID,
			SystemInstruction: agent.PersonaPrompt,
			CacheHandle:       cacheHandleName,
		})
		attemptCancel()
		if err == nil {
			break
		}
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("orchestrator: model session connect: %w", err)
	}
	s.model = model

	if deps.FillerSelector != nil {
		s.fillerEngine = filler.NewEngine(deps.FillerSelector, s.sendFillerAudio)
	}

	s.machine = conversation.New(s.logger, conversation.Config{
		MaxCallDuration:         time.Duration(agent.MaxCallDurationSec) * time.Second,
		SilenceTimeout:          time.Duration(agent.SilenceTimeoutSec) * time.Second,
		InterruptionSensitivity: agent.InterruptionSensitivity,
		WelcomeText:             agent.WelcomeMessage,
		Language:                agent.LanguageTag,
	}, s.hooks())

	return s, nil
}

// Run drives the call to completion: the state machine loop, the
// carrier-read loop, and the model-event loop all run concurrently until
// CALL_ENDED or ctx cancellation, then Run persists the transcript,
// refreshes the CacheHandle TTL, and releases resources.
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		s.machine.Run(s.ctx)
		s.cancel()
	}()
	go func() {
		defer wg.Done()
		s.readCarrierLoop()
	}()
	go func() {
		defer wg.Done()
		s.readModelLoop()
	}()

	wg.Wait()
	s.finalize()
}

func (s *Session) readCarrierLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		in, ok := s.carrierAdapter.Recv()
		if !ok {
			s.cancel()
			return
		}
		if in.Frame != nil {
			s.machine.Push(conversation.Input{
				Kind:      conversation.InputCallerAudio,
				PCM16_16k: in.Frame.PCM16_16k,
				RMS:       in.Frame.RMS,
			})
		}
		if in.Control != nil && in.Control.Kind == carrier.ControlStop {
			s.cancel()
			return
		}
	}
}

func (s *Session) currentModel() *modelclient.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) readModelLoop() {
	for {
		model := s.currentModel()
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-model.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case modelclient.EventReady:
				s.machine.Push(conversation.Input{Kind: conversation.InputModelReady})
			case modelclient.EventAudio:
				s.mu.Lock()
				suppressed := s.modelAudioSuppressed
				s.mu.Unlock()
				if !suppressed {
					if err := s.carrierAdapter.Send(ev.AudioPCM24k); err != nil {
						s.logger.Warnw("orchestrator: carrier send failed", "callId", s.callID, "error", err)
					}
				}
				s.machine.Push(conversation.Input{Kind: conversation.InputModelAudio})
			case modelclient.EventText:
				s.machine.Push(conversation.Input{Kind: conversation.InputModelText, Text: ev.Text})
			case modelclient.EventTurnComplete:
				s.machine.Push(conversation.Input{Kind: conversation.InputModelTurnComplete})
			case modelclient.EventInterrupted:
				s.machine.Push(conversation.Input{Kind: conversation.InputModelInterrupted})
			case modelclient.EventError:
				s.logger.Warnw("orchestrator: model error event", "callId", s.callID, "kind", ev.ErrKind, "error", ev.Err)
				s.machine.Push(conversation.Input{Kind: conversation.InputModelError})
			case modelclient.EventClosed:
				fatal := ev.Err != nil
				s.machine.Push(conversation.Input{Kind: conversation.InputModelClosed, Fatal: fatal})
			}
		}
	}
}

// sendFillerAudio is the Filler Engine's output sink. It re-checks mixer
// ownership at send time (not just at Start/Stop) to close the race
// where model audio arrives the instant after a filler chunk was already
// handed to the engine's playback loop.
func (s *Session) sendFillerAudio(pcm []int16) {
	s.mu.Lock()
	owner := s.mixerSource
	s.mu.Unlock()
	if owner == conversation.MixerModel {
		return
	}
	if err := s.carrierAdapter.Send(codec.Resample(pcm, 16000, 24000)); err != nil {
		s.logger.Warnw("orchestrator: carrier send (filler) failed", "callId", s.callID, "error", err)
	}
}

// hooks binds the Conversation State Machine's side-effect callbacks to
// this Session's collaborators, enforcing mixer exclusivity: only the
// source the state machine names via SetMixerSource may write audio to
// the carrier at any moment.
func (s *Session) hooks() conversation.Hooks {
	return conversation.Hooks{
		SendToModel: func(pcm []int16) {
			if m := s.currentModel(); m != nil {
				_ = m.SendAudio16k(codec.Int16ToPCMBytes(pcm))
			}
		},
		StartFiller: func() {
			if s.fillerEngine != nil {
				s.fillerEngine.Start(s.agent.LanguageTag, "", "")
			}
		},
		StopFiller: func() {
			if s.fillerEngine != nil {
				s.fillerEngine.Stop()
			}
		},
		// SetMixerSource is the single point of mixer-exclusivity truth: the
		// Machine always calls StopFiller before announcing MixerModel, so
		// recording the source here is enough to keep carrier.Send callers
		// honest without a second arbitration layer. Entering MixerModel also
		// marks the start of a genuinely new model turn, so it clears any
		// suppression left over from a prior barge-in.
		SetMixerSource: func(src conversation.MixerSource) {
			s.mu.Lock()
			s.mixerSource = src
			if src == conversation.MixerModel {
				s.modelAudioSuppressed = false
			}
			s.mu.Unlock()
		},
		StopModel: func() {
			// Barge-in: the upstream keeps streaming audio for the
			// interrupted turn until it observes our next turn, so
			// readModelLoop's EventAudio case suppresses the carrier send
			// itself until SetMixerSource(MixerModel) announces a fresh
			// response.
			s.mu.Lock()
			s.modelAudioSuppressed = true
			s.mu.Unlock()
		},
		RequestReconnect: func() bool {
			ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
			defer cancel()
			model, err := modelclient.Connect(ctx, s.logger, modelclient.Config{
				Endpoint:          s.deps.ModelEndpoint,
				Model:             s.deps.ModelModel,
				VoiceName:         s.agent.VoiceID,
				SystemInstruction: s.agent.PersonaPrompt,
			})
			if err != nil {
				s.logger.Warnw("orchestrator: reconnect failed", "callId", s.callID, "error", err)
				return false
			}
			s.mu.Lock()
			old := s.model
			s.model = model
			s.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			go s.readModelLoop()
			return true
		},
		AppendTurn: func(t conversation.Turn) {
			s.mu.Lock()
			s.turns = append(s.turns, t)
			s.mu.Unlock()
		},
		OnStateChange: func(from, to conversation.State) {
			s.logger.Infof("orchestrator: call %s %s -> %s", s.callID, from, to)
		},
		OnTerminal: func() {
			s.cancel()
		},
	}
}

// finalize persists the transcript, refreshes the CacheHandle TTL, and
// releases the carrier/model connections. Safe to call multiple times.
func (s *Session) finalize() {
	s.closeOnce.Do(func() {
		_, span := tracer.Start(context.Background(), "orchestrator.finalize",
			trace.WithAttributes(attribute.String("call.id", s.callID)))
		defer span.End()

		endedAt := time.Now()
		s.mu.Lock()
		turns := s.turns
		s.mu.Unlock()

		if s.fillerEngine != nil {
			s.fillerEngine.Stop()
		}

		// The five teardown steps below touch independent backends
		// (transcript DB, call-context DB, model socket, carrier socket,
		// cache TTL) and none depends on another's result, so they run concurrently
		// via errgroup, mirroring the teacher's Initialize() fan-out
		// pattern applied to teardown instead of setup.
		var g errgroup.Group
		g.Go(func() error {
			if s.deps.Transcripts == nil {
				return nil
			}
			return s.deps.Transcripts.Persist(context.Background(), s.callID, s.agent.ID, "", s.startedAt, endedAt, turns)
		})
		g.Go(func() error {
			if s.deps.CallStore == nil {
				return nil
			}
			return s.deps.CallStore.Complete(context.Background(), s.callID)
		})
		g.Go(func() error {
			if m := s.currentModel(); m != nil {
				return m.Close()
			}
			return nil
		})
		g.Go(func() error {
			if s.carrierAdapter != nil {
				return s.carrierAdapter.Close()
			}
			return nil
		})
		g.Go(func() error {
			if s.deps.CacheManager != nil && s.cacheHandle != nil {
				s.deps.CacheManager.RefreshTTL(context.Background(), *s.cacheHandle)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			s.logger.Warnw("orchestrator: finalize encountered an error", "callId", s.callID, "error", err)
		}
	})
}

// Close cancels the session early (e.g. process shutdown).
func (s *Session) Close() {
	s.cancel()
	s.finalize()
}
