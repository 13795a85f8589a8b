package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/internal/logging"
)

const inputQueueSize = 64

// Config holds the per-call tunables sourced from AgentConfig.
type Config struct {
	MaxCallDuration         time.Duration
	SilenceTimeout          time.Duration
	InterruptionSensitivity float64 // s in [0,1], spec.md §4.4
	WelcomeText             string
	Language                string
}

// Machine is the single-writer Conversation State Machine. All state
// transitions happen on one goroutine (Run), driven by a bounded input
// queue; external producers call Push, which drops the oldest pending
// event (incrementing DroppedEvents) rather than blocking, per spec.md
// §4.4/§5.
type Machine struct {
	logger logging.Logger
	cfg    Config
	hooks  Hooks

	input chan Input

	mu            sync.Mutex
	state         State
	callStart     time.Time
	lastSupraVAD  time.Time // last frame/audio above SILENCE threshold
	subSilenceDur time.Duration
	speechStart   time.Time
	processingAt  time.Time
	welcomeAt     time.Time
	initAt        time.Time
	responseErrCount int

	currentAgentTurn *Turn
	currentUserTurn  *Turn
	droppedEvents    uint64
	reconnects       int

	audioBuf [][]int16
}

// New creates a Machine in state INIT.
func New(logger logging.Logger, cfg Config, hooks Hooks) *Machine {
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = 600 * time.Second
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 30 * time.Second
	}
	now := time.Now()
	return &Machine{
		logger:    logger,
		cfg:       cfg,
		hooks:     hooks,
		input:     make(chan Input, inputQueueSize),
		state:     StateInit,
		callStart: now,
		initAt:    now,
	}
}

// Push enqueues an external event. Non-blocking: if the queue is full the
// oldest pending event is dropped (best-effort removal) to make room,
// per spec.md §4.4 ("Dropped events... increment a metric but never
// cause inconsistent transitions").
func (m *Machine) Push(ev Input) {
	select {
	case m.input <- ev:
	default:
		select {
		case <-m.input:
			m.mu.Lock()
			m.droppedEvents++
			m.mu.Unlock()
		default:
		}
		select {
		case m.input <- ev:
		default:
			m.mu.Lock()
			m.droppedEvents++
			m.mu.Unlock()
			m.logger.Warnw("conversation: input queue saturated, dropped event", "kind", ev.Kind)
		}
	}
}

// State returns the current state (safe for concurrent reads).
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DroppedEvents reports how many input events were dropped for
// back-pressure.
func (m *Machine) DroppedEvents() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.droppedEvents
}

// Run drives the state machine until ctx is cancelled or CALL_ENDED is
// reached. Must be called from exactly one goroutine.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.input:
			m.handleInput(ev)
		case <-ticker.C:
			m.handleTick()
		}
		if m.State() == StateCallEnded {
			return
		}
	}
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from == to {
		return
	}
	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(from, to)
	}
	m.onEnter(to)
	if to == StateCallEnded && m.hooks.OnTerminal != nil {
		m.hooks.OnTerminal()
	}
}

func (m *Machine) onEnter(s State) {
	now := time.Now()
	switch s {
	case StateWelcome:
		m.welcomeAt = now
	case StateListening:
		m.audioBuf = nil
		m.subSilenceDur = 0
		m.lastSupraVAD = now
	case StateHumanSpeaking:
		m.speechStart = now
		m.subSilenceDur = 0
		m.currentUserTurn = &Turn{Role: RoleUser, StartedAt: now}
	case StateProcessing:
		m.processingAt = now
		if m.currentUserTurn != nil {
			m.currentUserTurn.EndedAt = now
			if m.hooks.AppendTurn != nil {
				m.hooks.AppendTurn(*m.currentUserTurn)
			}
			m.currentUserTurn = nil
		}
		if m.hooks.SendToModel != nil && len(m.audioBuf) > 0 {
			m.hooks.SendToModel(flatten(m.audioBuf))
		}
		m.audioBuf = nil
		if m.hooks.StartFiller != nil {
			m.hooks.StartFiller()
		}
	case StateResponding:
		if m.hooks.StopFiller != nil {
			m.hooks.StopFiller()
		}
		if m.hooks.SetMixerSource != nil {
			m.hooks.SetMixerSource(MixerModel)
		}
		m.currentAgentTurn = &Turn{Role: RoleAgent, StartedAt: now}
	case StateResponseComplete:
		if m.currentAgentTurn != nil {
			m.currentAgentTurn.EndedAt = now
			m.currentAgentTurn.LatencyMs = now.Sub(m.processingAt).Milliseconds()
			if m.hooks.AppendTurn != nil {
				m.hooks.AppendTurn(*m.currentAgentTurn)
			}
			m.currentAgentTurn = nil
		}
		if m.hooks.SetMixerSource != nil {
			m.hooks.SetMixerSource(MixerNone)
		}
	case StateRecovery:
		if m.hooks.SetMixerSource != nil {
			m.hooks.SetMixerSource(MixerNone)
		}
	case StateEnding:
		if m.hooks.StopFiller != nil {
			m.hooks.StopFiller()
		}
		if m.hooks.SetMixerSource != nil {
			m.hooks.SetMixerSource(MixerNone)
		}
	}
}

func flatten(chunks [][]int16) []int16 {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]int16, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func (m *Machine) handleInput(ev Input) {
	switch ev.Kind {
	case InputModelReady:
		if m.State() == StateInit {
			m.transition(StateWelcome)
		} else if m.State() == StateRecovery {
			m.transition(StateListening)
		}
	case InputCallerAudio:
		m.handleCallerAudio(ev.PCM16_16k, ev.RMS)
	case InputModelAudio:
		m.handleModelAudio()
	case InputModelText:
		if m.currentAgentTurn != nil {
			m.currentAgentTurn.Text += ev.Text
		}
	case InputModelTurnComplete:
		if m.State() == StateResponding {
			m.transition(StateResponseComplete)
			m.transition(StateListening)
		}
	case InputModelInterrupted:
		// handled via barge-in gate inside handleCallerAudio; an explicit
		// upstream "interrupted" echo is treated the same as our own gate.
	case InputModelError:
		if m.State() == StateProcessing || m.State() == StateResponding {
			m.transition(StateRecovery)
		}
	case InputModelClosed:
		if !ev.Fatal {
			return
		}
		if m.hooks.RequestReconnect != nil {
			m.transition(StateRecovery)
			if m.hooks.RequestReconnect() {
				m.reconnects++
				m.transition(StateListening)
			} else {
				m.transition(StateEnding)
			}
		} else {
			m.transition(StateEnding)
		}
	}
}

func (m *Machine) handleModelAudio() {
	switch m.State() {
	case StateProcessing:
		m.transition(StateResponding)
	case StateResponding:
		// already streaming; nothing to do at the FSM level.
	}
}

func (m *Machine) handleCallerAudio(pcm []int16, rms float64) {
	now := time.Now()
	switch m.State() {
	case StateListening:
		if rms > SilenceThreshold {
			m.lastSupraVAD = now
			m.audioBuf = append(m.audioBuf, pcm)
			m.transition(StateHumanSpeaking)
		}
	case StateHumanSpeaking:
		m.audioBuf = append(m.audioBuf, pcm)
		if rms > SilenceThreshold {
			m.subSilenceDur = 0
			m.lastSupraVAD = now
		} else {
			m.subSilenceDur += 20 * time.Millisecond
			if m.subSilenceDur >= EndOfTurnSilenceWindow {
				m.transition(StateProcessing)
			}
		}
		if now.Sub(m.speechStart) >= MaxContinuousSpeech {
			m.transition(StateProcessing)
		}
	case StateResponding:
		if rms > SilenceThreshold {
			m.lastSupraVAD = now
		}
		if m.interruptionFires(rms) {
			if m.hooks.StopModel != nil {
				m.hooks.StopModel()
			}
			if m.hooks.SetMixerSource != nil {
				m.hooks.SetMixerSource(MixerNone)
			}
			if m.currentAgentTurn != nil {
				m.currentAgentTurn.Truncated = true
				m.currentAgentTurn.EndedAt = now
				if m.hooks.AppendTurn != nil {
					m.hooks.AppendTurn(*m.currentAgentTurn)
				}
				m.currentAgentTurn = nil
			}
			m.transition(StateListening)
		}
	default:
		if rms > SilenceThreshold {
			m.lastSupraVAD = now
		}
	}
}

// interruptionFires implements the barge-in gate, spec.md §4.4.
func (m *Machine) interruptionFires(rms float64) bool {
	s := m.cfg.InterruptionSensitivity
	switch {
	case s >= 0.8:
		return rms > SilenceThreshold
	case s >= 0.4:
		if rms <= SilenceThreshold {
			return false
		}
		confidence := rms / LoudThreshold
		if confidence > 1 {
			confidence = 1
		}
		return confidence > 0.7
	default:
		return rms > LoudThreshold
	}
}

func (m *Machine) handleTick() {
	now := time.Now()
	state := m.State()

	if state != StateCallEnded && state != StateEnding {
		if now.Sub(m.callStart) > m.cfg.MaxCallDuration {
			m.transition(StateEnding)
			m.transition(StateCallEnded)
			return
		}
	}

	switch state {
	case StateInit:
		if now.Sub(m.initAt) > InitReadyTimeout {
			m.transition(StateEnding)
			m.transition(StateCallEnded)
		}
	case StateWelcome:
		if now.Sub(m.welcomeAt) > WelcomeTimeout {
			m.transition(StateListening)
		}
	case StateListening:
		if now.Sub(m.lastSupraVAD) > m.cfg.SilenceTimeout {
			m.transition(StateEnding)
			m.transition(StateCallEnded)
		}
	case StateProcessing:
		if now.Sub(m.processingAt) > ResponseTimeout {
			m.responseErrCount++
			if m.responseErrCount > 2 {
				m.transition(StateEnding)
				m.transition(StateCallEnded)
				return
			}
			m.logger.Warnw("conversation: response timeout, returning to LISTENING", "count", m.responseErrCount)
			m.transition(StateListening)
		}
	case StateEnding:
		m.transition(StateCallEnded)
	}
}
