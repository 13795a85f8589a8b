// Package conversation implements the Conversation State Machine
// (spec.md §4.4): floor arbitration, end-of-turn detection, barge-in,
// timeouts, and lifecycle events. Grounded on spec.md's state table
// directly (no teacher file implements an explicit FSM); the
// single-writer-loop-over-a-channel shape follows the teacher's
// websocket_executor.go responseListener and base_streamer.go Recv()
// select-loop idiom.
package conversation

import "time"

// State is one of the 9 states from spec.md §4.4.
type State int

const (
	StateInit State = iota
	StateWelcome
	StateListening
	StateHumanSpeaking
	StateProcessing
	StateResponding
	StateResponseComplete
	StateRecovery
	StateEnding
	StateCallEnded
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWelcome:
		return "WELCOME"
	case StateListening:
		return "LISTENING"
	case StateHumanSpeaking:
		return "HUMAN_SPEAKING"
	case StateProcessing:
		return "PROCESSING"
	case StateResponding:
		return "RESPONDING"
	case StateResponseComplete:
		return "RESPONSE_COMPLETE"
	case StateRecovery:
		return "RECOVERY"
	case StateEnding:
		return "ENDING"
	case StateCallEnded:
		return "CALL_ENDED"
	default:
		return "UNKNOWN"
	}
}

// VAD thresholds, spec.md §4.4.
const (
	SilenceThreshold = 0.008
	LoudThreshold    = 0.05
)

// Timing constants and defaults, spec.md §4.4 / §7.
const (
	InitReadyTimeout        = 10 * time.Second
	WelcomeTimeout          = 5 * time.Second
	EndOfTurnSilenceWindow  = 800 * time.Millisecond
	MaxContinuousSpeech     = 30 * time.Second
	ResponseTimeout         = 15 * time.Second
	CarrierFlushGrace       = 2 * time.Second
	tickInterval            = 50 * time.Millisecond
)

// Role is a ConversationTurn's speaker.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is spec.md §3's ConversationTurn.
type Turn struct {
	Role      Role
	Text      string
	StartedAt time.Time
	EndedAt   time.Time
	Truncated bool
	LatencyMs int64
}

// MixerSource identifies which source currently owns the outbound mixer.
// Spec.md invariant: "All outbound carrier audio is either model audio or
// filler audio, never both simultaneously."
type MixerSource int

const (
	MixerNone MixerSource = iota
	MixerModel
	MixerFiller
)
