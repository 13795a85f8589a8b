// Package config defines the runtime configuration surface: the
// per-call AgentConfig, carrier credentials, and the process-wide
// settings loaded from environment/file via viper.
package config

import "fmt"

// BackgroundNoiseProfile enumerates the supported ambience profiles.
type BackgroundNoiseProfile string

const (
	NoiseQuiet      BackgroundNoiseProfile = "quiet"
	NoiseOffice     BackgroundNoiseProfile = "office"
	NoiseCafe       BackgroundNoiseProfile = "cafe"
	NoiseStreet     BackgroundNoiseProfile = "street"
	NoiseCallCenter BackgroundNoiseProfile = "call-center"
)

var validNoiseProfiles = map[BackgroundNoiseProfile]bool{
	NoiseQuiet: true, NoiseOffice: true, NoiseCafe: true,
	NoiseStreet: true, NoiseCallCenter: true,
}

// KnowledgeDoc is a summary reference to a knowledge document attached to
// an agent, consumed only by the Context-Cache Manager when building
// cached content.
type KnowledgeDoc struct {
	ID      string `json:"id" mapstructure:"id"`
	Title   string `json:"title" mapstructure:"title"`
	Summary string `json:"summary" mapstructure:"summary"`
}

// AgentConfig is the read-only-per-call agent configuration. It is loaded
// once at call start and never mutated; subsequent edits to the underlying
// agent record affect only future calls (DESIGN NOTES, spec.md §9).
type AgentConfig struct {
	ID                     string                 `json:"id" mapstructure:"id" validate:"required"`
	DisplayName            string                 `json:"displayName" mapstructure:"display_name"`
	PersonaPrompt          string                 `json:"personaPrompt" mapstructure:"persona_prompt"`
	VoiceID                string                 `json:"voiceId" mapstructure:"voice_id" validate:"required"`
	LanguageTag            string                 `json:"languageTag" mapstructure:"language_tag" validate:"required"`
	EmotionLevel           float64                `json:"emotionLevel" mapstructure:"emotion_level"`
	VoiceSpeed             float64                `json:"voiceSpeed" mapstructure:"voice_speed"`
	Responsiveness         float64                `json:"responsiveness" mapstructure:"responsiveness"`
	InterruptionSensitivity float64               `json:"interruptionSensitivity" mapstructure:"interruption_sensitivity"`
	BackgroundNoiseProfile BackgroundNoiseProfile `json:"backgroundNoiseProfile" mapstructure:"background_noise_profile"`
	MaxCallDurationSec     int                    `json:"maxCallDurationSec" mapstructure:"max_call_duration_seconds"`
	SilenceTimeoutSec      int                    `json:"silenceTimeoutSec" mapstructure:"silence_timeout_seconds"`
	WelcomeMessage         string                 `json:"welcomeMessage" mapstructure:"welcome_message"`
	Characteristics        []string               `json:"characteristics" mapstructure:"characteristics"`
	KnowledgeDocs          []KnowledgeDoc         `json:"knowledgeDocs" mapstructure:"knowledge_docs"`
}

// Default timing values, matching spec.md §4.4.
const (
	DefaultMaxCallDurationSec = 600
	DefaultSilenceTimeoutSec  = 30
)

// Clamp enforces every numeric invariant from spec.md §3 ("all numeric
// fields clamped at load; enums validated"). It mutates ac in place and
// returns ac for chaining.
func (ac *AgentConfig) Clamp() *AgentConfig {
	ac.EmotionLevel = clampFloat(ac.EmotionLevel, 0, 1)
	ac.VoiceSpeed = clampFloat(orDefaultFloat(ac.VoiceSpeed, 1.0), 0.5, 2.0)
	ac.Responsiveness = clampFloat(ac.Responsiveness, 0, 1)
	ac.InterruptionSensitivity = clampFloat(ac.InterruptionSensitivity, 0, 1)

	if ac.MaxCallDurationSec <= 0 {
		ac.MaxCallDurationSec = DefaultMaxCallDurationSec
	}
	if ac.SilenceTimeoutSec <= 0 {
		ac.SilenceTimeoutSec = DefaultSilenceTimeoutSec
	}
	if !validNoiseProfiles[ac.BackgroundNoiseProfile] {
		ac.BackgroundNoiseProfile = NoiseQuiet
	}
	return ac
}

// Validate checks enum and required-field invariants after clamping.
// Numeric ranges are enforced unconditionally by Clamp, so Validate only
// reports structural problems that clamping cannot silently repair.
func (ac *AgentConfig) Validate() error {
	if ac.ID == "" {
		return fmt.Errorf("config: agent id is required")
	}
	if ac.VoiceID == "" {
		return fmt.Errorf("config: voice id is required")
	}
	if ac.LanguageTag == "" {
		return fmt.Errorf("config: language tag is required")
	}
	if !validNoiseProfiles[ac.BackgroundNoiseProfile] {
		return fmt.Errorf("config: invalid background noise profile %q", ac.BackgroundNoiseProfile)
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
