package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampNumericRanges(t *testing.T) {
	ac := &AgentConfig{
		ID:                      "agent-1",
		VoiceID:                 "Aoede",
		LanguageTag:             "en-US",
		EmotionLevel:            5,
		VoiceSpeed:              10,
		Responsiveness:          -3,
		InterruptionSensitivity: 2,
		BackgroundNoiseProfile:  "unknown-profile",
	}
	ac.Clamp()

	assert.Equal(t, 1.0, ac.EmotionLevel)
	assert.Equal(t, 2.0, ac.VoiceSpeed)
	assert.Equal(t, 0.0, ac.Responsiveness)
	assert.Equal(t, 1.0, ac.InterruptionSensitivity)
	assert.Equal(t, NoiseQuiet, ac.BackgroundNoiseProfile)
	assert.Equal(t, DefaultMaxCallDurationSec, ac.MaxCallDurationSec)
	assert.Equal(t, DefaultSilenceTimeoutSec, ac.SilenceTimeoutSec)
}

func TestValidateRequiresIdentifiers(t *testing.T) {
	ac := &AgentConfig{}
	ac.Clamp()
	err := ac.Validate()
	assert.Error(t, err)
}

func TestValidateAgentConfigEndToEnd(t *testing.T) {
	ac := &AgentConfig{
		ID:          "agent-1",
		VoiceID:     "Aoede",
		LanguageTag: "en-US",
	}
	err := ValidateAgentConfig(ac)
	assert.NoError(t, err)
	assert.Equal(t, NoiseQuiet, ac.BackgroundNoiseProfile)
}
