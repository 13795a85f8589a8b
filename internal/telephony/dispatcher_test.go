package telephony

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/logging"
)

func TestValidateDID(t *testing.T) {
	assert.NoError(t, ValidateDID("+1 (415) 555-0100"))
	assert.Error(t, ValidateDID("555-0100"))
	assert.Error(t, ValidateDID(""))
}

func TestPlaceCallRejectsMalformedDID(t *testing.T) {
	d := New(logging.NewNop(), config.CarrierCredentials{Provider: "twilio"}, config.CarrierCredentials{})
	_, err := d.PlaceCall(context.Background(), "twilio", "+14155550100", "123", WebhookURLs{})
	assert.Error(t, err)
}

func TestPlaceCallRejectsUnknownProvider(t *testing.T) {
	d := New(logging.NewNop(), config.CarrierCredentials{}, config.CarrierCredentials{})
	_, err := d.PlaceCall(context.Background(), "sip-trunk", "+14155550100", "+14155550101", WebhookURLs{})
	assert.Error(t, err)
}

func TestPlaceTwilioCallFailsWithoutCredentials(t *testing.T) {
	d := New(logging.NewNop(), config.CarrierCredentials{}, config.CarrierCredentials{})
	_, err := d.placeTwilioCall("+14155550100", "+14155550101", WebhookURLs{VoiceWebhookURL: "https://example.com/voice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio credentials not configured")
}

func TestPlaceVonageCallFailsWithoutCredentials(t *testing.T) {
	d := New(logging.NewNop(), config.CarrierCredentials{}, config.CarrierCredentials{})
	_, err := d.placeVonageCall("+14155550100", "+14155550101", WebhookURLs{VoiceWebhookURL: "https://example.com/voice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vonage credentials not configured")
}
