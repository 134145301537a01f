package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GO_ENV", "production")
	for k, v := range map[string]string{
		"DB_HOST":                      "localhost",
		"DB_USERNAME":                  "app",
		"DB_PASSWORD":                  "secret",
		"DB_NAME":                      "calls",
		"OPENAI_API_KEY":               "sk-test",
		"TWILIO_ACCOUNT_SID":           "AC123",
		"TWILIO_AUTH_TOKEN":            "token",
		"TWILIO_PHONE_NUMBER":          "+15550001111",
		"RESEND_API_KEY":               "re-test",
		"DEFAULT_EMAIL_SENDER_ADDRESS": "noreply@example.com",
		"MEDIA_STREAM_URL":             "wss://example.com/api/phone/media-stream",
		"WEBAPP_URI":                   "https://example.com",
		"SERVER_PORT":                  "8080",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadUsesCallDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultCallConfig(), cfg.Call)
}

func TestLoadAppliesCallOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CALL_SILENCE_REPROMPT", "20s")
	t.Setenv("CALL_RETRY_BACKOFF", "100ms")
	t.Setenv("CALL_MAX_EMERGENCY_MATCH_TRIES", "4")
	t.Setenv("CALL_SLOTS_PER_OFFER", "2")
	t.Setenv("CALL_BACKLOG_WINDOW", "50")
	t.Setenv("CALL_INTENT_THRESHOLD", "0.7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Call.SilenceReprompt)
	assert.Equal(t, 100*time.Millisecond, cfg.Call.RetryBackoff)
	assert.Equal(t, 4, cfg.Call.MaxEmergencyMatchTries)
	assert.Equal(t, 2, cfg.Call.SlotsPerOffer)
	assert.Equal(t, 50, cfg.Call.BacklogWindow)
	assert.Equal(t, 0.7, cfg.Call.IntentThreshold)
}

func TestLoadRejectsMalformedOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CALL_INTENT_THRESHOLD", "very confident")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresDatabaseEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_HOST", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrEmptyEnvironmentVariable)
}
