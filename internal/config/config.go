package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Services ServicesConfig
	Call     CallConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// RedisConfig holds Redis connection settings for dashboard rate limiting
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ServicesConfig holds external service API keys and configuration
type ServicesConfig struct {
	OpenAIAPIKey       string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioPhoneNumber  string
	ResendAPIKey       string
	DefaultEmailSender string
	MediaStreamURL     string // public wss:// URL Twilio connects its media stream to
	WebAppURI          string
}

// CallConfig holds the per-call tunables. The turn-boundary and escalation
// thresholds are deliberately configurable rather than hard-coded.
type CallConfig struct {
	TurnSilence            time.Duration // silence that ends a caller turn
	SilenceReprompt        time.Duration // caller silence before the AI re-engages
	AdapterTimeout         time.Duration // hard timeout on every adapter call
	KnowledgeTimeout       time.Duration // tighter budget for grounding lookups
	RetryBackoff           time.Duration // backoff before the single adapter retry
	MaxRecognitionFailures int           // consecutive failures before escalation
	MaxEmergencyMatchTries int           // technician match attempts before escalation
	JitterBufferFrames     int           // per-direction jitter buffer depth
	EventQueueSize         int           // session inbound event queue depth
	SubscriberQueueSize    int           // per-dashboard-subscriber queue depth
	BacklogWindow          int           // events kept for subscriber replay
	SlotsPerOffer          int           // slots spoken per booking turn
	IntentContextTurns     int           // caller turns fed to the classifier
	IntentThreshold        float64       // minimum confidence to act on an intent
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	cfg.Redis.Enabled = getEnvWithDefault("REDIS_ENABLED", "false") == "true"
	if cfg.Redis.Enabled {
		if cfg.Redis.Host, err = requireEnv("REDIS_HOST"); err != nil {
			return nil, err
		}
		if cfg.Redis.Port, err = intEnvWithDefault("REDIS_PORT", 6379); err != nil {
			return nil, err
		}
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
		if cfg.Redis.DB, err = intEnvWithDefault("REDIS_DB", 0); err != nil {
			return nil, err
		}
	}

	if cfg.Services.OpenAIAPIKey, err = requireEnv("OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Services.TwilioAccountSID, err = requireEnv("TWILIO_ACCOUNT_SID"); err != nil {
		return nil, err
	}
	if cfg.Services.TwilioAuthToken, err = requireEnv("TWILIO_AUTH_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.Services.TwilioPhoneNumber, err = requireEnv("TWILIO_PHONE_NUMBER"); err != nil {
		return nil, err
	}
	if cfg.Services.ResendAPIKey, err = requireEnv("RESEND_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Services.DefaultEmailSender, err = requireEnv("DEFAULT_EMAIL_SENDER_ADDRESS"); err != nil {
		return nil, err
	}
	if cfg.Services.MediaStreamURL, err = requireEnv("MEDIA_STREAM_URL"); err != nil {
		return nil, err
	}
	if cfg.Services.WebAppURI, err = requireEnv("WEBAPP_URI"); err != nil {
		return nil, err
	}

	cfg.Call = DefaultCallConfig()
	if cfg.Call.TurnSilence, err = durationEnvWithDefault("CALL_TURN_SILENCE", cfg.Call.TurnSilence); err != nil {
		return nil, err
	}
	if cfg.Call.SilenceReprompt, err = durationEnvWithDefault("CALL_SILENCE_REPROMPT", cfg.Call.SilenceReprompt); err != nil {
		return nil, err
	}
	if cfg.Call.AdapterTimeout, err = durationEnvWithDefault("CALL_ADAPTER_TIMEOUT", cfg.Call.AdapterTimeout); err != nil {
		return nil, err
	}
	if cfg.Call.KnowledgeTimeout, err = durationEnvWithDefault("CALL_KNOWLEDGE_TIMEOUT", cfg.Call.KnowledgeTimeout); err != nil {
		return nil, err
	}
	if cfg.Call.RetryBackoff, err = durationEnvWithDefault("CALL_RETRY_BACKOFF", cfg.Call.RetryBackoff); err != nil {
		return nil, err
	}
	if cfg.Call.MaxRecognitionFailures, err = intEnvWithDefault("CALL_MAX_RECOGNITION_FAILURES", cfg.Call.MaxRecognitionFailures); err != nil {
		return nil, err
	}
	if cfg.Call.MaxEmergencyMatchTries, err = intEnvWithDefault("CALL_MAX_EMERGENCY_MATCH_TRIES", cfg.Call.MaxEmergencyMatchTries); err != nil {
		return nil, err
	}
	if cfg.Call.JitterBufferFrames, err = intEnvWithDefault("CALL_JITTER_BUFFER_FRAMES", cfg.Call.JitterBufferFrames); err != nil {
		return nil, err
	}
	if cfg.Call.EventQueueSize, err = intEnvWithDefault("CALL_EVENT_QUEUE_SIZE", cfg.Call.EventQueueSize); err != nil {
		return nil, err
	}
	if cfg.Call.SubscriberQueueSize, err = intEnvWithDefault("CALL_SUBSCRIBER_QUEUE_SIZE", cfg.Call.SubscriberQueueSize); err != nil {
		return nil, err
	}
	if cfg.Call.BacklogWindow, err = intEnvWithDefault("CALL_BACKLOG_WINDOW", cfg.Call.BacklogWindow); err != nil {
		return nil, err
	}
	if cfg.Call.SlotsPerOffer, err = intEnvWithDefault("CALL_SLOTS_PER_OFFER", cfg.Call.SlotsPerOffer); err != nil {
		return nil, err
	}
	if cfg.Call.IntentContextTurns, err = intEnvWithDefault("CALL_INTENT_CONTEXT_TURNS", cfg.Call.IntentContextTurns); err != nil {
		return nil, err
	}
	if cfg.Call.IntentThreshold, err = floatEnvWithDefault("CALL_INTENT_THRESHOLD", cfg.Call.IntentThreshold); err != nil {
		return nil, err
	}

	serverPort, err := requireEnv("SERVER_PORT")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}

	return cfg, nil
}

// DefaultCallConfig returns the tunables used when no overrides are set.
func DefaultCallConfig() CallConfig {
	return CallConfig{
		TurnSilence:            500 * time.Millisecond,
		SilenceReprompt:        15 * time.Second,
		AdapterTimeout:         3 * time.Second,
		KnowledgeTimeout:       800 * time.Millisecond,
		RetryBackoff:           250 * time.Millisecond,
		MaxRecognitionFailures: 3,
		MaxEmergencyMatchTries: 2,
		JitterBufferFrames:     100,
		EventQueueSize:         256,
		SubscriberQueueSize:    64,
		BacklogWindow:          200,
		SlotsPerOffer:          3,
		IntentContextTurns:     10,
		IntentThreshold:        0.5,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func intEnvWithDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return parsed, nil
}

func floatEnvWithDefault(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return parsed, nil
}

func durationEnvWithDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return parsed, nil
}
