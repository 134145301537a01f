// Package bootstrap wires configuration, clients, and feature components
// into the dependency graph the server runs with.
package bootstrap

import (
	"context"
	"fmt"

	"call-server/internal/bus"
	"call-server/internal/call"
	"call-server/internal/clients/mail"
	openaiClient "call-server/internal/clients/openai"
	redisClient "call-server/internal/clients/redis"
	twilioClient "call-server/internal/clients/twilio"
	"call-server/internal/config"
	dashboardHandler "call-server/internal/dashboard/handler"
	"call-server/internal/dispatch"
	"call-server/internal/extract"
	"call-server/internal/intent"
	"call-server/internal/knowledge"
	"call-server/internal/observability"
	"call-server/internal/ratelimit"
	"call-server/internal/retry"
	"call-server/internal/scheduling"
	"call-server/internal/store"
	telephonyHandler "call-server/internal/telephony/handler"
)

// Dependencies holds all initialized application dependencies.
type Dependencies struct {
	// Core
	Store    store.Store
	Logger   *observability.Logger
	Redis    *redisClient.Client
	Bus      *bus.Bus
	Registry *call.Registry

	// Handlers
	TelephonyHandler telephonyHandler.Handler
	DashboardHandler dashboardHandler.Handler
	RateLimiter      *ratelimit.Service
}

// Initialize sets up all application dependencies.
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{Logger: logger}

	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deps.Redis, err = redisClient.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Clients
	reasoning, err := openaiClient.NewReasoningClient(cfg.Services.OpenAIAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI reasoning client: %w", err)
	}
	realtime, err := openaiClient.NewRealtimeClient(cfg.Services.OpenAIAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI realtime client: %w", err)
	}
	smsClient, err := twilioClient.NewClient(
		cfg.Services.TwilioAccountSID, cfg.Services.TwilioAuthToken, cfg.Services.TwilioPhoneNumber, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Twilio client: %w", err)
	}
	mailClient, err := mail.NewResendClient(cfg.Services.ResendAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resend client: %w", err)
	}

	policy := retry.Default().WithTimeout(cfg.Call.AdapterTimeout).WithBackoff(cfg.Call.RetryBackoff)

	// Conversation intelligence
	classifier := intent.New(reasoning, cfg.Call.IntentContextTurns, logger)
	extractor := extract.New(reasoning, logger)
	retriever := knowledge.New(reasoning, &deps.Store, cfg.Call.KnowledgeTimeout, logger)

	// Scheduling and dispatch
	matcher := scheduling.NewMatcher(&deps.Store, logger)
	scheduler := scheduling.NewAdapter(&deps.Store, matcher, policy, logger)
	dispatcher := dispatch.New(smsClient, mailClient, cfg.Services.DefaultEmailSender, policy, logger)

	// Call plumbing
	deps.Bus = bus.New(cfg.Call.SubscriberQueueSize, logger)
	deps.Registry = call.NewRegistry()

	sessionDeps := call.Deps{
		Bus:        deps.Bus,
		Registry:   deps.Registry,
		Classifier: classifier,
		Extractor:  extractor,
		Grounder:   retriever,
		Scheduler:  scheduler,
		Notifier:   dispatcher,
		Summaries:  &deps.Store,
		Summarizer: reasoning,
		Logger:     logger,
		Config:     cfg.Call,
	}

	deps.TelephonyHandler = telephonyHandler.New(
		&deps.Store, realtime, sessionDeps, cfg.Services.MediaStreamURL, cfg.Call, logger)
	deps.DashboardHandler = dashboardHandler.New(deps.Registry, deps.Bus, logger)
	deps.RateLimiter = ratelimit.NewService(deps.Redis, 120, 0, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup.
func (d *Dependencies) Cleanup() {
	if d.Redis != nil {
		d.Redis.Close()
	}
}
