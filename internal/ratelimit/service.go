// Package ratelimit protects the dashboard API with a fixed-window limiter
// backed by Redis. Without Redis the limiter allows everything: the
// dashboard is internal-facing and call handling must never depend on it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"call-server/internal/clients/redis"
	"call-server/internal/observability"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Service checks per-client request budgets.
type Service struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	logger *observability.Logger
}

// NewService creates a rate limit service allowing limit requests per window
// per client key.
func NewService(redisClient *redis.Client, limit int, window time.Duration, logger *observability.Logger) *Service {
	if limit <= 0 {
		limit = 120
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Service{redis: redisClient, limit: limit, window: window, logger: logger}
}

// Check counts the request against the client's current window. Fails open:
// a Redis error or absent Redis allows the request.
func (s *Service) Check(ctx context.Context, clientKey string) (Result, error) {
	now := time.Now()
	resetAt := now.Truncate(s.window).Add(s.window)

	if s.redis == nil {
		return Result{Allowed: true, Limit: s.limit, Remaining: s.limit, ResetAt: resetAt}, nil
	}

	key := fmt.Sprintf("rl:dashboard:%s:%d", clientKey, now.Truncate(s.window).Unix())
	count, err := s.redis.Incr(ctx, key)
	if err != nil {
		s.logger.Warn(ctx, "rate limit check failed, allowing request")
		return Result{Allowed: true, Limit: s.limit, Remaining: 0, ResetAt: resetAt}, err
	}
	if count == 1 {
		// First hit creates the key; the TTL outlives the window so a
		// clock-skewed check never reads an expired counter.
		if err := s.redis.Expire(ctx, key, s.window*2); err != nil {
			s.logger.Warn(ctx, "failed to set rate limit key TTL")
		}
	}

	remaining := s.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   int(count) <= s.limit,
		Limit:     s.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
