package notify

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// JobStartedInput contains data for a job-start notification.
type JobStartedInput struct {
	JobID            string
	PipelineType     string
	DedupFingerprint string // canonicalized input_config hash, for thread re-use on resubmission
}

// JobCompletedInput contains data for a terminal job notification.
type JobCompletedInput struct {
	JobID            string
	PipelineType     string
	Status           string // completed, failed, stale
	TotalCount       int
	SuccessCount     int
	FailedCount      int
	ErrorSummary     string
	DedupFingerprint string
	ThreadTS         string // cached from the start notification
}

// Service handles Slack notification delivery for job lifecycle events.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NotifyJobStarted sends a "job started" notification. Only attempts
// thread reuse if a dedup fingerprint is present (a resubmission of the
// same input_config). Returns the resolved threadTS for reuse by the
// terminal notification. Fail-open: errors are logged, never returned.
func (s *Service) NotifyJobStarted(ctx context.Context, input JobStartedInput) string {
	if s == nil {
		return ""
	}

	var threadTS string
	if input.DedupFingerprint != "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, input.DedupFingerprint)
		if err != nil {
			s.logger.Warn("failed to find prior job thread",
				"job_id", input.JobID, "fingerprint", input.DedupFingerprint, "error", err)
		}
	}

	blocks := BuildStartedMessage(input.JobID, input.PipelineType, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 5*time.Second); err != nil {
		s.logger.Error("failed to send job start notification", "job_id", input.JobID, "error", err)
	}

	return threadTS
}

// NotifyJobCompleted sends a terminal job notification. Fail-open: errors
// are logged, never returned.
func (s *Service) NotifyJobCompleted(ctx context.Context, input JobCompletedInput) {
	if s == nil {
		return
	}

	threadTS := input.ThreadTS
	if threadTS == "" && input.DedupFingerprint != "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, input.DedupFingerprint)
		if err != nil {
			s.logger.Warn("failed to find prior job thread",
				"job_id", input.JobID, "fingerprint", input.DedupFingerprint, "error", err)
		}
	}

	blocks := BuildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("failed to send terminal job notification",
			"job_id", input.JobID, "status", input.Status, "error", err)
	}
}
