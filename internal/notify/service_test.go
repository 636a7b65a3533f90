package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	t.Run("NotifyJobStarted is no-op", func(t *testing.T) {
		result := s.NotifyJobStarted(context.Background(), JobStartedInput{
			JobID:            "job-1",
			DedupFingerprint: "test fingerprint",
		})
		assert.Empty(t, result)
	})

	t.Run("NotifyJobCompleted is no-op", func(_ *testing.T) {
		// Should not panic
		s.NotifyJobCompleted(context.Background(), JobCompletedInput{
			JobID:  "job-1",
			Status: "completed",
		})
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "", Channel: "C123"})
		assert.Nil(t, svc)
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: ""})
		assert.Nil(t, svc)
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{
			Token:        "xoxb-test",
			Channel:      "C123",
			DashboardURL: "https://example.com",
		})
		assert.NotNil(t, svc)
	})
}

func TestService_NotifyJobStarted_NoFingerprint(t *testing.T) {
	svc := NewService(ServiceConfig{
		Token:        "xoxb-test",
		Channel:      "C123",
		DashboardURL: "https://example.com",
	})

	result := svc.NotifyJobStarted(context.Background(), JobStartedInput{
		JobID:            "job-1",
		DedupFingerprint: "",
	})
	assert.Empty(t, result, "should skip thread lookup when no fingerprint")
}
