package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	b := New(DefaultConfig("test"))
	v, err := b.Do(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_TripsAfterRepeatedFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.MinRequests = 3
	cfg.FailureRatio = 0.5
	b := New(cfg)

	wantErr := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := b.Do(context.Background(), func(ctx context.Context) (any, error) {
			return nil, wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	}

	_, err := b.Do(context.Background(), func(ctx context.Context) (any, error) {
		return "should not run", nil
	})
	assert.ErrorIs(t, err, ErrOpen)
}
