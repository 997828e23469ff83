package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BaseDelay: 1000 * time.Millisecond}

	assert.Equal(t, 1*time.Second, Delay(cfg, 0))
	assert.Equal(t, 2*time.Second, Delay(cfg, 1))
	assert.Equal(t, 4*time.Second, Delay(cfg, 2))
	assert.Equal(t, DefaultBaseDelay, Delay(Config{}, 0), "zero config uses defaults")
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, zaptest.NewLogger(t), "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsFinalErrorUnchanged(t *testing.T) {
	sentinel := errors.New("indexer down")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil, "down", func(context.Context) error {
		calls++
		return sentinel
	})

	assert.Same(t, sentinel, err)
	assert.Equal(t, 3, calls)
}

func TestDo_DefaultsToThreeAttempts(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Config{BaseDelay: time.Millisecond}, nil, "defaults", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	assert.Equal(t, DefaultMaxAttempts, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 5, BaseDelay: time.Hour}, nil, "cancelled", func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoValue(t *testing.T) {
	v, err := DoValue(context.Background(), DefaultConfig(), nil, "value", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
