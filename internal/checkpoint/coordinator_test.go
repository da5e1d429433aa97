package checkpoint_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seaward-systems/streamsift/internal/checkpoint"
)

func TestCoordinator_MaybeRespectsInterval(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	calls := 0
	coord := checkpoint.NewCoordinator(func(ctx context.Context) error {
		calls++
		return nil
	}, time.Minute)
	coord.Clock = func() time.Time { return now }

	issued, err := coord.Maybe(context.Background())
	require.NoError(t, err)
	assert.True(t, issued, "first checkpoint is always due")
	assert.Equal(t, 1, calls)

	now = now.Add(30 * time.Second)
	issued, err = coord.Maybe(context.Background())
	require.NoError(t, err)
	assert.False(t, issued)
	assert.Equal(t, 1, calls)

	now = now.Add(31 * time.Second)
	issued, err = coord.Maybe(context.Background())
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Equal(t, 2, calls)
}

func TestCoordinator_ForceIgnoresInterval(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	calls := 0
	coord := checkpoint.NewCoordinator(func(ctx context.Context) error {
		calls++
		return nil
	}, time.Hour)
	coord.Clock = func() time.Time { return now }

	require.NoError(t, coord.Force(context.Background()))
	require.NoError(t, coord.Force(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestCoordinator_FailedCheckpointDoesNotAdvanceStamp(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	fail := true
	coord := checkpoint.NewCoordinator(func(ctx context.Context) error {
		if fail {
			return errors.New("store unavailable")
		}
		return nil
	}, time.Minute)
	coord.Clock = func() time.Time { return now }

	_, err := coord.Maybe(context.Background())
	require.Error(t, err)

	fail = false
	issued, err := coord.Maybe(context.Background())
	require.NoError(t, err)
	assert.True(t, issued, "stamp only advances on success")
}
