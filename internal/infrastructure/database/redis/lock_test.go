package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyMed-Intelligence/internal/testutil"
	pkgerrors "github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

func TestLocker_AcquireRelease(t *testing.T) {
	mr, client := newMiniClient(t)
	locker := NewLocker(client, nil)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "import:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("keymed:lock:import:s1"))

	_, err = locker.Acquire(ctx, "import:s1", time.Minute)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeSessionBusy))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("keymed:lock:import:s1"))

	again, err := locker.Acquire(ctx, "import:s1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_StaleReleaseKeepsNewOwner(t *testing.T) {
	mr, client := newMiniClient(t)
	logger := testutil.NewMockLogger()
	locker := NewLocker(client, logger)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("keymed:lock:k"), "expired handle must not free the new owner's lock")
	assert.True(t, logger.Contains("warn", "Lock expired before release"))

	require.NoError(t, current.Release(ctx))
}

func TestMutex_Extend(t *testing.T) {
	mr, client := newMiniClient(t)
	locker := NewLocker(client, nil)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	m := lock.(*Mutex)

	require.NoError(t, m.Extend(ctx, time.Minute))
	assert.Greater(t, mr.TTL("keymed:lock:k"), 30*time.Second)

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, ErrLockNotHeld, m.Extend(ctx, time.Minute))
}

//Personal.AI order the ending
