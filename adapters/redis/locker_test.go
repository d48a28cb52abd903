package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLocker_RenewKeepsLockPastExpiry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, mr, cleanup := setupMiniredis(t)
	defer cleanup()

	expiry := 300 * time.Millisecond
	locker := NewLocker(client, WithLockerExpiry(expiry), WithLockerRenewInterval(50*time.Millisecond))
	lease, err := locker.Acquire(context.Background(), "lock:a1")
	require.NoError(t, err)

	// 超過兩倍過期時間後仍然持有，代表有持續續期
	time.Sleep(2 * expiry)
	assert.True(t, lease.Held())
	assert.True(t, mr.Exists("lock:a1"))
	assert.Greater(t, mr.TTL("lock:a1"), time.Duration(0))

	require.NoError(t, lease.Release())
	assert.False(t, lease.Held())
	assert.False(t, mr.Exists("lock:a1"))
}

func TestLocker_WithoutRenewLeaseLapses(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, _, cleanup := setupMiniredis(t)
	defer cleanup()

	// 續期間隔比過期時間長，lease 在續期前就失效
	locker := NewLocker(client, WithLockerExpiry(100*time.Millisecond), WithLockerRenewInterval(time.Hour))
	lease, err := locker.Acquire(context.Background(), "lock:a1")
	require.NoError(t, err)
	assert.True(t, lease.Held())

	assert.Eventually(t, func() bool { return !lease.Held() }, time.Second, 10*time.Millisecond)
	require.NoError(t, lease.Release())
}

func TestLease_HeldAfterKeyLost(t *testing.T) {
	tests := []struct {
		name string
	}{
		{name: "key deleted"},
		{name: "key stolen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
			client, mr, cleanup := setupMiniredis(t)
			defer cleanup()

			locker := NewLocker(client, WithLockerExpiry(time.Second), WithLockerRenewInterval(20*time.Millisecond))
			lease, err := locker.Acquire(context.Background(), "lock:a1")
			require.NoError(t, err)
			require.True(t, lease.Held())

			if tt.name == "key deleted" {
				mr.Del("lock:a1")
			} else {
				require.NoError(t, mr.Set("lock:a1", "another-node"))
			}

			assert.Eventually(t, func() bool { return !lease.Held() }, time.Second, 10*time.Millisecond)

			// 已失去的鎖不會被釋放掉別人的值
			require.NoError(t, lease.Release())
			if tt.name == "key stolen" {
				got, err := mr.Get("lock:a1")
				require.NoError(t, err)
				assert.Equal(t, "another-node", got)
			}
		})
	}
}

func TestLease_ReleaseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client, mr, cleanup := setupMiniredis(t)
	defer cleanup()

	locker := NewLocker(client, WithLockerRenewInterval(10*time.Millisecond))
	lease, err := locker.Acquire(context.Background(), "lock:a1")
	require.NoError(t, err)

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release())
	assert.False(t, lease.Held())
	assert.False(t, mr.Exists("lock:a1"))
}

func TestLocker_AcquireContended(t *testing.T) {
	ctx := context.Background()

	t.Run("deadline while held", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()
		locker := NewLocker(client, WithLockerRetryDelay(5*time.Millisecond))

		holder, err := locker.Acquire(ctx, "lock:a1")
		require.NoError(t, err)
		defer holder.Release()

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		lease, err := locker.Acquire(waitCtx, "lock:a1")
		assert.Nil(t, lease)
		assert.ErrorIs(t, err, ErrLockNotAcquired)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancel while waiting", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()
		locker := NewLocker(client, WithLockerRetryDelay(5*time.Millisecond))

		holder, err := locker.Acquire(ctx, "lock:a1")
		require.NoError(t, err)
		defer holder.Release()

		waitCtx, cancel := context.WithCancel(ctx)
		time.AfterFunc(30*time.Millisecond, cancel)
		started := time.Now()
		_, err = locker.Acquire(waitCtx, "lock:a1")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(started), time.Second)
	})

	t.Run("acquired after holder releases", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()
		locker := NewLocker(client, WithLockerRetryDelay(5*time.Millisecond))

		holder, err := locker.Acquire(ctx, "lock:a1")
		require.NoError(t, err)
		time.AfterFunc(30*time.Millisecond, func() { _ = holder.Release() })

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		lease, err := locker.Acquire(waitCtx, "lock:a1")
		require.NoError(t, err)
		assert.True(t, lease.Held())
		require.NoError(t, lease.Release())
	})
}
