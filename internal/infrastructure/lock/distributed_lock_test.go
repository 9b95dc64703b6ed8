package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedLock_TryLockAndUnlock(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	owner := NewDistributedLock(client, "lock:a", "owner-1", time.Minute)
	other := NewDistributedLock(client, "lock:a", "owner-2", time.Minute)

	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("lock:a"))

	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// 不是持有者，不能删掉别人的锁
	assert.ErrorIs(t, other.Unlock(ctx), ErrLockNotHeld)
	got, err := mr.Get("lock:a")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got)

	require.NoError(t, owner.Unlock(ctx))
	assert.False(t, mr.Exists("lock:a"))

	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_ExpiresWithoutUnlock(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	owner := NewDistributedLock(client, "lock:a", "owner-1", 30*time.Second)
	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	ok, err = NewDistributedLock(client, "lock:a", "owner-2", 30*time.Second).TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// 过期后被别人拿走，原持有者释放失败
	assert.ErrorIs(t, owner.Unlock(ctx), ErrLockNotHeld)
}

func TestCycleLock_TryAcquire(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	n := 0
	cycleLock := NewCycleLock(client, 20*time.Minute, func() string {
		n++
		return fmt.Sprintf("cycle-%d", n)
	})

	release, ok, err := cycleLock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, release)
	got, err := mr.Get(dispatchCycleKey)
	require.NoError(t, err)
	assert.Equal(t, "cycle-1", got)
	assert.Equal(t, 20*time.Minute, mr.TTL(dispatchCycleKey))

	// 周期进行中，另一个周期拿不到锁
	second, ok, err := cycleLock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, second)

	release()
	assert.False(t, mr.Exists(dispatchCycleKey))

	release, ok, err = cycleLock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestCycleLock_RedisUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	cycleLock := NewCycleLock(client, time.Minute, func() string { return "cycle" })
	release, ok, err := cycleLock.TryAcquire(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
}
