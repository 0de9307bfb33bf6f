package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithLockRunsAndReleases(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, 5*time.Second)

	ran := false
	err := locker.WithLock(context.Background(), "outbox:drain", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:outbox:drain"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:outbox:drain"))
}

func TestWithLockRejectsConcurrentHolder(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisLocker(client, 5*time.Second)

	err := locker.WithLock(context.Background(), "outbox:drain", func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "outbox:drain", func(context.Context) error {
			t.Fatal("inner critical section must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockPropagatesError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisLocker(client, 5*time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "job", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:job"))
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	l := &redisLocker{client: client, ttl: time.Second}

	require.NoError(t, mr.Set("lock:job", "someone-else"))
	require.NoError(t, l.release(context.Background(), "lock:job", "mine"))

	got, err := mr.Get("lock:job")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
