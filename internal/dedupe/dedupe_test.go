package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/redis"
)

func TestMemorySeenExpiresAndForgets(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	store := NewMemory(time.Minute)
	store.now = func() time.Time { return clock }

	seen, err := store.Seen(ctx, "SM1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = store.Seen(ctx, "SM1")
	assert.True(t, seen, "second delivery should be a duplicate")

	clock = clock.Add(2 * time.Minute)
	seen, _ = store.Seen(ctx, "SM1")
	assert.False(t, seen, "entry should expire after ttl")

	require.NoError(t, store.Forget(ctx, "SM1"))
	seen, _ = store.Seen(ctx, "SM1")
	assert.False(t, seen, "forgotten entry should be accepted again")
}

func TestMemorySweepDropsExpired(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	store := NewMemory(time.Second)
	store.now = func() time.Time { return clock }

	for _, id := range []string{"a", "b", "c"} {
		_, _ = store.Seen(ctx, id)
	}
	clock = clock.Add(5 * time.Second)
	_, _ = store.Seen(ctx, "d")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.entries, 1)
}

func TestRedisSeen(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	store := NewRedis(client, "test:", time.Minute)

	seen, err := store.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.True(t, mr.Exists("test:wamid.1"))

	seen, err = store.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = store.Seen(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Forget(ctx, "wamid.1"))
	assert.False(t, mr.Exists("test:wamid.1"))
}
