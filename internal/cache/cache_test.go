package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	k := Key("search", []byte(`{"page":1}`), "anonymous")

	parts := strings.Split(k, ":")
	require.Len(t, parts, 4)
	assert.Equal(t, "pgfe", parts[0])
	assert.Equal(t, "search", parts[1])
	assert.Len(t, parts[2], 16)
	assert.Equal(t, "anonymous", parts[3])
	assert.Equal(t, fmt.Sprintf("%016x", xxhash.Sum64String(`{"page":1}`)), parts[2])

	assert.Equal(t, k, Key("search", []byte(`{"page":1}`), "anonymous"))
	assert.NotEqual(t, k, Key("search", []byte(`{"page":2}`), "anonymous"))
	assert.NotEqual(t, k, Key("search", []byte(`{"page":1}`), "key-1"))
	assert.NotEqual(t, k, Key("price_range", []byte(`{"page":1}`), "anonymous"))
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(2, time.Minute)

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry evicted")
	v, ok, _ := c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)

	require.NoError(t, c.Flush(ctx))
	assert.Zero(t, c.Len())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, 20*time.Millisecond)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedis(rdb)
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	mr, c := newMiniredis(t)

	_, ok, err := c.Get(ctx, "pgfe:search:x:anonymous")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "pgfe:search:x:anonymous", []byte(`{"ids":[1]}`), time.Minute))
	v, ok, err := c.Get(ctx, "pgfe:search:x:anonymous")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"ids":[1]}`), v)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "pgfe:search:x:anonymous")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires with its ttl")
}

func TestRedis_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	mr, c := newMiniredis(t)

	require.NoError(t, c.Set(ctx, "pgfe:k", []byte("v"), 0))
	assert.Equal(t, DefaultTTL, mr.TTL("pgfe:k"))
}

func TestRedis_FlushKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	mr, c := newMiniredis(t)

	require.NoError(t, mr.Set("session:1", "keep"))
	for _, k := range []string{"pgfe:search:a:x", "pgfe:search:b:x", "pgfe:price_range:c:x"} {
		require.NoError(t, c.Set(ctx, k, []byte("v"), time.Minute))
	}

	require.NoError(t, c.Flush(ctx))

	assert.False(t, mr.Exists("pgfe:search:a:x"))
	assert.False(t, mr.Exists("pgfe:price_range:c:x"))
	assert.True(t, mr.Exists("session:1"))
}

func TestRedis_ServerDown(t *testing.T) {
	mr, c := newMiniredis(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), "pgfe:k")
	require.Error(t, err)
}
