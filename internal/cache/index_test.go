package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestIndex(t *testing.T) (*miniredis.Miniredis, *RedisIndex) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := DefaultRedisConfig()
	config.Addr = mr.Addr()
	config.HealthCheckInterval = 0

	idx, err := NewRedisIndex(config, zap.NewNop())
	require.NoError(t, err)
	return mr, idx
}

func TestRedisIndex_RecordAndHit(t *testing.T) {
	mr, idx := setupTestIndex(t)
	defer mr.Close()
	defer idx.Close()

	m := newTestManager(t, WithIndex(idx))
	ctx := context.Background()
	var calls int32

	a := newJobDir(t, "numpy\n")
	_, err := m.Fetch(ctx, testRequest(a), writeWheels(a, &calls))
	require.NoError(t, err)
	b := newJobDir(t, "numpy\n")
	_, err = m.Fetch(ctx, testRequest(b), writeWheels(b, &calls))
	require.NoError(t, err)

	key, err := ComputeKey(testRequest(a))
	require.NoError(t, err)

	manifest, err := idx.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "deps-3.7", manifest.Template)
	assert.Equal(t, []string{"wheels"}, manifest.Paths)

	hits, err := idx.Hits(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)

	require.NoError(t, idx.Forget(ctx, key))
	_, err = idx.Lookup(ctx, key)
	assert.True(t, IsCacheMiss(err))
}

func TestRedisIndex_TTL(t *testing.T) {
	mr, idx := setupTestIndex(t)
	defer mr.Close()
	defer idx.Close()

	ctx := context.Background()
	require.NoError(t, idx.Record(ctx, &Manifest{Key: "abcdef"}, time.Minute))
	assert.True(t, mr.Exists(idx.manifestKey("abcdef")))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(idx.manifestKey("abcdef")))
}

func TestRedisIndex_FailureDoesNotBreakFetch(t *testing.T) {
	mr, idx := setupTestIndex(t)
	defer idx.Close()

	m := newTestManager(t, WithIndex(idx))
	mr.Close()

	ctx := context.Background()
	var calls int32
	dir := newJobDir(t, "numpy\n")
	hit, err := m.Fetch(ctx, testRequest(dir), writeWheels(dir, &calls))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRedisIndex_Closed(t *testing.T) {
	mr, idx := setupTestIndex(t)
	defer mr.Close()

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())
	assert.Error(t, idx.Hit(context.Background(), "k"))
}

func TestNewRedisIndex_Unreachable(t *testing.T) {
	config := DefaultRedisConfig()
	config.Addr = "127.0.0.1:1"
	config.MaxRetries = -1
	_, err := NewRedisIndex(config, zap.NewNop())
	assert.Error(t, err)
}
