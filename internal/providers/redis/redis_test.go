package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisProviderListCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p := NewRedisProvider(ctx, "redis://"+mr.Addr()+"/0", zap.NewNop())
	t.Cleanup(func() { _ = p.Close() })

	n, err := p.LPush(ctx, "k", "a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = p.LPush(ctx, "k", "b").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, err := p.LRange(ctx, "k", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, items)

	require.NoError(t, p.LTrim(ctx, "k", 0, 0).Err())
	l, err := p.LLen(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), l)
}

func TestRedisProviderFallsBackToAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p := NewRedisProvider(ctx, mr.Addr(), zap.NewNop())
	t.Cleanup(func() { _ = p.Close() })

	assert.NoError(t, p.Client.Ping(ctx).Err())
}
