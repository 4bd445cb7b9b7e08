package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/storage/interfaces"
	"github.com/inferloop/tsforecast/pkg/errors"
)

var _ interfaces.Cache = (*Cache)(nil)

func TestCacheSetGet(t *testing.T) {
	c := NewCache(0)
	ctx := context.Background()

	value := []byte("forecast")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "forecast", string(got))

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.True(t, errors.HasCode(err, errors.CodeDataNotFound))
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, c.Set(ctx, "default", []byte("b"), 0))

	now = now.Add(2 * time.Second)
	_, err := c.Get(ctx, "short")
	assert.True(t, errors.HasCode(err, errors.CodeDataNotFound))

	_, err = c.Get(ctx, "default")
	assert.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, "default")
	assert.Error(t, err)
}
