package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *BindingCache) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewBindingCache(client, ttl, zap.NewNop())
}

func TestBindingCache_SetGet(t *testing.T) {
	_, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	binding := &models.PatientBinding{
		PatientID:    "P1",
		Tier:         models.TierRegistry,
		MatchedField: "mac_bps",
	}

	require.NoError(t, cache.Set(ctx, "blood_pressure:c12488906de0", binding))

	got, err := cache.Get(ctx, "blood_pressure:c12488906de0")
	require.NoError(t, err)
	assert.Equal(t, binding, got)
}

func TestBindingCache_EntriesExpire(t *testing.T) {
	mr, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	binding := &models.PatientBinding{PatientID: "P1", Tier: models.TierDirect}
	require.NoError(t, cache.Set(ctx, "spo2:addr", binding))

	// TTL 过后条目必须消失：缓存永远不是权威数据
	mr.FastForward(2 * time.Minute)

	got, err := cache.Get(ctx, "spo2:addr")
	assert.Nil(t, got)
	assert.Error(t, err)
}

func TestBindingCache_Invalidate(t *testing.T) {
	_, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	binding := &models.PatientBinding{PatientID: "P2", Tier: models.TierDirect}
	require.NoError(t, cache.Set(ctx, "glucose:addr", binding))
	require.NoError(t, cache.Invalidate(ctx, "glucose:addr"))

	got, _ := cache.Get(ctx, "glucose:addr")
	assert.Nil(t, got)
}
