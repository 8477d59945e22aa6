package resolver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub005/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const bindingKeyPrefix = "stardust:binding:"

// BindingCache 病人绑定缓存
//
// Redis 带 TTL 的加速缓存，不作权威数据：条目必然过期，
// 读写失败一律降级为缓存未命中。
type BindingCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewBindingCache 创建绑定缓存
func NewBindingCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *BindingCache {
	return &BindingCache{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

// Get 读取缓存的绑定，未命中或出错返回 (nil, err)
func (c *BindingCache) Get(ctx context.Context, key string) (*models.PatientBinding, error) {
	val, err := c.redisClient.Get(ctx, bindingKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Binding cache read failed", zap.Error(err))
		}
		return nil, err
	}

	var binding models.PatientBinding
	if err := json.Unmarshal([]byte(val), &binding); err != nil {
		return nil, err
	}

	return &binding, nil
}

// Set 写入绑定，带 TTL
func (c *BindingCache) Set(ctx context.Context, key string, binding *models.PatientBinding) error {
	jsonData, err := json.Marshal(binding)
	if err != nil {
		return err
	}
	return c.redisClient.Set(ctx, bindingKeyPrefix+key, jsonData, c.ttl).Err()
}

// Invalidate 删除缓存条目（病人档案变更时调用）
func (c *BindingCache) Invalidate(ctx context.Context, key string) error {
	return c.redisClient.Del(ctx, bindingKeyPrefix+key).Err()
}
