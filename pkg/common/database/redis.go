package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trialkit/platform/pkg/common/config"
	"github.com/trialkit/platform/pkg/common/logger"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

func GetRedis() *redis.Client {
	redisOnce.Do(func() {
		cfg := config.Load()
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Log.WithError(err).Error("Failed to connect to Redis")
		} else {
			logger.Log.Info("Connected to Redis")
		}
	})

	return redisClient
}

// AcquireLease takes a best-effort distributed lease so only one instance of
// a batch job runs at a time. Returns false when another holder has it.
func AcquireLease(ctx context.Context, key string, holder string, ttl time.Duration) (bool, error) {
	return GetRedis().SetNX(ctx, key, holder, ttl).Result()
}

func ReleaseLease(ctx context.Context, key string) error {
	return GetRedis().Del(ctx, key).Err()
}

func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
