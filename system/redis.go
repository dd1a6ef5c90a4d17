package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hamlet/api/config"
	"hamlet/api/log"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// InitRedis dials the configured redis and verifies it with a PING.
func InitRedis(cfg config.RedisConfig) (*redis.Client, error) {
	redisOnce.Do(func() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if perr := client.Ping(ctx).Err(); perr != nil {
			redisErr = fmt.Errorf("redis ping %s: %w", cfg.Addr, perr)
			_ = client.Close()
			return
		}
		log.Infof("redis connected: %s db=%d", cfg.Addr, cfg.DB)
		redisClient = client
	})
	return redisClient, redisErr
}

// GetRedis returns the client set up by InitRedis.
func GetRedis() *redis.Client {
	return redisClient
}

func CloseRedis() {
	if redisClient == nil {
		return
	}
	if err := redisClient.Close(); err != nil {
		log.Error("close redis: ", err)
	}
}
