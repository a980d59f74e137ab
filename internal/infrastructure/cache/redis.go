package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"paysettle/internal/config"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

// NewClient 创建 Redis 客户端并探活
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// InitRedis 未启用时返回 nil，订单锁随之关闭，只靠账本的乐观锁保证一致
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		log.Println("Redis 未启用，跳过订单锁")
		return nil
	}

	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	RedisClient = client
	log.Println("Redis 连接成功")
	return client
}
