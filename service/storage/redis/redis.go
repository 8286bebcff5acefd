package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce sync.Once
	redisMgr  *Manager
)

type Manager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// InitRedis 初始化 Redis 管理器（单例）
func InitRedis(c Config) error {
	var initErr error
	redisOnce.Do(func() {
		cli := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		initErr = cli.Ping(ctx).Err()
		if initErr == nil {
			redisMgr = &Manager{client: cli}
		}
	})
	return initErr
}

// GetClient 获取全局客户端；未初始化返回 nil，调用方自行降级。
func GetClient() *redis.Client {
	if redisMgr == nil {
		return nil
	}
	return redisMgr.client
}
