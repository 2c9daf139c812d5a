package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tempmail/disposable/internal/config"
)

// RedisPublisher 把新邮件事件发布到 Redis 频道，只做发布，不存储邮件。
type RedisPublisher struct {
	rdb     *goredis.Client
	channel string
	log     *zap.Logger
}

// NewRedisPublisher 连接 Redis 并验证连通性
func NewRedisPublisher(cfg config.RedisConfig, log *zap.Logger) (*RedisPublisher, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.String("channel", cfg.Channel),
	)

	return newRedisPublisher(rdb, cfg.Channel, log), nil
}

func newRedisPublisher(rdb *goredis.Client, channel string, log *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = "tempmail:newmail"
	}
	return &RedisPublisher{rdb: rdb, channel: channel, log: log}
}

func (p *RedisPublisher) Name() string { return "redis" }

// Notify 发布新邮件事件，消息体为 JSON
func (p *RedisPublisher) Notify(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, data).Err()
}

// Subscribe 订阅新邮件频道，调用方负责关闭返回的 PubSub
func (p *RedisPublisher) Subscribe(ctx context.Context) *goredis.PubSub {
	return p.rdb.Subscribe(ctx, p.channel)
}

// Ping 测试 Redis 连接，供健康检查使用
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (p *RedisPublisher) Close() error {
	if err := p.rdb.Close(); err != nil {
		p.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	p.log.Info("Redis connection closed")
	return nil
}
