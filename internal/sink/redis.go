package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CitizenChain/internal/monitor"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "citizenchain:snapshot:"
	defaultRedisChannel   = "citizenchain:snapshots"
)

// redisPublisher 是 RedisSink 用到的 go-redis 子集，*redis.Client 满足该接口。
type redisPublisher interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisConfig 描述 RedisSink 的键与频道。
type RedisConfig struct {
	KeyPrefix string
	Channel   string
	TTL       time.Duration
}

// RedisSink 以 SET EX 缓存每个合约的最新快照，并通过 PUBLISH 广播。
type RedisSink struct {
	client    redisPublisher
	keyPrefix string
	channel   string
	ttl       time.Duration
}

// NewRedisSink 基于已连接的客户端创建 sink。
func NewRedisSink(client redisPublisher, cfg RedisConfig) *RedisSink {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	channel := cfg.Channel
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisSink{client: client, keyPrefix: prefix, channel: channel, ttl: cfg.TTL}
}

// Name 实现 Sink。
func (s *RedisSink) Name() string { return "redis" }

// Key 返回合约对应的缓存键。
func (s *RedisSink) Key(contract string) string {
	return s.keyPrefix + strings.ToLower(contract)
}

// Record 缓存并广播快照。
func (s *RedisSink) Record(ctx context.Context, snapshot monitor.TokenSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("序列化快照失败: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(snapshot.ContractAddress), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("Redis 写入快照失败: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("Redis 广播快照失败: %w", err)
	}
	return nil
}

// Close 关闭底层客户端（若支持）。
func (s *RedisSink) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
