package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AutoAgent/internal/errors"
)

// RedisConfig 描述 Redis 消息镜像的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisClient 创建并探测 Redis 连接。
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// RedisSink 把一次运行的消息流镜像到 Redis：
// 事件发布到 <prefix>:<run>:events 频道，消息正文保存在 <prefix>:<run>:messages 哈希，
// 发送顺序保存在 <prefix>:<run>:order 列表，便于断线后回放。
type RedisSink struct {
	client redis.UniversalClient
	runID  string
	prefix string
	ttl    time.Duration
}

// NewRedisSink 为指定运行创建 Redis 镜像。
func NewRedisSink(client redis.UniversalClient, runID string, cfg RedisConfig) *RedisSink {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "autoagent"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSink{client: client, runID: runID, prefix: prefix, ttl: ttl}
}

// Channel 返回该运行的事件频道名。
func (s *RedisSink) Channel() string {
	return s.key("events")
}

func (s *RedisSink) key(suffix string) string {
	return s.prefix + ":" + s.runID + ":" + suffix
}

// Send 实现 Sink 接口。
func (s *RedisSink) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "序列化消息失败")
	}
	event, err := encodeEnvelope(s.runID, OpSend, msg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "构建消息事件失败")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("messages"), msg.ID, body)
		pipe.RPush(ctx, s.key("order"), msg.ID)
		pipe.Expire(ctx, s.key("messages"), s.ttl)
		pipe.Expire(ctx, s.key("order"), s.ttl)
		pipe.Publish(ctx, s.Channel(), event)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 写入消息失败")
	}
	return nil
}

// Update 实现 Sink 接口，已定稿或不存在的消息不会被覆盖。
func (s *RedisSink) Update(ctx context.Context, msg Message) error {
	raw, err := s.client.HGet(ctx, s.key("messages"), msg.ID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 读取消息失败")
	}
	var existing Message
	if err := json.Unmarshal(raw, &existing); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "解析已存消息失败")
	}
	if existing.Final {
		return ErrFinalized
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "序列化消息失败")
	}
	event, err := encodeEnvelope(s.runID, OpUpdate, msg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "构建消息事件失败")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("messages"), msg.ID, body)
		pipe.Publish(ctx, s.Channel(), event)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 更新消息失败")
	}
	return nil
}

// SendError 实现 Sink 接口。
func (s *RedisSink) SendError(ctx context.Context, reason string) error {
	return s.Send(ctx, Error(reason))
}

// Replay 按发送顺序读回全部消息。
func (s *RedisSink) Replay(ctx context.Context) ([]Message, error) {
	ids, err := s.client.LRange(ctx, s.key("order"), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 读取消息顺序失败")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, s.key("messages"), ids...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "Redis 读取消息失败")
	}
	messages := make([]Message, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

var _ Sink = (*RedisSink)(nil)
