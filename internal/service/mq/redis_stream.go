package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MateoOdt/DigitalMedia2/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisProducer 基于 Redis Streams (XADD)
type RedisProducer struct {
	client *redis.Client
	maxLen int64
}

// NewRedisProducer maxLen 为每个 Stream 保留的近似长度，0 表示不裁剪
func NewRedisProducer(client *redis.Client, maxLen int64) *RedisProducer {
	return &RedisProducer{client: client, maxLen: maxLen}
}

func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		logger.Error("[MQ] Redis 发布失败", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("redis xadd error: %w", err)
	}
	return nil
}

// RedisConsumer 基于 Redis Streams 消费组
type RedisConsumer struct {
	client *redis.Client
	group  string
	name   string
	block  time.Duration
	// rescan 多久重新扫描一次本消费者名下未确认的消息
	rescan time.Duration
}

func NewRedisConsumer(client *redis.Client, group, name string) *RedisConsumer {
	return &RedisConsumer{
		client: client,
		group:  group,
		name:   name,
		block:  2 * time.Second,
		rescan: 30 * time.Second,
	}
}

func (c *RedisConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	// XGROUP CREATE <stream> <group> 0 MKSTREAM
	// 从 0 开始，消费组创建前写入的事件也会被处理
	err := c.client.XGroupCreateMkStream(ctx, topic, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建消费者组失败: %w", err)
	}

	logger.Info("[Redis MQ] 开始监听主题", zap.String("topic", topic), zap.String("group", c.group), zap.String("consumer", c.name))

	// 先处理本消费者名下未确认的消息 (上次崩溃或处理失败遗留)，再读新消息。
	// 扫描未确认消息时游标按 ID 前进，处理失败的消息等到下一轮扫描再重试
	cursor := "0"
	lastScan := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if cursor == ">" && time.Since(lastScan) >= c.rescan {
			cursor, lastScan = "0", time.Now()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{topic, cursor},
			Count:    10,
			Block:    c.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			cursor = ">"
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("[Redis MQ] 读取消息错误", zap.String("topic", topic), zap.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}

		lastID := ""
		for _, stream := range streams {
			for _, xMessage := range stream.Messages {
				lastID = xMessage.ID
				c.handle(ctx, topic, xMessage, handler)
			}
		}
		if cursor != ">" {
			if lastID == "" {
				cursor = ">"
			} else {
				cursor = lastID
			}
		}
	}
}

func (c *RedisConsumer) handle(ctx context.Context, topic string, xMessage redis.XMessage, handler func(msg *Message) error) {
	val, ok := xMessage.Values["payload"].(string)
	if !ok {
		logger.Warn("[Redis MQ] 消息格式错误: payload 缺失", zap.String("id", xMessage.ID))
		c.ack(ctx, topic, xMessage.ID)
		return
	}
	key, _ := xMessage.Values["key"].(string)

	msg := &Message{
		ID:      xMessage.ID,
		Topic:   topic,
		Key:     key,
		Payload: []byte(val),
	}
	if err := handler(msg); err != nil {
		logger.Error("[Redis MQ] 消息处理失败", zap.String("id", xMessage.ID), zap.Error(err))
		return
	}
	c.ack(ctx, topic, xMessage.ID)
}

func (c *RedisConsumer) ack(ctx context.Context, topic, id string) {
	if err := c.client.XAck(ctx, topic, c.group, id).Err(); err != nil {
		logger.Error("[Redis MQ] ACK 失败", zap.String("id", id), zap.Error(err))
	}
}

// Close 客户端由调用方共享，这里不关闭
func (c *RedisConsumer) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
