package mq

import "context"

// Message 代表一条通用的业务消息
type Message struct {
	ID       string            // 消息ID (Redis Stream ID / Kafka offset)
	Topic    string            // 主题 (例如 "wallet_events_tx_submitted")
	Key      string            // 分区键 (交易哈希)
	Payload  []byte            // 消息体 (JSON)
	Metadata map[string]string // 元数据
}

// Producer 生产者接口
type Producer interface {
	// Publish 发送消息
	// key: 分区键，同一笔交易的事件进入同一分区。传空字符串则随机分区.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Consumer 消费者接口
type Consumer interface {
	// Subscribe 阻塞消费直到 ctx 取消
	// handler: 返回 error 时消息不确认，之后会被重新投递
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error

	Close() error
}
