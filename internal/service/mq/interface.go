package mq

import "context"

// Message 代表一条通用的业务消息
type Message struct {
	ID      string // 消息ID (Redis Stream ID / Kafka offset)
	Topic   string
	Key     string // 分区键，这里是账户 id
	Payload []byte // JSON
}

// Producer 生产者接口
type Producer interface {
	// Publish key 用于分区有序 (同一账户的事件进同一分区)
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Consumer 消费者接口
type Consumer interface {
	// Subscribe 阻塞消费直到 ctx 结束；handler 返回 error 时消息不确认
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error

	Close() error
}
