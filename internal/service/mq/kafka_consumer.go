package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payment-core/pkg/logger"
)

// KafkaConsumer 实现 Consumer 接口
type KafkaConsumer struct {
	brokers []string
	groupID string
	reader  *kafka.Reader

	// 处理失败后原地重试的退避区间
	retryBase time.Duration
	retryMax  time.Duration
}

func NewKafkaConsumer(brokers []string, groupID string) *KafkaConsumer {
	return &KafkaConsumer{
		brokers:   brokers,
		groupID:   groupID,
		retryBase: 500 * time.Millisecond,
		retryMax:  30 * time.Second,
	}
}

// Subscribe 同一消费组内一个分区只会被一个消费者消费
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.FirstOffset,
	})
	logger.Info("kafka subscribed", zap.String("topic", topic), zap.String("group", c.groupID))

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("kafka fetch failed", zap.String("topic", topic), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		msg := &Message{
			ID:      fmt.Sprintf("%d/%d", m.Partition, m.Offset),
			Topic:   topic,
			Key:     string(m.Key),
			Payload: m.Value,
		}
		// 提交后面的 offset 会把失败的消息一起确认，所以失败时停在这条消息上重试
		if err := c.handleWithRetry(ctx, msg, handler); err != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			logger.Warn("kafka commit failed", zap.Error(err))
		}
	}
}

// handleWithRetry 直到处理成功或 ctx 结束才返回
func (c *KafkaConsumer) handleWithRetry(ctx context.Context, msg *Message, handler func(msg *Message) error) error {
	backoff := c.retryBase
	for {
		err := handler(msg)
		if err == nil {
			return nil
		}
		logger.Error("message handling failed",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.retryMax {
			backoff = c.retryMax
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
