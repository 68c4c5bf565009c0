package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStream_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 先发布，消费组从头读
	producer := NewRedisProducer(rdb)
	require.NoError(t, producer.Publish(ctx, "payments.events", "acct_1", []byte(`{"type":"payment.updated"}`)))

	consumer := NewRedisConsumer(rdb, "workers", "w1")
	consumer.block = 50 * time.Millisecond

	got := make(chan *Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Subscribe(ctx, "payments.events", func(msg *Message) error {
			got <- msg
			cancel()
			return nil
		})
	}()

	select {
	case msg := <-got:
		assert.Equal(t, "acct_1", msg.Key)
		assert.JSONEq(t, `{"type":"payment.updated"}`, string(msg.Payload))
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.NoError(t, <-done)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, q.Publish(ctx, "a", "k", []byte("1")))
	require.NoError(t, q.Publish(ctx, "b", "k", []byte("2")))
	assert.Len(t, q.Messages("a"), 1)
	assert.Len(t, q.Messages("b"), 1)

	seen := make(chan string, 1)
	go func() {
		_ = q.Subscribe(ctx, "a", func(msg *Message) error {
			seen <- string(msg.Payload)
			return nil
		})
	}()

	select {
	case v := <-seen:
		assert.Equal(t, "1", v)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestKafkaConsumer_RetriesSameMessageUntilHandled(t *testing.T) {
	c := NewKafkaConsumer(nil, "workers")
	c.retryBase = time.Millisecond
	c.retryMax = 2 * time.Millisecond

	msg := &Message{ID: "0/7", Topic: "payments.retry", Payload: []byte("x")}
	var seen []string
	err := c.handleWithRetry(context.Background(), msg, func(m *Message) error {
		seen = append(seen, m.ID)
		if len(seen) < 3 {
			return errors.New("downstream unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0/7", "0/7", "0/7"}, seen)
}

func TestKafkaConsumer_RetryStopsWithContext(t *testing.T) {
	c := NewKafkaConsumer(nil, "workers")
	c.retryBase = time.Millisecond
	c.retryMax = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.handleWithRetry(ctx, &Message{ID: "0/1"}, func(*Message) error {
		if calls++; calls == 2 {
			cancel()
		}
		return errors.New("always fails")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}
