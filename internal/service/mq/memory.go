package mq

import (
	"context"
	"strconv"
	"sync"
)

// MemoryQueue 进程内的 Producer + Consumer，app.env=test 与单元测试使用
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]chan *Message
	seq    int
	// Published 已发布的消息，测试里断言用
	Published []Message
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{topics: map[string]chan *Message{}}
}

func (q *MemoryQueue) topic(name string) chan *Message {
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan *Message, 1024)
		q.topics[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	q.mu.Lock()
	q.seq++
	msg := Message{ID: strconv.Itoa(q.seq), Topic: topic, Key: key, Payload: append([]byte(nil), payload...)}
	q.Published = append(q.Published, msg)
	ch := q.topic(topic)
	q.mu.Unlock()

	select {
	case ch <- &msg:
	default:
		// 没有消费者时队列满了就丢弃，Published 里仍有记录
	}
	return nil
}

// Messages 返回某个 topic 已发布的消息副本
func (q *MemoryQueue) Messages(topic string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Message
	for _, m := range q.Published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	q.mu.Lock()
	ch := q.topic(topic)
	q.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			_ = handler(msg)
		}
	}
}

func (q *MemoryQueue) Close() error {
	return nil
}
