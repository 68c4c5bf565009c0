// Package event 定义对外发布的领域事件。
// 所有事件都发到同一个 topic，以账户 id 作为分区键，保证同一账户内有序
package event

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"payment-core/internal/service/mq"
	"payment-core/pkg/logger"
)

type Type string

const (
	PaymentUpdated    Type = "payment.updated"
	CaptureUpdated    Type = "capture.updated"
	MandateUpdated    Type = "mandate.updated"
	BridgeUpdated     Type = "bridge.updated"
	TransactionsRetry Type = "transactions.retry_requested"
)

const (
	DefaultTopic = "payments.events"
	RetryTopic   = "payments.retry"
)

// Envelope 事件外层结构
type Envelope struct {
	Type       Type            `json:"type"`
	AccountID  string          `json:"account_id"`
	Live       bool            `json:"live"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// RetryRequested 仍处于 queued、外部账本没有对应记录的交易
type RetryRequested struct {
	TransactionIDs []string `json:"transaction_ids"`
}

// Publisher 事件发布是尽力而为的: 失败只记录日志，不影响已经提交的业务数据
type Publisher struct {
	producer mq.Producer
	now      func() time.Time
}

// NewPublisher producer 为 nil 时所有发布都是空操作
func NewPublisher(producer mq.Producer) *Publisher {
	return &Publisher{producer: producer, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, typ Type, accountID string, live bool, data any) {
	p.publish(ctx, DefaultTopic, typ, accountID, live, data)
}

// PublishRetry 重试请求单独一个 topic，由 retry worker 消费
func (p *Publisher) PublishRetry(ctx context.Context, accountID string, live bool, ids []string) {
	p.publish(ctx, RetryTopic, TransactionsRetry, accountID, live, RetryRequested{TransactionIDs: ids})
}

func (p *Publisher) publish(ctx context.Context, topic string, typ Type, accountID string, live bool, data any) {
	if p == nil || p.producer == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Error("event encode failed", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	payload, err := json.Marshal(Envelope{
		Type:       typ,
		AccountID:  accountID,
		Live:       live,
		OccurredAt: p.now().UTC(),
		Data:       raw,
	})
	if err != nil {
		logger.Error("event encode failed", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	if err := p.producer.Publish(ctx, topic, accountID, payload); err != nil {
		logger.Warn("event publish failed",
			zap.String("type", string(typ)),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}

// Decode 解析消费到的事件
func Decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
