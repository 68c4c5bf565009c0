package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/service/mq"
	"payment-core/pkg/logger"
)

// TypeResendTransactions 由对账发出的重发请求
const TypeResendTransactions = event.TransactionsRetry

// Resender 重新发送仍处于 queued 的付款交易
type Resender interface {
	ResendQueued(ctx context.Context, accountID string, live bool, txIDs []string) (int, error)
}

// ErrSkip 消息本身有问题，重试也没用，确认掉
var ErrSkip = errors.New("skip message")

// HandleResend 处理一条重发请求。返回 ErrSkip 以外的错误时消息不确认，等待再次投递
func HandleResend(ctx context.Context, r Resender, msg *mq.Message) error {
	env, err := event.Decode(msg.Payload)
	if err != nil {
		return fmt.Errorf("decode envelope %s: %v: %w", msg.ID, err, ErrSkip)
	}
	if env.Type != TypeResendTransactions {
		return fmt.Errorf("unexpected event type %q: %w", env.Type, ErrSkip)
	}
	var p event.RetryRequested
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return fmt.Errorf("decode retry payload %s: %v: %w", msg.ID, err, ErrSkip)
	}

	n, err := r.ResendQueued(ctx, env.AccountID, env.Live, p.TransactionIDs)
	if err != nil {
		logger.Warn("resend queued transactions failed",
			zap.String("account_id", env.AccountID),
			zap.Int("sent", n),
			zap.Error(err))
		return err
	}
	logger.Info("queued transactions resent",
		zap.String("account_id", env.AccountID),
		zap.Int("requested", len(p.TransactionIDs)),
		zap.Int("sent", n))
	return nil
}
