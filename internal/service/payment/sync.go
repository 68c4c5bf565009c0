package payment

import (
	"context"

	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/repository"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
)

const (
	FailureTransactionFailed   = "transaction_failed"
	FailureTransactionCanceled = "transaction_canceled"
)

// SyncPaymentWithTransactions 只根据关联交易推导 Payment 的状态与手续费，原地修改 p。
// 状态取自唯一的 payment 类型交易；fee 类型交易按 (type, currency, amount) 去重累加，
// x402 结算的付款手续费由对方记账，这里不重复累计
func (s *Service) SyncPaymentWithTransactions(p *model.Payment, txs []model.Transaction) (*model.Payment, bool) {
	changed := false
	x402 := p.Protocol != nil && p.Protocol.X402

	for i := range txs {
		tx := &txs[i]
		if tx.PaymentID != p.ID || tx.AccountID != p.AccountID {
			continue
		}
		switch tx.Type {
		case model.TransactionTypePayment:
			status, reason := paymentStatusFor(tx.Status)
			if status != p.Status || reason != p.FailureReason {
				p.Status = status
				p.FailureReason = reason
				changed = true
			}
		case model.TransactionTypeFee:
			if x402 {
				continue
			}
			fee := model.Fee{Type: model.FeeTypeNetwork, Amount: tx.Amount.Abs(), Currency: tx.Currency}
			if !p.HasFee(fee) {
				p.Fees = append(p.Fees, fee)
				changed = true
			}
		}
	}
	if changed {
		p.UpdatedAt = s.now().UTC()
	}
	return p, changed
}

func paymentStatusFor(status model.TransactionStatus) (model.PaymentStatus, string) {
	switch status {
	case model.TransactionStatusFailed:
		return model.PaymentStatusFailed, FailureTransactionFailed
	case model.TransactionStatusCanceled:
		return model.PaymentStatusFailed, FailureTransactionCanceled
	case model.TransactionStatusCompleted:
		return model.PaymentStatusSucceeded, ""
	}
	return model.PaymentStatusPending, ""
}

// SyncCaptureWithPayment 收款方状态跟随付款方；已到终态的 Capture 不再变化
func (s *Service) SyncCaptureWithPayment(c *model.PaymentCapture, p *model.Payment) (*model.PaymentCapture, bool) {
	if c.PaymentID != p.ID {
		return c, false
	}
	switch c.Status {
	case model.CaptureStatusSucceeded, model.CaptureStatusFailed, model.CaptureStatusCancelled:
		return c, false
	}
	next := c.Status
	switch p.Status {
	case model.PaymentStatusSucceeded:
		next = model.CaptureStatusSucceeded
	case model.PaymentStatusFailed:
		next = model.CaptureStatusFailed
		if p.FailureReason == FailureTransactionCanceled {
			next = model.CaptureStatusCancelled
		}
	}
	if next == c.Status {
		return c, false
	}
	c.Status = next
	c.UpdatedAt = s.now().UTC()
	return c, true
}

// ApplyTransactions 用合并后的账户交易重新推导受影响的 Payment 及其 Capture，
// 变化的部分一次性原子写入
func (s *Service) ApplyTransactions(ctx context.Context, accountID string, live bool, txs []model.Transaction) ([]model.Payment, error) {
	related := map[string][]model.Transaction{}
	var order []string
	for _, tx := range txs {
		if tx.PaymentID == "" || tx.AccountID != accountID {
			continue
		}
		if _, ok := related[tx.PaymentID]; !ok {
			order = append(order, tx.PaymentID)
		}
		related[tx.PaymentID] = append(related[tx.PaymentID], tx)
	}

	var (
		payments []*model.Payment
		captures []*model.PaymentCapture
	)
	for _, id := range order {
		p, err := s.repo.GetPayment(ctx, accountID, id)
		if repository.IsNotFound(err) {
			// 桥接等其他业务产生的交易
			continue
		}
		if err != nil {
			return nil, errno.ErrStorage.Wrap(err)
		}
		if _, changed := s.SyncPaymentWithTransactions(p, related[id]); !changed {
			continue
		}
		payments = append(payments, p)

		if p.CaptureID == "" {
			continue
		}
		c, err := s.repo.GetCapture(ctx, p.CaptureAccountID, p.CaptureID)
		if repository.IsNotFound(err) {
			logger.Warn("capture missing for payment", zap.String("payment_id", p.ID), zap.String("capture_id", p.CaptureID))
			continue
		}
		if err != nil {
			return nil, errno.ErrStorage.Wrap(err)
		}
		if _, changed := s.SyncCaptureWithPayment(c, p); changed {
			captures = append(captures, c)
		}
	}
	if len(payments) == 0 {
		return nil, nil
	}

	err := s.repo.Atomic(ctx, func(w *repository.Writer) error {
		for _, p := range payments {
			w.PutPayment(p)
		}
		for _, c := range captures {
			w.PutCapture(c)
		}
		return nil
	})
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}

	out := make([]model.Payment, 0, len(payments))
	for _, p := range payments {
		out = append(out, *p)
		s.events.Publish(ctx, event.PaymentUpdated, accountID, live, p)
	}
	for _, c := range captures {
		s.events.Publish(ctx, event.CaptureUpdated, c.AccountID, c.Live, c)
	}
	return out, nil
}
