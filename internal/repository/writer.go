package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-core/internal/model"
	"payment-core/internal/store"
	"payment-core/pkg/crypto_util"
)

// Writer 收集一组实体写入，由 Atomic 一次性提交
type Writer struct {
	b   store.Batch
	err error
	n   int
}

// Atomic 执行 fn 并原子提交其中的全部写入；
// fn 或任意一次序列化失败都不会写入任何数据
func (r *Repository) Atomic(ctx context.Context, fn func(w *Writer) error) error {
	return r.store.Batch(ctx, func(b store.Batch) error {
		w := &Writer{b: b}
		if err := fn(w); err != nil {
			return err
		}
		return w.err
	})
}

// Len 已排队的实体写入数
func (w *Writer) Len() int {
	return w.n
}

func (w *Writer) putJSON(key string, v any, ttl time.Duration) {
	if w.err != nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		w.err = fmt.Errorf("encode %s: %w", key, err)
		return
	}
	w.b.Put(key, raw, ttl)
	w.n++
}

func (w *Writer) PutLocation(l *model.Location) {
	w.putJSON(locationKey(l.AccountID, l.ID), l, 0)
	w.b.ZAdd(locationIndexKey(l.AccountID, l.Live), score(l.CreatedAt), l.ID)
	w.putJSON(addressIndexKey(l.Blockchain, l.Address), AccountRef{AccountID: l.AccountID, ID: l.ID, Live: l.Live}, 0)
}

func (w *Writer) PutBalance(b *model.Balance) {
	w.putJSON(balanceKey(b.AccountID, b.Live, b.Currency), b, 0)
}

func (w *Writer) PutTransaction(t *model.Transaction) {
	w.putJSON(transactionKey(t.AccountID, t.ID), t, 0)
	w.b.ZAdd(transactionIndexKey(t.AccountID, t.Live), score(t.CreatedAt), t.ID)
}

func (w *Writer) PutPayment(p *model.Payment) {
	w.putJSON(paymentKey(p.AccountID, p.ID), p, 0)
	w.b.ZAdd(paymentIndexKey(p.AccountID, p.Live), score(p.CreatedAt), p.ID)
}

func (w *Writer) PutCapture(c *model.PaymentCapture) {
	w.putJSON(captureKey(c.AccountID, c.ID), c, 0)
	w.b.ZAdd(captureIndexKey(c.AccountID, c.Live), score(c.CreatedAt), c.ID)
}

func (w *Writer) PutMandate(m *model.PaymentMandate) {
	w.putJSON(mandateKey(m.AccountID, m.ID), m, 0)
	w.b.ZAdd(mandateIndexKey(m.AccountID, m.Live), score(m.CreatedAt), m.ID)
	w.putJSON(mandateSecretKey(crypto_util.CalculateBlake3([]byte(m.Secret))), AccountRef{AccountID: m.AccountID, ID: m.ID, Live: m.Live}, 0)
}

// DeleteMandateSecret 删除全局 secret 索引 (账户删除时使用)
func (w *Writer) DeleteMandateSecret(secret string) {
	w.b.Delete(mandateSecretKey(crypto_util.CalculateBlake3([]byte(secret))))
}

// DeleteAddressIndex 删除全局地址索引 (账户删除时使用)
func (w *Writer) DeleteAddressIndex(blockchain, address string) {
	w.b.Delete(addressIndexKey(blockchain, address))
}

func (w *Writer) PutBridgeTransfer(t *model.BridgeTransfer) {
	w.putJSON(bridgeKey(t.AccountID, t.ID), t, 0)
	w.b.ZAdd(bridgeIndexKey(t.AccountID, t.Live), score(t.CreatedAt), t.ID)
}

// PutIdempotentCall 写入记录并释放处理中标记
func (w *Writer) PutIdempotentCall(c *model.IdempotentCall, ttl time.Duration) {
	w.putJSON(idempotencyKey(c.AccountID, c.Key), c, ttl)
	w.b.Delete(idempotencyLockKey(c.AccountID, c.Key))
}

// MarkReconcileDue 账户最迟在 due 之前需要被对账；已有更早的截止时间时保持不变
func (w *Writer) MarkReconcileDue(accountID string, live bool, due time.Time) {
	w.b.ZAddLT(reconcileDueKey, score(due), AccountRef{AccountID: accountID, Live: live}.member())
}

func (w *Writer) ClearReconcileDue(accountID string, live bool) {
	w.b.ZRem(reconcileDueKey, AccountRef{AccountID: accountID, Live: live}.member())
}
