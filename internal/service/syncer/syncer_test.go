package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/internal/service/mq"
	"payment-core/internal/service/payment"
	"payment-core/internal/service/reconciler"
	"payment-core/internal/store"
	"payment-core/pkg/errno"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// lostResponse 转账实际已经发出，但调用方收到的是超时
type lostResponse struct {
	provider.WalletProvider
	drop   bool
	reject bool
}

func (l *lostResponse) SendTransaction(ctx context.Context, req provider.SendRequest) (*provider.SentTransaction, error) {
	if l.reject {
		return nil, errors.New("rejected")
	}
	sent, err := l.WalletProvider.SendTransaction(ctx, req)
	if err == nil && l.drop {
		return nil, context.DeadlineExceeded
	}
	return sent, err
}

type brokenList struct {
	provider.WalletProvider
}

func (b *brokenList) ListTransactions(ctx context.Context, address, blockchain string, live bool) ([]model.Transaction, error) {
	return nil, errors.New("indexer down")
}

type fixture struct {
	sim      *provider.SimulatedLedger
	wallet   *lostResponse
	repo     *repository.Repository
	recon    *reconciler.Reconciler
	queue    *mq.MemoryQueue
	payments *payment.Service
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sim:   provider.NewSimulatedLedger(nil, nil),
		queue: mq.NewMemoryQueue(),
		now:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.wallet = &lostResponse{WalletProvider: f.sim}
	f.repo = repository.New(store.NewMemoryStore())
	f.recon = reconciler.New(f.repo, f.sim)
	clock := func() time.Time { return f.now }
	events := event.NewPublisher(f.queue)
	f.payments = payment.NewService(f.repo, f.recon, f.wallet, events, 0).WithClock(clock)
	f.svc = NewService(f.repo, f.recon, f.sim, f.payments, events, 0).WithClock(clock)

	loc, err := f.recon.EnsureLocation(context.Background(), "acct_1", false, "arc")
	require.NoError(t, err)
	f.sim.Fund("arc", loc.Address, "USDC", d("30"))
	return f
}

func (f *fixture) pay(t *testing.T, amount string) (*payment.PayResult, error) {
	t.Helper()
	return f.payments.Pay(context.Background(), "acct_1", false, payment.PayRequest{
		Amount:   d(amount),
		Currency: "USDC",
		Method:   model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: "acct_2"},
	})
}

func TestSyncAccount_CompletesPaymentAndCapture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.pay(t, "10")
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	rep, err := f.svc.SyncAccount(ctx, "acct_1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.New, "network fee")
	assert.Equal(t, 1, rep.Updated, "payment transaction")
	assert.Equal(t, 1, rep.Payments)
	assert.Zero(t, rep.Pending)
	assert.Empty(t, rep.RetryIDs)

	p, err := f.payments.GetPayment(ctx, "acct_1", res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSucceeded, p.Status)
	require.Len(t, p.Fees, 1)
	assert.True(t, p.Fees[0].Amount.Equal(d("0.01")))

	c, err := f.payments.GetCapture(ctx, "acct_2", res.Capture.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaptureStatusSucceeded, c.Status)

	bal, err := f.repo.GetBalance(ctx, "acct_1", false, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "19.99", bal.Amount.String())

	// 同一份外部快照再同步一次: 没有新增也没有更新
	rep, err = f.svc.SyncAccount(ctx, "acct_1", false)
	require.NoError(t, err)
	assert.Zero(t, rep.New)
	assert.Zero(t, rep.Updated)
	assert.Zero(t, rep.Payments)

	// 收款方的入账交易由服务商记录补齐，不重复
	rep, err = f.svc.SyncAccount(ctx, "acct_2", false)
	require.NoError(t, err)
	assert.Zero(t, rep.New)
	assert.Equal(t, 1, rep.Updated)
	credits, err := f.repo.ListTransactions(ctx, "acct_2", false)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, model.TransactionStatusCompleted, credits[0].Status)
	assert.NotEmpty(t, credits[0].ProcessorID)

	due, err := f.repo.DueAccounts(ctx, f.now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSyncAccount_RecoversLostProviderResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.wallet.drop = true
	_, err := f.pay(t, "10")
	require.Error(t, err)

	txs, err := f.repo.ListTransactions(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, model.TransactionStatusQueued, txs[0].Status)

	f.now = f.now.Add(10 * time.Minute)
	rep, err := f.svc.SyncAccount(ctx, "acct_1", false)
	require.NoError(t, err)
	assert.Empty(t, rep.RetryIDs, "the transfer already happened")

	tx, err := f.repo.GetTransaction(ctx, "acct_1", txs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, tx.Status)
	assert.NotEmpty(t, tx.ProcessorID)

	p, err := f.payments.GetPayment(ctx, "acct_1", tx.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSucceeded, p.Status)
}

func TestSyncAccount_RequestsRetryForQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.wallet.reject = true
	_, err := f.pay(t, "10")
	require.Error(t, err)

	// 刚写入的 queued 交易还在宽限期内
	rep, err := f.svc.SyncAccount(ctx, "acct_1", false)
	require.NoError(t, err)
	assert.Empty(t, rep.RetryIDs)

	f.now = f.now.Add(2 * time.Minute)
	rep, err = f.svc.SyncAccount(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, rep.RetryIDs, 1)
	assert.Equal(t, 1, rep.Pending)

	msgs := f.queue.Messages(event.RetryTopic)
	require.Len(t, msgs, 1)
	env, err := event.Decode(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, event.TransactionsRetry, env.Type)
	assert.Equal(t, "acct_1", env.AccountID)

	// 未终结的交易让账户继续留在到期列表里
	due, err := f.repo.DueAccounts(ctx, f.now.Add(payment.DefaultReconcileSLA))
	require.NoError(t, err)
	var ids []string
	for _, ref := range due {
		ids = append(ids, ref.AccountID)
	}
	assert.Contains(t, ids, "acct_1")
}

func TestSyncAccount_ProviderFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.pay(t, "10")
	require.NoError(t, err)

	svc := NewService(f.repo, f.recon, &brokenList{WalletProvider: f.sim}, f.payments, nil, 0)
	_, err = svc.SyncAccount(ctx, "acct_1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errno.ErrWalletProvider)

	txs, err := f.repo.ListTransactions(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionStatusSent, txs[0].Status)
}

func TestSweeper_SyncsDueAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.pay(t, "5")
	require.NoError(t, err)

	sw := NewSweeper(f.svc, nil, "", 0)
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	f.now = f.now.Add(payment.DefaultReconcileSLA + time.Second)
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "payer and receiver")

	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
