package payment

import (
	"context"
	"errors"
	"strings"
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
	"payment-core/internal/service/reconciler"
	"payment-core/internal/store"
	"payment-core/pkg/errno"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// flakySend 前 fail 次转账直接失败
type flakySend struct {
	provider.WalletProvider
	fail int
}

func (f *flakySend) SendTransaction(ctx context.Context, req provider.SendRequest) (*provider.SentTransaction, error) {
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("provider unavailable")
	}
	return f.WalletProvider.SendTransaction(ctx, req)
}

type fixture struct {
	sim   *provider.SimulatedLedger
	repo  *repository.Repository
	recon *reconciler.Reconciler
	queue *mq.MemoryQueue
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T, wallet func(provider.WalletProvider) provider.WalletProvider) *fixture {
	t.Helper()
	f := &fixture{
		sim:   provider.NewSimulatedLedger(nil, nil),
		queue: mq.NewMemoryQueue(),
		now:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.repo = repository.New(store.NewMemoryStore())
	f.recon = reconciler.New(f.repo, f.sim)
	var w provider.WalletProvider = f.sim
	if wallet != nil {
		w = wallet(f.sim)
	}
	f.svc = NewService(f.repo, f.recon, w, event.NewPublisher(f.queue), 0).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) funded(t *testing.T, accountID, chain, amount string) *model.Location {
	t.Helper()
	loc, err := f.recon.EnsureLocation(context.Background(), accountID, false, chain)
	require.NoError(t, err)
	f.sim.Fund(chain, loc.Address, "USDC", d(amount))
	return loc
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	e, ok := errno.As(err)
	require.True(t, ok, "expected errno, got %v", err)
	return e.Reason
}

func TestPay_CryptoExternalAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	src := f.funded(t, "acct_1", "arc", "30")

	res, err := f.svc.Pay(ctx, "acct_1", false, PayRequest{
		Amount:   d("10"),
		Currency: "USDC",
		Method:   model.PaymentMethod{Type: model.PaymentMethodCrypto, Address: "0x00000000000000000000000000000000000000aa", Blockchain: "arc"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Capture)
	assert.Equal(t, model.PaymentStatusPending, res.Payment.Status)
	assert.Equal(t, src.ID, res.Payment.LocationID)
	assert.Equal(t, model.TriggerUser, res.Payment.Trigger.Type)
	assert.Equal(t, model.AuthorizationSender, res.Payment.Authorization.Type)

	txs, err := f.repo.ListTransactions(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, model.TransactionStatusSent, tx.Status)
	assert.Equal(t, res.Payment.ID, tx.PaymentID)
	assert.Equal(t, tx.ID, tx.Reference)
	assert.True(t, strings.HasPrefix(tx.ProcessorID, "sim_"))
	assert.NotEmpty(t, tx.Blockchain.Hash)
	assert.True(t, tx.Amount.Equal(d("-10")))

	// 两阶段写入后账户在 SLA 内需要被对账
	due, err := f.repo.DueAccounts(ctx, f.now.Add(DefaultReconcileSLA))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "acct_1", due[0].AccountID)

	assert.NotEmpty(t, f.queue.Messages(event.DefaultTopic))
}

func TestPay_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.funded(t, "acct_1", "arc", "30")

	_, err := f.svc.Pay(ctx, "acct_1", false, PayRequest{Amount: d("0"), Currency: "USDC",
		Method: model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: "acct_2"}})
	assert.ErrorIs(t, err, errno.ErrInvalidAmount)

	_, err = f.svc.Pay(ctx, "acct_1", false, PayRequest{Amount: d("1"), Currency: "BTC",
		Method: model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: "acct_2"}})
	assert.ErrorIs(t, err, errno.ErrUnsupportedCurrency)

	_, err = f.svc.Pay(ctx, "acct_1", false, PayRequest{Amount: d("1"), Currency: "USDC",
		Method: model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: "acct_1"}})
	assert.ErrorIs(t, err, errno.ErrUnsupportedMethod)

	// 首选链上没有钱包
	_, err = f.svc.Pay(ctx, "acct_1", false, PayRequest{Amount: d("1"), Currency: "USDC",
		Method: model.PaymentMethod{Type: model.PaymentMethodCrypto, Address: "0xdead", Blockchain: "base"}})
	assert.ErrorIs(t, err, errno.ErrInsufficientBalance)
	assert.Equal(t, errno.ReasonNotInPreferredNetwork, reasonOf(t, err))

	_, err = f.svc.Pay(ctx, "acct_1", false, PayRequest{Amount: d("31"), Currency: "USDC",
		Method: model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: "acct_2"}})
	assert.Equal(t, errno.ReasonNoBalance, reasonOf(t, err))

	// 失败的校验不落任何数据
	ps, err := f.repo.ListPayments(ctx, "acct_1", false)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestPay_ArcPayCreatesCaptureAndCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.funded(t, "acct_1", "arc", "30")

	res, err := f.svc.Pay(ctx, "acct_1", false, PayRequest{
		Amount:   d("10"),
		Currency: "USDC",
		Method:   model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: "acct_2"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Capture)
	assert.Equal(t, "acct_2", res.Capture.AccountID)
	assert.Equal(t, model.CaptureStatusProcessing, res.Capture.Status)
	assert.Equal(t, res.Capture.ID, res.Payment.CaptureID)
	assert.Equal(t, "acct_2", res.Payment.CaptureAccountID)

	credits, err := f.repo.ListTransactions(ctx, "acct_2", false)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, res.Capture.ID, credits[0].CaptureID)
	assert.True(t, credits[0].Amount.Equal(d("10")))

	debits, err := f.repo.ListTransactions(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, debits, 1)
	assert.Equal(t, debits[0].Blockchain.Hash, credits[0].Blockchain.Hash)

	// 收款方在同一条链上拿到了钱包
	recvLocs, err := f.repo.ListLocations(ctx, "acct_2", false)
	require.NoError(t, err)
	require.Len(t, recvLocs, 1)
	assert.Equal(t, "arc", recvLocs[0].Blockchain)

	due, err := f.repo.DueAccounts(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 2)

	// 外部账本确认后，Payment 与 Capture 一起推进
	tx := debits[0]
	tx.Status = model.TransactionStatusCompleted
	fee := model.Transaction{
		ID: "fee_1", AccountID: "acct_1", Type: model.TransactionTypeFee, Status: model.TransactionStatusCompleted,
		Amount: d("-0.01"), Currency: "USDC", PaymentID: res.Payment.ID,
	}
	updated, err := f.svc.ApplyTransactions(ctx, "acct_1", false, []model.Transaction{tx, fee})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, model.PaymentStatusSucceeded, updated[0].Status)
	require.Len(t, updated[0].Fees, 1)
	assert.True(t, updated[0].Fees[0].Amount.Equal(d("0.01")))

	c, err := f.svc.GetCapture(ctx, "acct_2", res.Capture.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaptureStatusSucceeded, c.Status)

	// 重复应用不会重复计费
	updated, err = f.svc.ApplyTransactions(ctx, "acct_1", false, []model.Transaction{tx, fee})
	require.NoError(t, err)
	assert.Empty(t, updated)
	p, err := f.svc.GetPayment(ctx, "acct_1", res.Payment.ID)
	require.NoError(t, err)
	assert.Len(t, p.Fees, 1)
}

func TestPay_ProviderErrorThenResend(t *testing.T) {
	ctx := context.Background()
	flaky := &flakySend{fail: 1}
	f := newFixture(t, func(inner provider.WalletProvider) provider.WalletProvider {
		flaky.WalletProvider = inner
		return flaky
	})
	f.funded(t, "acct_1", "arc", "30")

	_, err := f.svc.Pay(ctx, "acct_1", false, PayRequest{
		Amount:   d("5"),
		Currency: "USDC",
		Method:   model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: "acct_2"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errno.ErrWalletProvider)

	// 第一阶段的数据保留
	txs, err := f.repo.ListTransactions(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionStatusQueued, txs[0].Status)
	assert.Empty(t, txs[0].Blockchain.Hash)

	n, err := f.svc.ResendQueued(ctx, "acct_1", false, []string{txs[0].ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tx, err := f.repo.GetTransaction(ctx, "acct_1", txs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusSent, tx.Status)
	assert.NotEmpty(t, tx.Blockchain.Hash)

	p, err := f.svc.GetPayment(ctx, "acct_1", tx.PaymentID)
	require.NoError(t, err)
	c, err := f.svc.GetCapture(ctx, "acct_2", p.CaptureID)
	require.NoError(t, err)
	assert.Equal(t, model.CaptureStatusProcessing, c.Status)

	// 已经不是 queued 的交易跳过
	n, err = f.svc.ResendQueued(ctx, "acct_1", false, []string{tx.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func delegate(t *testing.T, f *fixture, typ model.MandateType, limit string) *model.PaymentMandate {
	t.Helper()
	m, err := f.svc.DelegatePayment(context.Background(), "acct_1", false, DelegateRequest{
		Type:   typ,
		Limit:  model.Limit{Amount: d(limit), Currency: "USDC"},
		Method: model.PaymentMethodArcPay,
	})
	require.NoError(t, err)
	return m
}

func TestMandate_MultiUseCapturesRepeatedly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.funded(t, "acct_1", "arc", "200")
	m := delegate(t, f, model.MandateMultiUse, "100")
	assert.Len(t, m.Secret, SecretLength)
	assert.Equal(t, model.MandateActive, m.Status)

	c, err := f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("50"), Currency: "USDC", MandateSecret: m.Secret})
	require.NoError(t, err)
	assert.Equal(t, "acct_2", c.AccountID)
	assert.Equal(t, model.AuthorizationMandate, c.Authorization.Type)
	assert.Equal(t, m.ID, c.Authorization.MandateID)

	// 额度按单次比较，不累计
	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("60"), Currency: "USDC", MandateSecret: m.Secret})
	require.NoError(t, err)

	got, err := f.svc.GetMandate(ctx, "acct_1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MandateActive, got.Status)

	ps, err := f.svc.ListPayments(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	for _, p := range ps {
		assert.Equal(t, model.TriggerMandate, p.Trigger.Type)
		assert.Equal(t, m.ID, p.Trigger.MandateID)
	}

	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("100.01"), Currency: "USDC", MandateSecret: m.Secret})
	assert.ErrorIs(t, err, errno.ErrMandateMismatch)
	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("10"), Currency: "EURC", MandateSecret: m.Secret})
	assert.ErrorIs(t, err, errno.ErrMandateMismatch)
}

func TestMandate_SingleUseIsConsumed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.funded(t, "acct_1", "arc", "200")
	m := delegate(t, f, "", "100")
	assert.Equal(t, model.MandateSingleUse, m.Type)

	_, err := f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("50"), Currency: "USDC", MandateSecret: m.Secret})
	require.NoError(t, err)

	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("60"), Currency: "USDC", MandateSecret: m.Secret})
	assert.ErrorIs(t, err, errno.ErrMandateInactive)
	assert.Equal(t, string(model.MandateUsed), reasonOf(t, err))

	got, err := f.svc.GetMandate(ctx, "acct_1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MandateInactive, got.Status)
	assert.Equal(t, model.MandateUsed, got.InactiveReason)

	// 事件里不带 secret
	for _, msg := range f.queue.Messages(event.DefaultTopic) {
		assert.NotContains(t, string(msg.Payload), m.Secret)
	}
}

func TestMandate_CaptureFailureIsOpaque(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	loc := f.funded(t, "acct_1", "arc", "30")
	m := delegate(t, f, model.MandateSingleUse, "25")

	// 签发后授权方把钱转走了
	f.sim.Fund("arc", loc.Address, "USDC", d("-25"))

	_, err := f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("10"), Currency: "USDC", MandateSecret: m.Secret})
	require.Error(t, err)
	assert.ErrorIs(t, err, errno.ErrPaymentCapture)
	assert.NotErrorIs(t, err, errno.ErrInsufficientBalance)

	// 失败的扣款不消耗单次授权
	got, err := f.svc.GetMandate(ctx, "acct_1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MandateActive, got.Status)

	f.sim.Fund("arc", loc.Address, "USDC", d("25"))
	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("10"), Currency: "USDC", MandateSecret: m.Secret})
	require.NoError(t, err)
}

func TestMandate_SingleUseConsumedOnceQueued(t *testing.T) {
	ctx := context.Background()
	flaky := &flakySend{fail: 1}
	f := newFixture(t, func(inner provider.WalletProvider) provider.WalletProvider {
		flaky.WalletProvider = inner
		return flaky
	})
	f.funded(t, "acct_1", "arc", "30")
	m := delegate(t, f, model.MandateSingleUse, "25")

	// 第一阶段已落库，转账失败
	_, err := f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("10"), Currency: "USDC", MandateSecret: m.Secret})
	assert.ErrorIs(t, err, errno.ErrPaymentCapture)

	got, err := f.svc.GetMandate(ctx, "acct_1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MandateInactive, got.Status)
	assert.Equal(t, model.MandateUsed, got.InactiveReason)

	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("10"), Currency: "USDC", MandateSecret: m.Secret})
	assert.ErrorIs(t, err, errno.ErrMandateInactive)
	assert.Equal(t, string(model.MandateUsed), reasonOf(t, err))

	txs, err := f.repo.ListTransactions(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	n, err := f.svc.ResendQueued(ctx, "acct_1", false, []string{txs[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 授权只付出一笔
	ps, err := f.svc.ListPayments(ctx, "acct_1", false)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
	credits, err := f.repo.ListTransactions(ctx, "acct_2", false)
	require.NoError(t, err)
	assert.Len(t, credits, 1)
}

func TestMandate_DelegateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.funded(t, "acct_1", "arc", "50")

	past := f.now.Add(-time.Minute)
	_, err := f.svc.DelegatePayment(ctx, "acct_1", false, DelegateRequest{
		Limit: model.Limit{Amount: d("10"), Currency: "USDC"}, Method: model.PaymentMethodArcPay, ExpiresAt: &past,
	})
	assert.ErrorIs(t, err, errno.ErrExpiresAtInPast)

	_, err = f.svc.DelegatePayment(ctx, "acct_1", false, DelegateRequest{
		Limit: model.Limit{Amount: d("10"), Currency: "USDC"}, Method: model.PaymentMethodCrypto,
	})
	assert.ErrorIs(t, err, errno.ErrUnsupportedMethod)

	_, err = f.svc.DelegatePayment(ctx, "acct_1", false, DelegateRequest{
		Limit: model.Limit{Amount: d("51"), Currency: "USDC"}, Method: model.PaymentMethodArcPay,
	})
	assert.ErrorIs(t, err, errno.ErrInsufficientBalance)
	assert.Equal(t, errno.ReasonNoBalance, reasonOf(t, err))

	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("1"), Currency: "USDC", MandateSecret: "nope"})
	assert.ErrorIs(t, err, errno.ErrMandateNotFound)
}

func TestMandate_LazyExpiryAndRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.funded(t, "acct_1", "arc", "50")

	exp := f.now.Add(time.Hour)
	m1, err := f.svc.DelegatePayment(ctx, "acct_1", false, DelegateRequest{
		Limit: model.Limit{Amount: d("10"), Currency: "USDC"}, Method: model.PaymentMethodArcPay, ExpiresAt: &exp,
	})
	require.NoError(t, err)
	m2 := delegate(t, f, model.MandateMultiUse, "10")

	revoked, err := f.svc.RevokeMandate(ctx, "acct_1", m2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MandateRevoked, revoked.InactiveReason)
	_, err = f.svc.RevokeMandate(ctx, "acct_1", m2.ID)
	assert.ErrorIs(t, err, errno.ErrMandateInactive)

	f.now = f.now.Add(2 * time.Hour)
	ms, err := f.svc.ListMandates(ctx, "acct_1", false)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	byID := map[string]model.PaymentMandate{}
	for _, m := range ms {
		byID[m.ID] = m
	}
	assert.Equal(t, model.MandateExpired, byID[m1.ID].InactiveReason)
	// 已撤销的不会被改写成过期
	assert.Equal(t, model.MandateRevoked, byID[m2.ID].InactiveReason)

	stored, err := f.repo.GetMandate(ctx, "acct_1", m1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MandateInactive, stored.Status)

	_, err = f.svc.CapturePayment(ctx, "acct_2", false, CaptureRequest{Amount: d("1"), Currency: "USDC", MandateSecret: m1.Secret})
	assert.ErrorIs(t, err, errno.ErrMandateInactive)
	assert.Equal(t, string(model.MandateExpired), reasonOf(t, err))

	_, err = f.svc.GetMandate(ctx, "acct_1", "missing")
	assert.ErrorIs(t, err, errno.ErrMandateNotFound)
}

func TestSyncPaymentWithTransactions(t *testing.T) {
	f := newFixture(t, nil)
	p := &model.Payment{ID: "pay_1", AccountID: "acct_1", Status: model.PaymentStatusPending, Fees: []model.Fee{}}
	txs := []model.Transaction{
		{AccountID: "acct_1", PaymentID: "pay_1", Type: model.TransactionTypePayment, Status: model.TransactionStatusConfirmed},
		{AccountID: "acct_1", PaymentID: "pay_1", Type: model.TransactionTypeFee, Amount: d("-0.01"), Currency: "USDC"},
		{AccountID: "acct_1", PaymentID: "pay_1", Type: model.TransactionTypeFee, Amount: d("-0.01"), Currency: "USDC"},
		{AccountID: "acct_1", PaymentID: "pay_2", Type: model.TransactionTypeFee, Amount: d("-5"), Currency: "USDC"},
	}
	_, changed := f.svc.SyncPaymentWithTransactions(p, txs)
	assert.True(t, changed)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.Len(t, p.Fees, 1)

	_, changed = f.svc.SyncPaymentWithTransactions(p, txs)
	assert.False(t, changed)

	txs[0].Status = model.TransactionStatusCanceled
	f.svc.SyncPaymentWithTransactions(p, txs)
	assert.Equal(t, model.PaymentStatusFailed, p.Status)
	assert.Equal(t, FailureTransactionCanceled, p.FailureReason)

	x := &model.Payment{ID: "pay_1", AccountID: "acct_1", Protocol: &model.ProtocolMetadata{X402: true}, Fees: []model.Fee{}}
	f.svc.SyncPaymentWithTransactions(x, txs)
	assert.Empty(t, x.Fees)
}

func TestSyncCaptureWithPayment(t *testing.T) {
	f := newFixture(t, nil)
	p := &model.Payment{ID: "pay_1", Status: model.PaymentStatusFailed, FailureReason: FailureTransactionCanceled}
	c := &model.PaymentCapture{PaymentID: "pay_1", Status: model.CaptureStatusProcessing}
	_, changed := f.svc.SyncCaptureWithPayment(c, p)
	assert.True(t, changed)
	assert.Equal(t, model.CaptureStatusCancelled, c.Status)

	// 终态不再变化
	p.Status = model.PaymentStatusSucceeded
	_, changed = f.svc.SyncCaptureWithPayment(c, p)
	assert.False(t, changed)

	c = &model.PaymentCapture{PaymentID: "pay_1", Status: model.CaptureStatusProcessing}
	p.FailureReason = ""
	f.svc.SyncCaptureWithPayment(c, p)
	assert.Equal(t, model.CaptureStatusSucceeded, c.Status)

	other := &model.PaymentCapture{PaymentID: "pay_9", Status: model.CaptureStatusProcessing}
	_, changed = f.svc.SyncCaptureWithPayment(other, p)
	assert.False(t, changed)
}
