// Package syncer 把外部账本的交易同步回本地: 刷新 Location/Balance，合并交易，
// 再据此推进 Payment/Capture。后台 sweep 保证两阶段写入留下的账户在 SLA 内被同步。
package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/internal/service/merger"
	"payment-core/internal/service/payment"
	"payment-core/internal/service/reconciler"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
)

// DefaultRetryGrace queued 交易至少存在这么久才会被要求重发，避开正在执行中的付款
const DefaultRetryGrace = time.Minute

type Service struct {
	repo     *repository.Repository
	recon    *reconciler.Reconciler
	wallet   provider.WalletProvider
	payments *payment.Service
	events   *event.Publisher
	merger   *merger.Merger
	sla      time.Duration

	RetryGrace time.Duration
	now        func() time.Time
}

func NewService(repo *repository.Repository, recon *reconciler.Reconciler, wallet provider.WalletProvider, payments *payment.Service, events *event.Publisher, sla time.Duration) *Service {
	if sla <= 0 {
		sla = payment.DefaultReconcileSLA
	}
	return &Service{
		repo:       repo,
		recon:      recon,
		wallet:     wallet,
		payments:   payments,
		events:     events,
		merger:     merger.New(),
		sla:        sla,
		RetryGrace: DefaultRetryGrace,
		now:        time.Now,
	}
}

// WithClock 测试用
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.merger.Now = now
	return s
}

// Report 一次同步的结果
type Report struct {
	AccountID string   `json:"account_id"`
	Live      bool     `json:"live"`
	New       int      `json:"new"`
	Updated   int      `json:"updated"`
	Payments  int      `json:"payments"`
	RetryIDs  []string `json:"retry_ids,omitempty"`
	Pending   int      `json:"pending"`
}

// SyncAccount 同步一个账户 (一种 live 模式)。任意一个钱包查询失败整个同步失败，不做部分写入
func (s *Service) SyncAccount(ctx context.Context, accountID string, live bool) (*Report, error) {
	locs, err := s.recon.ListLocations(ctx, accountID, live)
	if err != nil {
		return nil, err
	}

	remote, err := s.fetchRemote(ctx, accountID, live, locs)
	if err != nil {
		return nil, err
	}
	local, err := s.repo.ListTransactions(ctx, accountID, live)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	res := s.merger.Merge(local, remote)
	updated := res.Updated()

	now := s.now().UTC()
	report := &Report{AccountID: accountID, Live: live, New: len(res.New), Updated: len(updated)}
	for _, tx := range res.Merged {
		if !tx.IsFinal() {
			report.Pending++
		}
	}
	retryIDs := s.retryable(res, now)

	err = s.repo.Atomic(ctx, func(w *repository.Writer) error {
		for i := range res.New {
			w.PutTransaction(&res.New[i])
		}
		for i := range updated {
			w.PutTransaction(&updated[i])
		}
		w.ClearReconcileDue(accountID, live)
		if report.Pending > 0 {
			// 还有没终结的交易，继续留在 sweep 里
			w.MarkReconcileDue(accountID, live, now.Add(s.sla))
		}
		return nil
	})
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}

	payments, err := s.payments.ApplyTransactions(ctx, accountID, live, res.Merged)
	if err != nil {
		return nil, err
	}
	report.Payments = len(payments)

	for _, currency := range reconciler.SupportedCurrencies {
		if _, err := s.recon.GetBalance(ctx, accountID, currency, live); err != nil {
			return nil, err
		}
	}

	if len(retryIDs) > 0 {
		report.RetryIDs = retryIDs
		s.events.PublishRetry(ctx, accountID, live, retryIDs)
	}
	logger.Info("account synced",
		zap.String("account_id", accountID),
		zap.Bool("live", live),
		zap.Int("new", report.New),
		zap.Int("updated", report.Updated),
		zap.Int("payments", report.Payments),
		zap.Int("retry", len(retryIDs)))
	return report, nil
}

// fetchRemote 并发查询每个钱包的外部交易，结果按 Location 顺序拼接
func (s *Service) fetchRemote(ctx context.Context, accountID string, live bool, locs []model.Location) ([]model.Transaction, error) {
	perLoc := make([][]model.Transaction, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range locs {
		loc := locs[i]
		g.Go(func() error {
			txs, err := s.wallet.ListTransactions(gctx, loc.Address, loc.Blockchain, live)
			if err != nil {
				return errno.ErrWalletProvider.WithMeta("blockchain", loc.Blockchain).Wrap(err)
			}
			for j := range txs {
				txs[j].AccountID = accountID
				txs[j].Live = live
				txs[j].LocationID = loc.ID
			}
			perLoc[i] = txs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []model.Transaction
	for _, txs := range perLoc {
		out = append(out, txs...)
	}
	return out, nil
}

func (s *Service) retryable(res merger.Result, now time.Time) []string {
	if len(res.RetryIDs) == 0 {
		return nil
	}
	byID := make(map[string]model.Transaction, len(res.Merged))
	for _, tx := range res.Merged {
		byID[tx.ID] = tx
	}
	var ids []string
	for _, id := range res.RetryIDs {
		if tx, ok := byID[id]; ok && now.Sub(tx.CreatedAt) >= s.RetryGrace {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Service) ListTransactions(ctx context.Context, accountID string, live bool) ([]model.Transaction, error) {
	txs, err := s.repo.ListTransactions(ctx, accountID, live)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	return txs, nil
}
