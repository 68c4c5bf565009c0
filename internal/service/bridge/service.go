// Package bridge 编排跨链转账 (目前只支持 USDC)。
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/internal/service/merger"
	"payment-core/internal/service/reconciler"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
)

const (
	Currency = "USDC"
	// retryLockTTL 服务商的内部轮询有上限，超过这个时间的重试标记视为残留
	retryLockTTL = 10 * time.Minute
)

type Request struct {
	Amount       decimal.Decimal
	Currency     string
	FromLocation string
	ToLocation   string
}

type Service struct {
	repo   *repository.Repository
	recon  *reconciler.Reconciler
	bridge provider.BridgeProvider
	merger *merger.Merger
	events *event.Publisher

	now   func() time.Time
	newID func() string
}

func NewService(repo *repository.Repository, recon *reconciler.Reconciler, bridge provider.BridgeProvider, events *event.Publisher) *Service {
	return &Service{
		repo:   repo,
		recon:  recon,
		bridge: bridge,
		merger: merger.New(),
		events: events,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock 测试用
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.merger.Now = now
	return s
}

// BridgeAmount 把 amount 从 fromLocation 跨链转到 toLocation。
// 来源钱包自己必须持有全部金额；转账记录与派生交易一次性原子写入
func (s *Service) BridgeAmount(ctx context.Context, accountID string, live bool, req Request) (*model.BridgeTransfer, error) {
	if req.Currency == "" {
		req.Currency = Currency
	}
	if req.Currency != Currency {
		return nil, errno.ErrUnsupportedCurrency.WithMeta("currency", req.Currency)
	}
	if !req.Amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}
	from, err := s.walletLocation(ctx, accountID, live, req.FromLocation)
	if err != nil {
		return nil, err
	}
	to, err := s.walletLocation(ctx, accountID, live, req.ToLocation)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID || from.Blockchain == to.Blockchain {
		return nil, errno.ErrInvalidLocation.WithMessage("bridge requires locations on different blockchains")
	}

	check, err := s.recon.HasBalanceInSingleLocation(ctx, accountID, live, req.Amount, req.Currency, from.Blockchain)
	if err != nil {
		return nil, err
	}
	if err := check.Err(true); err != nil {
		return nil, err
	}
	// 同一条链上可能选中了别的 Location，此时单独核对来源钱包
	if check.Location.ID != from.ID {
		ok, err := s.sourceHolds(ctx, accountID, live, from.ID, req.Currency, req.Amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errno.ErrInsufficientBalance.WithReason(errno.ReasonNotInSingleLocation)
		}
	}

	result, err := s.bridge.Bridge(ctx, provider.BridgeRequest{
		Live:   live,
		From:   provider.Endpoint{Blockchain: from.Blockchain, Address: from.Address},
		To:     provider.Endpoint{Blockchain: to.Blockchain, Address: to.Address},
		Amount: req.Amount,
	})
	if err != nil {
		logger.Error("bridge failed",
			zap.String("account_id", accountID),
			zap.String("from", from.Blockchain),
			zap.String("to", to.Blockchain),
			zap.Error(err))
		return nil, errno.ErrBridgeProvider.WithMeta("blockchain", from.Blockchain).Wrap(err)
	}

	now := s.now().UTC()
	transfer := &model.BridgeTransfer{
		ID:           s.newID(),
		AccountID:    accountID,
		Live:         live,
		Amount:       req.Amount,
		Currency:     req.Currency,
		FromLocation: from.ID,
		ToLocation:   to.ID,
		Status:       model.BridgeStatusRetrying,
		Attempts:     1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := applyResult(transfer, result, now); err != nil {
		return nil, err
	}
	txs := MapSteps(transfer, result, from, to)
	for i := range txs {
		txs[i].ID = s.newID()
	}

	err = s.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutBridgeTransfer(transfer)
		for i := range txs {
			w.PutTransaction(&txs[i])
		}
		return nil
	})
	if err != nil {
		logger.Error("persist bridge transfer failed", zap.String("account_id", accountID), zap.Error(err))
		return nil, errno.ErrStorage.Wrap(err)
	}
	s.finish(ctx, transfer)
	return transfer, nil
}

// RetryBridgeTransfer 只有 failed 的转账可以重试。
// 先落库 retrying 再调用服务商；派生交易经过合并，已有的步骤不会重复记账
func (s *Service) RetryBridgeTransfer(ctx context.Context, accountID, id string) (*model.BridgeTransfer, error) {
	transfer, err := s.GetBridgeTransfer(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if err := retryable(transfer); err != nil {
		return nil, err
	}
	ok, err := s.repo.AcquireBridgeRetry(ctx, accountID, id, retryLockTTL)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	if !ok {
		return nil, errno.ErrBridgeRetry.WithReason(errno.ReasonAlreadyRetrying)
	}
	defer func() {
		_ = s.repo.ReleaseBridgeRetry(context.WithoutCancel(ctx), accountID, id)
	}()

	// 拿到标记后重新读一次，排除刚刚完成的并发重试
	transfer, err = s.GetBridgeTransfer(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if err := retryable(transfer); err != nil {
		return nil, err
	}
	var previous provider.BridgeResult
	if err := json.Unmarshal(transfer.Raw, &previous); err != nil {
		return nil, errno.InternalServerError.WithMessage("corrupt bridge result").Wrap(err)
	}

	transfer.Status = model.BridgeStatusRetrying
	transfer.Attempts++
	transfer.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, transfer); err != nil {
		return nil, err
	}

	result, err := s.bridge.Retry(ctx, &previous)
	if err != nil {
		logger.Error("bridge retry failed", zap.String("bridge_transfer_id", id), zap.Error(err))
		transfer.Status = model.BridgeStatusFailed
		transfer.UpdatedAt = s.now().UTC()
		if serr := s.save(ctx, transfer); serr != nil {
			logger.Error("restore failed bridge status", zap.String("bridge_transfer_id", id), zap.Error(serr))
		}
		return nil, errno.ErrBridgeProvider.WithMeta("blockchain", previous.Source.Blockchain).Wrap(err)
	}

	from, err := s.repo.GetLocation(ctx, accountID, transfer.FromLocation)
	if err != nil {
		return nil, storageErr(err)
	}
	to, err := s.repo.GetLocation(ctx, accountID, transfer.ToLocation)
	if err != nil {
		return nil, storageErr(err)
	}

	now := s.now().UTC()
	transfer.UpdatedAt = now
	if err := applyResult(transfer, result, now); err != nil {
		return nil, err
	}

	all, err := s.repo.ListTransactions(ctx, accountID, transfer.Live)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	var local []model.Transaction
	for _, tx := range all {
		if tx.BridgeTransferID == transfer.ID {
			local = append(local, tx)
		}
	}
	merged := s.merger.Merge(local, MapSteps(transfer, result, from, to))
	updated := merged.Updated()

	err = s.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutBridgeTransfer(transfer)
		for i := range merged.New {
			w.PutTransaction(&merged.New[i])
		}
		for i := range updated {
			w.PutTransaction(&updated[i])
		}
		return nil
	})
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	logger.Info("bridge transfer retried",
		zap.String("bridge_transfer_id", id),
		zap.Int("attempts", transfer.Attempts),
		zap.Int("new_transactions", len(merged.New)))
	s.finish(ctx, transfer)
	return transfer, nil
}

func (s *Service) GetBridgeTransfer(ctx context.Context, accountID, id string) (*model.BridgeTransfer, error) {
	t, err := s.repo.GetBridgeTransfer(ctx, accountID, id)
	if repository.IsNotFound(err) {
		return nil, errno.ErrBridgeNotFound
	}
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	return t, nil
}

func (s *Service) ListBridgeTransfers(ctx context.Context, accountID string, live bool) ([]model.BridgeTransfer, error) {
	ts, err := s.repo.ListBridgeTransfers(ctx, accountID, live)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	return ts, nil
}

func (s *Service) walletLocation(ctx context.Context, accountID string, live bool, id string) (*model.Location, error) {
	loc, err := s.repo.GetLocation(ctx, accountID, id)
	if repository.IsNotFound(err) {
		return nil, errno.ErrLocationNotFound.WithMeta("location", id)
	}
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	if loc.Type != model.LocationTypeWallet || loc.Live != live {
		return nil, errno.ErrInvalidLocation.WithMeta("location", id)
	}
	return loc, nil
}

func (s *Service) save(ctx context.Context, t *model.BridgeTransfer) error {
	err := s.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutBridgeTransfer(t)
		return nil
	})
	if err != nil {
		return errno.ErrStorage.Wrap(err)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, t *model.BridgeTransfer) {
	monitor.Business.BridgeTransfersTotal.WithLabelValues(string(t.Status)).Inc()
	s.events.Publish(ctx, event.BridgeUpdated, t.AccountID, t.Live, t)
	logger.Info("bridge transfer updated",
		zap.String("bridge_transfer_id", t.ID),
		zap.String("status", string(t.Status)))
}

func retryable(t *model.BridgeTransfer) error {
	switch t.Status {
	case model.BridgeStatusSucceeded:
		return errno.ErrBridgeRetry.WithReason(errno.ReasonAlreadySucceeded)
	case model.BridgeStatusRetrying:
		return errno.ErrBridgeRetry.WithReason(errno.ReasonAlreadyRetrying)
	}
	return nil
}

func applyResult(t *model.BridgeTransfer, result *provider.BridgeResult, now time.Time) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return errno.InternalServerError.Wrap(err)
	}
	t.Raw = raw
	t.Status = StatusFor(result.State)
	if t.Status != model.BridgeStatusRetrying {
		t.FinishedAt = &now
	}
	return nil
}

func (s *Service) sourceHolds(ctx context.Context, accountID string, live bool, id, currency string, amount decimal.Decimal) (bool, error) {
	locs, err := s.recon.ListLocations(ctx, accountID, live, id)
	if err != nil {
		return false, err
	}
	if len(locs) == 0 {
		return false, nil
	}
	return !locs[0].AssetAmount(currency).LessThan(amount), nil
}

func storageErr(err error) error {
	if repository.IsNotFound(err) {
		return errno.ErrLocationNotFound
	}
	return errno.ErrStorage.Wrap(err)
}
