// Package reconciler 让缓存的 Location 资产与 Balance 汇总跟外部账本保持一致。
// Location 与 Balance 只由这里写入。
package reconciler

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"payment-core/internal/model"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
)

// SupportedCurrencies 新建钱包时为这些币种登记 holdings
var SupportedCurrencies = []string{"USDC", "EURC"}

type Reconciler struct {
	repo   *repository.Repository
	wallet provider.WalletProvider
	now    func() time.Time
	newID  func() string
}

func New(repo *repository.Repository, wallet provider.WalletProvider) *Reconciler {
	return &Reconciler{
		repo:   repo,
		wallet: wallet,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// ListLocations 读取缓存的 Location 并向外部账本并发刷新资产。
// ids 为空时返回账户全部 Location (账本顺序)，否则按 ids 的顺序返回。
// 任意一个 Location 查询失败则整体失败；只有资产发生变化的 Location 会被写回
func (r *Reconciler) ListLocations(ctx context.Context, accountID string, live bool, ids ...string) ([]model.Location, error) {
	var (
		locs []model.Location
		err  error
	)
	if len(ids) == 0 {
		locs, err = r.repo.ListLocations(ctx, accountID, live)
	} else {
		locs, err = r.repo.GetLocations(ctx, accountID, ids)
		if repository.IsNotFound(err) {
			return nil, errno.ErrLocationNotFound.Wrap(err)
		}
	}
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	if len(locs) == 0 {
		return locs, nil
	}

	for i := range locs {
		if locs[i].Live != live {
			return nil, errno.ErrInvalidLocation.WithMeta("location", locs[i].ID)
		}
	}

	fresh := make([][]model.Asset, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range locs {
		loc := locs[i]
		g.Go(func() error {
			assets, err := r.wallet.GetWalletBalances(gctx, loc.Address, loc.Blockchain, loc.Live)
			if err != nil {
				return errno.ErrWalletProvider.WithMeta("blockchain", loc.Blockchain).Wrap(err)
			}
			fresh[i] = normalize(assets)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("location refresh failed", zap.String("account_id", accountID), zap.Error(err))
		return nil, err
	}

	now := r.now().UTC()
	var changed []int
	for i := range locs {
		if model.SameAssets(locs[i].Assets, fresh[i]) {
			continue
		}
		locs[i].Assets = fresh[i]
		locs[i].UpdatedAt = now
		changed = append(changed, i)
	}
	if len(changed) == 0 {
		return locs, nil
	}

	err = r.repo.Atomic(ctx, func(w *repository.Writer) error {
		for _, i := range changed {
			w.PutLocation(&locs[i])
		}
		return nil
	})
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	monitor.Business.LocationWritesTotal.Add(float64(len(changed)))
	return locs, nil
}

func normalize(assets []model.Asset) []model.Asset {
	out := make([]model.Asset, 0, len(assets))
	for _, a := range assets {
		out = append(out, model.Asset{Currency: a.Currency, Amount: a.Amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// GetBalance 返回 (nil, nil) 表示该币种还没有 Balance；不会创建任何数据
func (r *Reconciler) GetBalance(ctx context.Context, accountID, currency string, live bool) (*model.Balance, error) {
	bal, _, err := r.reconcileBalance(ctx, accountID, currency, live)
	return bal, err
}

func (r *Reconciler) reconcileBalance(ctx context.Context, accountID, currency string, live bool) (*model.Balance, []model.Location, error) {
	bal, err := r.repo.GetBalance(ctx, accountID, live, currency)
	if repository.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errno.ErrStorage.Wrap(err)
	}

	var locs []model.Location
	if len(bal.Holdings) > 0 {
		locs, err = r.ListLocations(ctx, accountID, live, bal.Holdings...)
		if err != nil {
			return nil, nil, err
		}
	}
	sum := decimal.Zero
	for i := range locs {
		sum = sum.Add(locs[i].AssetAmount(currency))
	}
	if sum.Equal(bal.Amount) {
		return bal, locs, nil
	}

	bal.Amount = sum
	bal.UpdatedAt = r.now().UTC()
	err = r.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutBalance(bal)
		return nil
	})
	if err != nil {
		return nil, nil, errno.ErrStorage.Wrap(err)
	}
	return bal, locs, nil
}

// SingleLocationResult 能否不经跨链、从单个 Location 付出 amount
type SingleLocationResult struct {
	HasBalance            bool
	InSingleLocation      bool
	InPreferredBlockchain bool
	// Location 满足条件的单个 Location
	Location *model.Location
	// Locations 余额分散时持有该币种的 Location
	Locations []model.Location
	Total     decimal.Decimal
}

// Err 转换成带 reason 的余额不足错误；需要在首选链上时传 requirePreferred
func (s *SingleLocationResult) Err(requirePreferred bool) error {
	switch {
	case !s.HasBalance:
		return errno.ErrInsufficientBalance.WithReason(errno.ReasonNoBalance)
	case !s.InSingleLocation:
		return errno.ErrInsufficientBalance.WithReason(errno.ReasonNotInSingleLocation)
	case requirePreferred && !s.InPreferredBlockchain:
		return errno.ErrInsufficientBalance.WithReason(errno.ReasonNotInPreferredNetwork)
	}
	return nil
}

// HasBalanceInSingleLocation 付款只从一个 Location 发出，不会自动拆分。
// 多个 Location 都满足时优先 preferredBlockchain，否则取账本顺序的第一个
func (r *Reconciler) HasBalanceInSingleLocation(ctx context.Context, accountID string, live bool, amount decimal.Decimal, currency, preferredBlockchain string) (*SingleLocationResult, error) {
	bal, locs, err := r.reconcileBalance(ctx, accountID, currency, live)
	if err != nil {
		return nil, err
	}
	res := &SingleLocationResult{Total: decimal.Zero}
	if bal == nil {
		return res, nil
	}
	res.Total = bal.Amount
	if bal.Amount.LessThan(amount) {
		return res, nil
	}
	res.HasBalance = true

	var first, preferred *model.Location
	for i := range locs {
		held := locs[i].AssetAmount(currency)
		if held.IsPositive() {
			res.Locations = append(res.Locations, locs[i])
		}
		if held.LessThan(amount) {
			continue
		}
		if first == nil {
			first = &locs[i]
		}
		if preferred == nil && preferredBlockchain != "" && locs[i].Blockchain == preferredBlockchain {
			preferred = &locs[i]
		}
	}
	if first == nil {
		return res, nil
	}
	res.InSingleLocation = true
	res.Locations = nil
	switch {
	case preferred != nil:
		res.Location = preferred
		res.InPreferredBlockchain = true
	default:
		res.Location = first
		res.InPreferredBlockchain = preferredBlockchain == ""
	}
	return res, nil
}

// EnsureLocation 返回账户在该链上的钱包，没有时通过钱包服务商创建，
// 并登记到各币种 Balance 的 holdings 中
func (r *Reconciler) EnsureLocation(ctx context.Context, accountID string, live bool, blockchain string) (*model.Location, error) {
	locs, err := r.repo.ListLocations(ctx, accountID, live)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	for i := range locs {
		if locs[i].Blockchain == blockchain && locs[i].Type == model.LocationTypeWallet {
			return &locs[i], nil
		}
	}

	address, err := r.wallet.CreateWallet(ctx, blockchain, live)
	if err != nil {
		return nil, errno.ErrWalletProvider.WithMeta("blockchain", blockchain).Wrap(err)
	}
	now := r.now().UTC()
	loc := &model.Location{
		ID:         r.newID(),
		AccountID:  accountID,
		Live:       live,
		Type:       model.LocationTypeWallet,
		Blockchain: blockchain,
		Address:    address,
		Assets:     []model.Asset{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	balances := make([]*model.Balance, 0, len(SupportedCurrencies))
	for _, currency := range SupportedCurrencies {
		bal, err := r.repo.GetBalance(ctx, accountID, live, currency)
		if repository.IsNotFound(err) {
			bal = &model.Balance{
				ID:        r.newID(),
				AccountID: accountID,
				Live:      live,
				Currency:  currency,
				Amount:    decimal.Zero,
			}
		} else if err != nil {
			return nil, errno.ErrStorage.Wrap(err)
		}
		if !bal.HasHolding(loc.ID) {
			bal.Holdings = append(bal.Holdings, loc.ID)
		}
		bal.UpdatedAt = now
		balances = append(balances, bal)
	}

	err = r.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutLocation(loc)
		for _, b := range balances {
			w.PutBalance(b)
		}
		return nil
	})
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	logger.Info("location created",
		zap.String("account_id", accountID),
		zap.String("location_id", loc.ID),
		zap.String("blockchain", blockchain))
	return loc, nil
}
