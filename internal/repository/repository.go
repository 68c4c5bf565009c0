// Package repository 在 store 之上提供带类型的读写。
// 读操作直接访问 store；写操作统一经过 Atomic，保证多实体写入全有或全无。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-core/internal/model"
	"payment-core/internal/store"
	"payment-core/pkg/crypto_util"
)

var ErrNotFound = store.ErrNotFound

type Repository struct {
	store store.Store
}

func New(s store.Store) *Repository {
	return &Repository{store: s}
}

func (r *Repository) Store() store.Store {
	return r.store
}

func getJSON[T any](ctx context.Context, s store.Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func mgetJSON[T any](ctx context.Context, s store.Store, keys []string, strict bool) ([]T, error) {
	raws, err := s.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			if strict {
				return nil, fmt.Errorf("%s: %w", keys[i], ErrNotFound)
			}
			// 索引里残留的成员 (例如账户删除的中间态)，跳过
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, v)
	}
	return out, nil
}

// listIndexed 读有序索引 (最新在前) 再批量取文档
func listIndexed[T any](ctx context.Context, s store.Store, indexKey string, docKey func(id string) string) ([]T, error) {
	ids, err := s.RangeByScore(ctx, indexKey, store.MinScore, store.MaxScore, true)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}
	return mgetJSON[T](ctx, s, keys, false)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// ---- Locations / Balances ----

func (r *Repository) GetLocation(ctx context.Context, accountID, id string) (*model.Location, error) {
	return getJSON[model.Location](ctx, r.store, locationKey(accountID, id))
}

// GetLocations 按给定顺序返回；任意一个不存在即报错
func (r *Repository) GetLocations(ctx context.Context, accountID string, ids []string) ([]model.Location, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = locationKey(accountID, id)
	}
	return mgetJSON[model.Location](ctx, r.store, keys, true)
}

// ListLocations 按创建时间正序 (账本顺序)
func (r *Repository) ListLocations(ctx context.Context, accountID string, live bool) ([]model.Location, error) {
	locs, err := listIndexed[model.Location](ctx, r.store, locationIndexKey(accountID, live), func(id string) string {
		return locationKey(accountID, id)
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(locs)-1; i < j; i, j = i+1, j-1 {
		locs[i], locs[j] = locs[j], locs[i]
	}
	return locs, nil
}

// FindLocationByAddress 通过链上地址找到平台内的钱包
func (r *Repository) FindLocationByAddress(ctx context.Context, blockchain, address string) (*model.Location, error) {
	ref, err := getJSON[AccountRef](ctx, r.store, addressIndexKey(blockchain, address))
	if err != nil {
		return nil, err
	}
	return r.GetLocation(ctx, ref.AccountID, ref.ID)
}

func (r *Repository) GetBalance(ctx context.Context, accountID string, live bool, currency string) (*model.Balance, error) {
	return getJSON[model.Balance](ctx, r.store, balanceKey(accountID, live, currency))
}

// ---- Transactions ----

func (r *Repository) GetTransaction(ctx context.Context, accountID, id string) (*model.Transaction, error) {
	return getJSON[model.Transaction](ctx, r.store, transactionKey(accountID, id))
}

// ListTransactions 最新在前
func (r *Repository) ListTransactions(ctx context.Context, accountID string, live bool) ([]model.Transaction, error) {
	return listIndexed[model.Transaction](ctx, r.store, transactionIndexKey(accountID, live), func(id string) string {
		return transactionKey(accountID, id)
	})
}

// ---- Payments / Captures / Mandates ----

func (r *Repository) GetPayment(ctx context.Context, accountID, id string) (*model.Payment, error) {
	return getJSON[model.Payment](ctx, r.store, paymentKey(accountID, id))
}

func (r *Repository) ListPayments(ctx context.Context, accountID string, live bool) ([]model.Payment, error) {
	return listIndexed[model.Payment](ctx, r.store, paymentIndexKey(accountID, live), func(id string) string {
		return paymentKey(accountID, id)
	})
}

func (r *Repository) GetCapture(ctx context.Context, accountID, id string) (*model.PaymentCapture, error) {
	return getJSON[model.PaymentCapture](ctx, r.store, captureKey(accountID, id))
}

func (r *Repository) ListCaptures(ctx context.Context, accountID string, live bool) ([]model.PaymentCapture, error) {
	return listIndexed[model.PaymentCapture](ctx, r.store, captureIndexKey(accountID, live), func(id string) string {
		return captureKey(accountID, id)
	})
}

func (r *Repository) GetMandate(ctx context.Context, accountID, id string) (*model.PaymentMandate, error) {
	return getJSON[model.PaymentMandate](ctx, r.store, mandateKey(accountID, id))
}

func (r *Repository) ListMandates(ctx context.Context, accountID string, live bool) ([]model.PaymentMandate, error) {
	return listIndexed[model.PaymentMandate](ctx, r.store, mandateIndexKey(accountID, live), func(id string) string {
		return mandateKey(accountID, id)
	})
}

// FindMandateBySecret 经由 blake3(secret) 索引定位
func (r *Repository) FindMandateBySecret(ctx context.Context, secret string) (*model.PaymentMandate, error) {
	ref, err := getJSON[AccountRef](ctx, r.store, mandateSecretKey(crypto_util.CalculateBlake3([]byte(secret))))
	if err != nil {
		return nil, err
	}
	m, err := r.GetMandate(ctx, ref.AccountID, ref.ID)
	if err != nil {
		return nil, err
	}
	// 哈希碰撞理论上不可能，这里仍然核对原文
	if m.Secret != secret {
		return nil, ErrNotFound
	}
	return m, nil
}

// ClaimMandate 单次授权在扣款前先占用，并发的第二次扣款拿不到
func (r *Repository) ClaimMandate(ctx context.Context, accountID, id string) (bool, error) {
	return r.store.SetNX(ctx, mandateClaimKey(accountID, id), []byte("1"), 0)
}

func (r *Repository) ReleaseMandateClaim(ctx context.Context, accountID, id string) error {
	return r.store.Delete(ctx, mandateClaimKey(accountID, id))
}

// ---- Bridge ----

func (r *Repository) GetBridgeTransfer(ctx context.Context, accountID, id string) (*model.BridgeTransfer, error) {
	return getJSON[model.BridgeTransfer](ctx, r.store, bridgeKey(accountID, id))
}

func (r *Repository) ListBridgeTransfers(ctx context.Context, accountID string, live bool) ([]model.BridgeTransfer, error) {
	return listIndexed[model.BridgeTransfer](ctx, r.store, bridgeIndexKey(accountID, live), func(id string) string {
		return bridgeKey(accountID, id)
	})
}

// AcquireBridgeRetry 同一笔跨链转账同时只允许一次重试
func (r *Repository) AcquireBridgeRetry(ctx context.Context, accountID, id string, ttl time.Duration) (bool, error) {
	return r.store.SetNX(ctx, bridgeRetryLockKey(accountID, id), []byte("1"), ttl)
}

func (r *Repository) ReleaseBridgeRetry(ctx context.Context, accountID, id string) error {
	return r.store.Delete(ctx, bridgeRetryLockKey(accountID, id))
}

// ---- Idempotency ----

func (r *Repository) GetIdempotentCall(ctx context.Context, accountID, key string) (*model.IdempotentCall, error) {
	return getJSON[model.IdempotentCall](ctx, r.store, idempotencyKey(accountID, key))
}

// AcquireIdempotencyLock 标记 key 正在处理中
func (r *Repository) AcquireIdempotencyLock(ctx context.Context, accountID, key string, ttl time.Duration) (bool, error) {
	return r.store.SetNX(ctx, idempotencyLockKey(accountID, key), []byte("1"), ttl)
}

func (r *Repository) ReleaseIdempotencyLock(ctx context.Context, accountID, key string) error {
	return r.store.Delete(ctx, idempotencyLockKey(accountID, key))
}

// ---- Reconcile due ----

// DueAccounts 返回对账截止时间 <= now 的账户
func (r *Repository) DueAccounts(ctx context.Context, now time.Time) ([]AccountRef, error) {
	members, err := r.store.RangeByScore(ctx, reconcileDueKey, store.MinScore, score(now), false)
	if err != nil {
		return nil, err
	}
	refs := make([]AccountRef, 0, len(members))
	for _, m := range members {
		if ref, ok := parseMember(m); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// EraseAccount 删除账户前缀下的全部数据
func (r *Repository) EraseAccount(ctx context.Context, accountID string) (int, error) {
	if !model.ValidAccountID(accountID) {
		return 0, fmt.Errorf("erase account: invalid account id %q", accountID)
	}
	return r.store.ScanDelete(ctx, AccountPattern(accountID))
}

// IsNotFound 兼容 store 与 repository 两层的 not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
