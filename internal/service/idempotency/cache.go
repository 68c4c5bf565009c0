// Package idempotency 按 (账户, Idempotency-Key) 对变更类请求去重。
//
// 一个 key 的生命周期:
//
//	Begin  → 没有记录: 写入处理中标记 (SETNX)，返回 proceed
//	       → 有记录且 checksum 相同: 原样回放 (失败的响应同样回放)
//	       → 有记录但 checksum 不同: request changed
//	Commit → 在同一个原子批次里写入记录 (24h) 并删除处理中标记
//
// 处理中标记存在期间同一个 key 的请求直接拒绝，因此记录一定先于 key 的再次使用落库。
package idempotency

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"payment-core/internal/model"
	"payment-core/internal/repository"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
)

const (
	HeaderKey              = "Idempotency-Key"
	HeaderExpiresAt        = "Idempotency-Expires-At"
	HeaderRemainingSeconds = "Idempotency-Remaining-Seconds"

	DefaultTTL     = 24 * time.Hour
	DefaultLockTTL = 30 * time.Second
)

// Request checksum 的输入
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Decision Begin 的结果。Replay 非空时直接回放，不执行业务逻辑
type Decision struct {
	Key       string
	Checksum  string
	Replay    *model.CachedResponse
	ExpiresAt time.Time
	Remaining time.Duration
}

// ReplayHeaders 回放时附加的元数据
func (d *Decision) ReplayHeaders() map[string]string {
	return map[string]string{
		HeaderKey:              d.Key,
		HeaderExpiresAt:        d.ExpiresAt.UTC().Format(time.RFC3339),
		HeaderRemainingSeconds: strconv.FormatInt(int64(d.Remaining/time.Second), 10),
	}
}

type Cache struct {
	repo    *repository.Repository
	ttl     time.Duration
	lockTTL time.Duration
	now     func() time.Time
}

func New(repo *repository.Repository, ttl, lockTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Cache{repo: repo, ttl: ttl, lockTTL: lockTTL, now: time.Now}
}

// WithClock 测试用
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Begin(ctx context.Context, accountID, clientKey string, req Request) (*Decision, error) {
	if accountID == "" {
		return nil, errno.ErrAccountRequired
	}
	key, err := ResolveKey(clientKey)
	if err != nil {
		return nil, err
	}
	d := &Decision{Key: key, Checksum: Checksum(req.Method, req.URL, req.Header, req.Body)}

	done, err := c.lookup(ctx, accountID, d)
	if err != nil {
		return nil, err
	}
	if done {
		return d, nil
	}

	acquired, err := c.repo.AcquireIdempotencyLock(ctx, accountID, key, c.lockTTL)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	if !acquired {
		monitor.Business.IdempotencyConflictsTotal.WithLabelValues("in_progress").Inc()
		return nil, errno.ErrIdempotencyInProgress
	}

	// 拿锁前的一瞬间别的请求可能刚好提交完成 (提交会同时删掉锁)，再查一次
	done, err = c.lookup(ctx, accountID, d)
	if err != nil || done {
		_ = c.repo.ReleaseIdempotencyLock(ctx, accountID, key)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// lookup 找到未过期的记录时返回 true
func (c *Cache) lookup(ctx context.Context, accountID string, d *Decision) (bool, error) {
	rec, err := c.repo.GetIdempotentCall(ctx, accountID, d.Key)
	if repository.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errno.ErrStorage.Wrap(err)
	}
	now := c.now()
	// 过期的记录当作不存在，哪怕 TTL 删除还没发生
	if !now.Before(rec.ExpiresAt) {
		return false, nil
	}
	if rec.Checksum != d.Checksum {
		monitor.Business.IdempotencyConflictsTotal.WithLabelValues("request_changed").Inc()
		return true, errno.ErrIdempotencyRequestChanged
	}
	resp := rec.Response
	d.Replay = &resp
	d.ExpiresAt = rec.ExpiresAt
	d.Remaining = rec.ExpiresAt.Sub(now)
	monitor.Business.IdempotencyReplaysTotal.Inc()
	return true, nil
}

// Commit 成功与失败的响应都要提交
func (c *Cache) Commit(ctx context.Context, accountID string, d *Decision, resp model.CachedResponse) error {
	now := c.now().UTC()
	rec := &model.IdempotentCall{
		AccountID: accountID,
		Key:       d.Key,
		Checksum:  d.Checksum,
		Response:  resp,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	err := c.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutIdempotentCall(rec, c.ttl)
		return nil
	})
	if err != nil {
		return errno.ErrStorage.Wrap(err)
	}
	return nil
}

// CommitAsync 响应已经发出之后再落库；返回的 channel 在写入结束后收到结果
func (c *Cache) CommitAsync(ctx context.Context, accountID string, d *Decision, resp model.CachedResponse) <-chan error {
	done := make(chan error, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		err := c.Commit(ctx, accountID, d, resp)
		if err != nil {
			logger.Error("idempotency commit failed",
				zap.String("account_id", accountID),
				zap.String("key", d.Key),
				zap.Error(err))
			// 写不进去就放开 key，让客户端可以重试
			_ = c.repo.ReleaseIdempotencyLock(ctx, accountID, d.Key)
		}
		done <- err
		close(done)
	}()
	return done
}

// Abort 处理过程中断 (panic、客户端断开) 且没有可缓存的响应时释放 key
func (c *Cache) Abort(ctx context.Context, accountID string, d *Decision) error {
	return c.repo.ReleaseIdempotencyLock(context.WithoutCancel(ctx), accountID, d.Key)
}
