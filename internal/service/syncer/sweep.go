package syncer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
	"payment-core/pkg/utils/lock"
)

const sweepLockKey = "cron:lock:reconcile_sweep"

// Sweeper 定时同步对账截止时间已到的账户
type Sweeper struct {
	svc     *Service
	cron    *cron.Cron
	spec    string
	locker  lock.DistributedLock
	lockTTL time.Duration
}

// NewSweeper locker 为 nil 时不加锁 (单实例/内存模式)
func NewSweeper(svc *Service, locker lock.DistributedLock, spec string, lockTTL time.Duration) *Sweeper {
	if spec == "" {
		spec = "@every 1m"
	}
	if lockTTL <= 0 {
		lockTTL = 50 * time.Second
	}
	return &Sweeper{
		svc:     svc,
		cron:    cron.New(),
		spec:    spec,
		locker:  locker,
		lockTTL: lockTTL,
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("reconcile sweeper started", zap.String("spec", s.spec))
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("reconcile sweeper stopped")
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
	defer cancel()

	// 多实例部署时只有一个实例执行
	if s.locker != nil {
		locked, err := s.locker.Acquire(ctx, sweepLockKey, s.lockTTL)
		if err != nil || !locked {
			logger.Debug("sweep skipped: lock held by another instance", zap.Error(err))
			return
		}
		defer func() {
			_ = s.locker.Release(context.Background(), sweepLockKey)
		}()
	}
	if _, err := s.Sweep(ctx); err != nil {
		logger.Error("sweep failed", zap.Error(err))
	}
}

// Sweep 同步所有到期账户，单个账户失败不影响其他账户 (它仍然留在到期列表里)。
// 返回成功同步的账户数
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		monitor.Business.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	due, err := s.svc.repo.DueAccounts(ctx, s.svc.now().UTC())
	if err != nil {
		return 0, err
	}
	synced := 0
	for _, ref := range due {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if _, err := s.svc.SyncAccount(ctx, ref.AccountID, ref.Live); err != nil {
			logger.Warn("sync due account failed",
				zap.String("account_id", ref.AccountID),
				zap.Bool("live", ref.Live),
				zap.Error(err))
			continue
		}
		synced++
	}
	if len(due) > 0 {
		logger.Info("sweep finished", zap.Int("due", len(due)), zap.Int("synced", synced))
	}
	return synced, nil
}
