// Package account 处理账户级别的运维操作
package account

import (
	"context"

	"go.uber.org/zap"

	"payment-core/internal/model"
	"payment-core/internal/repository"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
)

type Service struct {
	repo *repository.Repository
}

func NewService(repo *repository.Repository) *Service {
	return &Service{repo: repo}
}

// Erase 删除账户的全部数据。
// 全局索引 (地址、mandate secret、对账登记) 不在账户前缀下，先单独删除，再按前缀扫描删除
func (s *Service) Erase(ctx context.Context, accountID string) (int, error) {
	if accountID == "" {
		return 0, errno.ErrAccountRequired
	}
	if !model.ValidAccountID(accountID) {
		return 0, errno.ErrInvalidAccountID
	}
	err := s.repo.Atomic(ctx, func(w *repository.Writer) error {
		for _, live := range []bool{false, true} {
			locs, err := s.repo.ListLocations(ctx, accountID, live)
			if err != nil {
				return err
			}
			for _, l := range locs {
				w.DeleteAddressIndex(l.Blockchain, l.Address)
			}
			mandates, err := s.repo.ListMandates(ctx, accountID, live)
			if err != nil {
				return err
			}
			for _, m := range mandates {
				w.DeleteMandateSecret(m.Secret)
			}
			w.ClearReconcileDue(accountID, live)
		}
		return nil
	})
	if err != nil {
		return 0, errno.ErrStorage.Wrap(err)
	}

	n, err := s.repo.EraseAccount(ctx, accountID)
	if err != nil {
		return n, errno.ErrStorage.Wrap(err)
	}
	logger.Info("account erased", zap.String("account_id", accountID), zap.Int("keys", n))
	return n, nil
}
