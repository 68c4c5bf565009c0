// Package payment 负责付款、委托授权 (mandate) 与收款 (capture) 的生命周期。
// PaymentMandate / PaymentCapture 的状态只由这里写入。
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/internal/service/reconciler"
	"payment-core/pkg/errno"
)

// DefaultReconcileSLA 两阶段写入后最迟多久由后台对账收尾
const DefaultReconcileSLA = 5 * time.Minute

type Service struct {
	repo   *repository.Repository
	recon  *reconciler.Reconciler
	wallet provider.WalletProvider
	events *event.Publisher
	sla    time.Duration

	now   func() time.Time
	newID func() string
}

func NewService(repo *repository.Repository, recon *reconciler.Reconciler, wallet provider.WalletProvider, events *event.Publisher, sla time.Duration) *Service {
	if sla <= 0 {
		sla = DefaultReconcileSLA
	}
	return &Service{
		repo:   repo,
		recon:  recon,
		wallet: wallet,
		events: events,
		sla:    sla,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock 测试用
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func validateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return errno.ErrInvalidAmount
	}
	for _, c := range reconciler.SupportedCurrencies {
		if c == currency {
			return nil
		}
	}
	return errno.ErrUnsupportedCurrency.WithMeta("currency", currency)
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errno.As(err); ok {
		return err
	}
	return errno.ErrStorage.Wrap(err)
}

// ---- 查询 ----

func (s *Service) GetPayment(ctx context.Context, accountID, id string) (*model.Payment, error) {
	p, err := s.repo.GetPayment(ctx, accountID, id)
	if repository.IsNotFound(err) {
		return nil, errno.ErrPaymentNotFound
	}
	return p, storageErr(err)
}

func (s *Service) ListPayments(ctx context.Context, accountID string, live bool) ([]model.Payment, error) {
	ps, err := s.repo.ListPayments(ctx, accountID, live)
	return ps, storageErr(err)
}

func (s *Service) GetCapture(ctx context.Context, accountID, id string) (*model.PaymentCapture, error) {
	c, err := s.repo.GetCapture(ctx, accountID, id)
	if repository.IsNotFound(err) {
		return nil, errno.ErrCaptureNotFound
	}
	return c, storageErr(err)
}

func (s *Service) ListCaptures(ctx context.Context, accountID string, live bool) ([]model.PaymentCapture, error) {
	cs, err := s.repo.ListCaptures(ctx, accountID, live)
	return cs, storageErr(err)
}
