package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/repository"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
	"payment-core/pkg/safe_random"
)

// SecretLength mandate secret 的长度
const SecretLength = 128

type DelegateRequest struct {
	Type       model.MandateType
	Limit      model.Limit
	Method     model.PaymentMethodType
	OnBehalfOf string
	ExpiresAt  *time.Time
}

type CaptureRequest struct {
	Amount        decimal.Decimal
	Currency      string
	MandateSecret string
}

// DelegatePayment 签发一个委托授权。
// 余额检查只是签发时刻的偿付能力检查，不冻结资金
func (s *Service) DelegatePayment(ctx context.Context, accountID string, live bool, req DelegateRequest) (*model.PaymentMandate, error) {
	now := s.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, errno.ErrExpiresAtInPast
	}
	if req.Method != model.PaymentMethodArcPay {
		return nil, errno.ErrUnsupportedMethod.WithMeta("method", string(req.Method))
	}
	if err := validateAmount(req.Limit.Amount, req.Limit.Currency); err != nil {
		return nil, err
	}
	switch req.Type {
	case "":
		req.Type = model.MandateSingleUse
	case model.MandateSingleUse, model.MandateMultiUse:
	default:
		return nil, errno.ErrBind.WithMessage("unknown mandate type " + string(req.Type))
	}

	bal, err := s.recon.GetBalance(ctx, accountID, req.Limit.Currency, live)
	if err != nil {
		return nil, err
	}
	if bal == nil || bal.Amount.LessThan(req.Limit.Amount) {
		return nil, errno.ErrInsufficientBalance.WithReason(errno.ReasonNoBalance)
	}

	secret, err := safe_random.GenerateRandomString(SecretLength, safe_random.Alphanumeric)
	if err != nil {
		return nil, errno.InternalServerError.Wrap(err)
	}
	m := &model.PaymentMandate{
		ID:         s.newID(),
		AccountID:  accountID,
		Live:       live,
		Type:       req.Type,
		Status:     model.MandateActive,
		Secret:     secret,
		OnBehalfOf: req.OnBehalfOf,
		Limit:      req.Limit,
		Method:     req.Method,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutMandate(m)
		return nil
	})
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	logger.Info("mandate issued",
		zap.String("account_id", accountID),
		zap.String("mandate_id", m.ID),
		zap.String("type", string(m.Type)))
	return m, nil
}

// CapturePayment 收款方凭 secret 以授权方身份发起付款。
// 付款失败时统一返回不透明的 ErrPaymentCapture，避免向收款方泄露授权方的余额等信息
func (s *Service) CapturePayment(ctx context.Context, accountID string, live bool, req CaptureRequest) (*model.PaymentCapture, error) {
	if err := validateAmount(req.Amount, req.Currency); err != nil {
		return nil, err
	}
	m, err := s.repo.FindMandateBySecret(ctx, req.MandateSecret)
	if repository.IsNotFound(err) {
		return nil, errno.ErrMandateNotFound
	}
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	if m.Live != live {
		return nil, errno.ErrMandateNotFound
	}
	if _, err := s.expireIfDue(ctx, m); err != nil {
		return nil, err
	}
	if m.Status != model.MandateActive {
		return nil, errno.ErrMandateInactive.WithReason(string(m.InactiveReason))
	}
	// 单次扣款语义: 每次只比对金额/币种与额度，不累计
	if m.Limit.Currency != req.Currency || req.Amount.GreaterThan(m.Limit.Amount) {
		return nil, errno.ErrMandateMismatch
	}

	singleUse := m.Type == model.MandateSingleUse
	if singleUse {
		claimed, err := s.repo.ClaimMandate(ctx, m.AccountID, m.ID)
		if err != nil {
			return nil, errno.ErrStorage.Wrap(err)
		}
		if !claimed {
			return nil, errno.ErrMandateInactive.WithReason(string(model.MandateUsed))
		}
	}

	res, persisted, err := s.pay(ctx, m.AccountID, live, PayRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		Method:        model.PaymentMethod{Type: model.PaymentMethodArcPay, AccountID: accountID},
		Trigger:       model.PaymentTrigger{Type: model.TriggerMandate, MandateID: m.ID},
		Authorization: model.Authorization{Type: model.AuthorizationMandate, MandateID: m.ID},
	})
	if err == nil && res.Capture == nil {
		err = errno.InternalServerError.WithMessage("payment produced no capture")
	}
	if err != nil {
		logger.Warn("mandate capture failed",
			zap.String("mandate_id", m.ID),
			zap.String("receiver", accountID),
			zap.Error(err))
		monitor.Business.CapturesTotal.WithLabelValues("failed").Inc()
		if singleUse {
			if persisted {
				// queued 交易之后仍可能被重发，授权视为已用
				s.markUsed(context.WithoutCancel(ctx), m)
			} else {
				_ = s.repo.ReleaseMandateClaim(context.WithoutCancel(ctx), m.AccountID, m.ID)
			}
		}
		return nil, errno.ErrPaymentCapture
	}

	if singleUse {
		s.markUsed(ctx, m)
	}
	monitor.Business.CapturesTotal.WithLabelValues("succeeded").Inc()
	return res.Capture, nil
}

func (s *Service) markUsed(ctx context.Context, m *model.PaymentMandate) {
	if !m.Deactivate(model.MandateUsed, s.now().UTC()) {
		return
	}
	if err := s.saveMandate(ctx, m); err != nil {
		// 占用标记仍然阻止再次扣款
		logger.Error("mark mandate used failed", zap.String("mandate_id", m.ID), zap.Error(err))
	}
}

// RevokeMandate 只能撤销 active 的授权
func (s *Service) RevokeMandate(ctx context.Context, accountID, id string) (*model.PaymentMandate, error) {
	m, err := s.GetMandate(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if !m.Deactivate(model.MandateRevoked, s.now().UTC()) {
		return nil, errno.ErrMandateInactive.WithReason(string(m.InactiveReason))
	}
	if err := s.saveMandate(ctx, m); err != nil {
		return nil, err
	}
	logger.Info("mandate revoked", zap.String("account_id", accountID), zap.String("mandate_id", id))
	return m, nil
}

// GetMandate 读取时发现已过期会顺带落库为 inactive(expired)
func (s *Service) GetMandate(ctx context.Context, accountID, id string) (*model.PaymentMandate, error) {
	m, err := s.repo.GetMandate(ctx, accountID, id)
	if repository.IsNotFound(err) {
		return nil, errno.ErrMandateNotFound
	}
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	if _, err := s.expireIfDue(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListMandates(ctx context.Context, accountID string, live bool) ([]model.PaymentMandate, error) {
	ms, err := s.repo.ListMandates(ctx, accountID, live)
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	now := s.now().UTC()
	var expired []*model.PaymentMandate
	for i := range ms {
		if ms[i].Status == model.MandateActive && ms[i].IsExpired(now) {
			ms[i].Deactivate(model.MandateExpired, now)
			expired = append(expired, &ms[i])
		}
	}
	if len(expired) == 0 {
		return ms, nil
	}
	err = s.repo.Atomic(ctx, func(w *repository.Writer) error {
		for _, m := range expired {
			w.PutMandate(m)
		}
		return nil
	})
	if err != nil {
		return nil, errno.ErrStorage.Wrap(err)
	}
	for _, m := range expired {
		s.events.Publish(ctx, event.MandateUpdated, accountID, live, redacted(m))
	}
	return ms, nil
}

func (s *Service) expireIfDue(ctx context.Context, m *model.PaymentMandate) (bool, error) {
	now := s.now().UTC()
	if m.Status != model.MandateActive || !m.IsExpired(now) {
		return false, nil
	}
	m.Deactivate(model.MandateExpired, now)
	if err := s.saveMandate(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) saveMandate(ctx context.Context, m *model.PaymentMandate) error {
	err := s.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutMandate(m)
		return nil
	})
	if err != nil {
		return errno.ErrStorage.Wrap(err)
	}
	s.events.Publish(ctx, event.MandateUpdated, m.AccountID, m.Live, redacted(m))
	return nil
}

// redacted 事件里不带 secret
func redacted(m *model.PaymentMandate) model.PaymentMandate {
	c := *m
	c.Secret = ""
	return c
}
