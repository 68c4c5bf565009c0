package payment

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/event"
	"payment-core/internal/model"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"
	"payment-core/pkg/monitor"
)

type PayRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Method        model.PaymentMethod
	Trigger       model.PaymentTrigger
	Authorization model.Authorization
	Protocol      *model.ProtocolMetadata
}

type PayResult struct {
	Payment *model.Payment
	// Capture 收款方在平台内时才有
	Capture *model.PaymentCapture
}

// route 一笔付款在链上的走向
type route struct {
	source     *model.Location
	blockchain string
	dest       string
	token      string
	// receiver 平台内收款钱包，外部地址时为 nil
	receiver *model.Location
}

// Pay 从单个 Location 付出 amount。
//
// 第一阶段: 原子写入 Payment + payment 交易 (queued) + 收款方 Capture，并登记对账截止时间；
// 然后调用钱包服务商 (交易 id 作为服务商侧幂等键)；
// 第二阶段: 原子写入服务商返回的 hash/状态、收款方入账交易，Capture 推进到 processing。
// 第二阶段之前崩溃的话，链上转账已经发生但本地未更新，由下一次对账通过 Reference/hash 补齐
func (s *Service) Pay(ctx context.Context, accountID string, live bool, req PayRequest) (*PayResult, error) {
	res, _, err := s.pay(ctx, accountID, live, req)
	return res, err
}

// pay 额外返回第一阶段是否已落库: 落库之后即使返回错误，queued 交易也可能被 ResendQueued 重发
func (s *Service) pay(ctx context.Context, accountID string, live bool, req PayRequest) (*PayResult, bool, error) {
	if err := validateAmount(req.Amount, req.Currency); err != nil {
		return nil, false, err
	}
	rt, err := s.resolveRoute(ctx, accountID, live, req)
	if err != nil {
		return nil, false, err
	}
	if req.Trigger.Type == "" {
		req.Trigger = model.PaymentTrigger{Type: model.TriggerUser}
	}
	if req.Authorization.Type == "" {
		req.Authorization = model.Authorization{Type: model.AuthorizationSender}
	}

	now := s.now().UTC()
	payment := &model.Payment{
		ID:            s.newID(),
		AccountID:     accountID,
		Live:          live,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Method:        req.Method,
		LocationID:    rt.source.ID,
		Fees:          []model.Fee{},
		Status:        model.PaymentStatusPending,
		Trigger:       req.Trigger,
		Authorization: req.Authorization,
		Protocol:      req.Protocol,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx := &model.Transaction{
		ID:         s.newID(),
		AccountID:  accountID,
		Live:       live,
		Type:       model.TransactionTypePayment,
		Status:     model.TransactionStatusQueued,
		Amount:     req.Amount.Neg(),
		Currency:   req.Currency,
		LocationID: rt.source.ID,
		Blockchain: model.BlockchainInfo{Counterparty: rt.dest},
		PaymentID:  payment.ID,
		CreatedAt:  now,
	}
	var capture *model.PaymentCapture
	if rt.receiver != nil {
		capture = &model.PaymentCapture{
			ID:            s.newID(),
			AccountID:     rt.receiver.AccountID,
			Live:          live,
			PaymentID:     payment.ID,
			Amount:        req.Amount,
			Currency:      req.Currency,
			Status:        model.CaptureStatusRequiresCapture,
			Authorization: req.Authorization,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		payment.CaptureID = capture.ID
		payment.CaptureAccountID = capture.AccountID
	}

	due := now.Add(s.sla)
	err = s.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutPayment(payment)
		w.PutTransaction(tx)
		w.MarkReconcileDue(accountID, live, due)
		if capture != nil {
			w.PutCapture(capture)
			w.MarkReconcileDue(capture.AccountID, live, due)
		}
		return nil
	})
	if err != nil {
		return nil, false, errno.ErrStorage.Wrap(err)
	}

	if err := s.execute(ctx, payment, tx, capture, rt); err != nil {
		monitor.Business.PaymentsTotal.WithLabelValues(string(req.Method.Type), "error").Inc()
		return nil, true, err
	}
	monitor.Business.PaymentsTotal.WithLabelValues(string(req.Method.Type), string(payment.Status)).Inc()

	s.events.Publish(ctx, event.PaymentUpdated, accountID, live, payment)
	if capture != nil {
		s.events.Publish(ctx, event.CaptureUpdated, capture.AccountID, live, capture)
	}
	return &PayResult{Payment: payment, Capture: capture}, true, nil
}

// resolveRoute 选出付款的来源钱包和目的地址
func (s *Service) resolveRoute(ctx context.Context, accountID string, live bool, req PayRequest) (*route, error) {
	switch req.Method.Type {
	case model.PaymentMethodCrypto:
		if req.Method.Address == "" || req.Method.Blockchain == "" {
			return nil, errno.ErrUnsupportedMethod.WithMessage("crypto payments require address and blockchain")
		}
		check, err := s.recon.HasBalanceInSingleLocation(ctx, accountID, live, req.Amount, req.Currency, req.Method.Blockchain)
		if err != nil {
			return nil, err
		}
		if err := check.Err(true); err != nil {
			return nil, err
		}
		rt := &route{source: check.Location, blockchain: req.Method.Blockchain, dest: req.Method.Address}
		receiver, err := s.repo.FindLocationByAddress(ctx, rt.blockchain, rt.dest)
		switch {
		case err == nil && receiver.Live == live:
			rt.receiver = receiver
		case err != nil && !repository.IsNotFound(err):
			return nil, errno.ErrStorage.Wrap(err)
		}
		return s.withToken(rt, req.Currency)

	case model.PaymentMethodArcPay:
		if req.Method.AccountID == "" || req.Method.AccountID == accountID {
			return nil, errno.ErrUnsupportedMethod.WithMessage("arc_pay requires another account as receiver")
		}
		if !model.ValidAccountID(req.Method.AccountID) {
			return nil, errno.ErrInvalidAccountID.WithMeta("account_id", req.Method.AccountID)
		}
		check, err := s.recon.HasBalanceInSingleLocation(ctx, accountID, live, req.Amount, req.Currency, req.Method.Blockchain)
		if err != nil {
			return nil, err
		}
		if err := check.Err(req.Method.Blockchain != ""); err != nil {
			return nil, err
		}
		// 收款方在同一条链上没有钱包时创建一个
		receiver, err := s.recon.EnsureLocation(ctx, req.Method.AccountID, live, check.Location.Blockchain)
		if err != nil {
			return nil, err
		}
		rt := &route{
			source:     check.Location,
			blockchain: check.Location.Blockchain,
			dest:       receiver.Address,
			receiver:   receiver,
		}
		return s.withToken(rt, req.Currency)
	}
	return nil, errno.ErrUnsupportedMethod.WithMeta("method", string(req.Method.Type))
}

func (s *Service) withToken(rt *route, currency string) (*route, error) {
	token, ok := s.wallet.TokenAddress(rt.blockchain, currency)
	if !ok {
		return nil, errno.ErrUnsupportedCurrency.WithMeta("blockchain", rt.blockchain).WithMeta("currency", currency)
	}
	rt.token = token
	return rt, nil
}

// execute 调用钱包服务商并完成第二阶段写入。tx 必须处于 queued
func (s *Service) execute(ctx context.Context, payment *model.Payment, tx *model.Transaction, capture *model.PaymentCapture, rt *route) error {
	sent, err := s.wallet.SendTransaction(ctx, provider.SendRequest{
		Blockchain:         rt.blockchain,
		Live:               tx.Live,
		SourceAddress:      rt.source.Address,
		DestinationAddress: rt.dest,
		TokenAddress:       rt.token,
		Currency:           tx.Currency,
		Amount:             tx.Amount.Abs(),
		IdempotencyKey:     tx.ID,
	})
	if err != nil {
		// 第一阶段的数据保留，queued 交易会被对账标记为待重试
		logger.Error("send transaction failed",
			zap.String("payment_id", payment.ID),
			zap.String("transaction_id", tx.ID),
			zap.String("blockchain", rt.blockchain),
			zap.Error(err))
		return errno.ErrWalletProvider.WithMeta("blockchain", rt.blockchain).Wrap(err)
	}

	now := s.now().UTC()
	status := sent.Status
	if status == "" || status.Rank() < model.TransactionStatusSent.Rank() {
		status = model.TransactionStatusSent
	}
	tx.Status = status
	tx.ProcessorID = sent.ID
	tx.Reference = tx.ID
	tx.Blockchain.Hash = sent.Hash
	tx.Blockchain.ExplorerURL = sent.ExplorerURL
	if status.IsFinal() {
		tx.FinishedAt = &now
	}

	var credit *model.Transaction
	if capture != nil && rt.receiver != nil {
		credit = &model.Transaction{
			ID:         s.newID(),
			AccountID:  rt.receiver.AccountID,
			Live:       tx.Live,
			Type:       model.TransactionTypePayment,
			Status:     status,
			Amount:     tx.Amount.Abs(),
			Currency:   tx.Currency,
			LocationID: rt.receiver.ID,
			Blockchain: model.BlockchainInfo{
				Hash:         sent.Hash,
				Counterparty: rt.source.Address,
				ExplorerURL:  sent.ExplorerURL,
			},
			CaptureID: capture.ID,
			CreatedAt: now,
		}
		if capture.Status == model.CaptureStatusRequiresCapture {
			capture.Status = model.CaptureStatusProcessing
			capture.UpdatedAt = now
		}
	}
	s.SyncPaymentWithTransactions(payment, []model.Transaction{*tx})
	if capture != nil {
		s.SyncCaptureWithPayment(capture, payment)
	}

	// 交易尚未终结，保持对账登记 (并发的 sweep 可能刚清掉第一阶段的登记)
	due := now.Add(s.sla)
	err = s.repo.Atomic(ctx, func(w *repository.Writer) error {
		w.PutTransaction(tx)
		w.PutPayment(payment)
		w.MarkReconcileDue(payment.AccountID, tx.Live, due)
		if credit != nil {
			w.PutTransaction(credit)
			w.MarkReconcileDue(credit.AccountID, tx.Live, due)
		}
		if capture != nil {
			w.PutCapture(capture)
		}
		return nil
	})
	if err != nil {
		// 链上转账已经发生，等待对账补齐
		logger.Error("post-execution write failed",
			zap.String("payment_id", payment.ID),
			zap.String("hash", sent.Hash),
			zap.Error(err))
		return errno.ErrStorage.Wrap(err)
	}
	logger.Info("payment sent",
		zap.String("payment_id", payment.ID),
		zap.String("blockchain", rt.blockchain),
		zap.String("hash", sent.Hash))
	return nil
}

// ResendQueued 重新发送仍处于 queued 的付款交易 (由 retry worker 调用)。
// 交易 id 就是服务商侧的幂等键，第一次其实已经发出的话服务商会直接返回原结果
func (s *Service) ResendQueued(ctx context.Context, accountID string, live bool, txIDs []string) (int, error) {
	sent := 0
	for _, id := range txIDs {
		tx, err := s.repo.GetTransaction(ctx, accountID, id)
		if repository.IsNotFound(err) {
			continue
		}
		if err != nil {
			return sent, errno.ErrStorage.Wrap(err)
		}
		if tx.Status != model.TransactionStatusQueued || tx.Type != model.TransactionTypePayment || tx.PaymentID == "" || tx.Live != live {
			continue
		}
		payment, err := s.repo.GetPayment(ctx, accountID, tx.PaymentID)
		if err != nil {
			return sent, storageErr(err)
		}
		rt, capture, err := s.routeFor(ctx, payment, tx)
		if err != nil {
			return sent, err
		}
		if err := s.execute(ctx, payment, tx, capture, rt); err != nil {
			return sent, err
		}
		sent++
		s.events.Publish(ctx, event.PaymentUpdated, accountID, live, payment)
	}
	return sent, nil
}

// routeFor 从已落库的第一阶段数据还原 route
func (s *Service) routeFor(ctx context.Context, payment *model.Payment, tx *model.Transaction) (*route, *model.PaymentCapture, error) {
	source, err := s.repo.GetLocation(ctx, payment.AccountID, tx.LocationID)
	if err != nil {
		return nil, nil, storageErr(err)
	}
	rt := &route{source: source, blockchain: source.Blockchain, dest: tx.Blockchain.Counterparty}
	var capture *model.PaymentCapture
	if payment.CaptureID != "" {
		capture, err = s.repo.GetCapture(ctx, payment.CaptureAccountID, payment.CaptureID)
		if err != nil {
			return nil, nil, storageErr(err)
		}
		rt.receiver, err = s.repo.FindLocationByAddress(ctx, rt.blockchain, rt.dest)
		if err != nil {
			return nil, nil, storageErr(err)
		}
	}
	rt, err = s.withToken(rt, tx.Currency)
	return rt, capture, err
}
