package handler

import (
	"payment-core/internal/handler/middleware"
	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service/payment"

	"github.com/gin-gonic/gin"
)

// CreatePayment 发起付款
// POST /api/v1/payments
func (h *Handler) CreatePayment(c *gin.Context) {
	// 1. 绑定参数
	var req request.CreatePaymentRequest
	if !bind(c, &req) {
		return
	}

	// 2. 构造 service 请求
	pr := payment.PayRequest{
		Amount:   amount(req.Amount),
		Currency: req.Currency,
		Method: model.PaymentMethod{
			Type:       model.PaymentMethodType(req.Method.Type),
			Address:    req.Method.Address,
			Blockchain: req.Method.Blockchain,
			AccountID:  req.Method.AccountID,
		},
	}
	if req.X402 {
		pr.Protocol = &model.ProtocolMetadata{X402: true}
	}

	// 3. 调用 Service
	res, err := h.payments.Pay(c.Request.Context(), middleware.AccountID(c), middleware.Live(c), pr)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res.Payment)
}

func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.payments.GetPayment(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

func (h *Handler) ListPayments(c *gin.Context) {
	ps, err := h.payments.ListPayments(c.Request.Context(), middleware.AccountID(c), middleware.Live(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ps)
}
