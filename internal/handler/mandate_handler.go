package handler

import (
	"payment-core/internal/handler/middleware"
	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service/payment"

	"github.com/gin-gonic/gin"
)

// DelegatePayment 签发委托授权，secret 只在这个响应里出现一次
// POST /api/v1/mandates
func (h *Handler) DelegatePayment(c *gin.Context) {
	var req request.DelegatePaymentRequest
	if !bind(c, &req) {
		return
	}
	typ := model.MandateType(req.Type)
	if typ == "" {
		typ = model.MandateMultiUse
	}
	m, err := h.payments.DelegatePayment(c.Request.Context(), middleware.AccountID(c), middleware.Live(c), payment.DelegateRequest{
		Type:       typ,
		Limit:      model.Limit{Amount: amount(req.Limit.Amount), Currency: req.Limit.Currency},
		Method:     model.PaymentMethodType(req.Method),
		OnBehalfOf: req.OnBehalfOf,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

func (h *Handler) GetMandate(c *gin.Context) {
	m, err := h.payments.GetMandate(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	m.Secret = ""
	response.Success(c, m)
}

func (h *Handler) ListMandates(c *gin.Context) {
	ms, err := h.payments.ListMandates(c.Request.Context(), middleware.AccountID(c), middleware.Live(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	for i := range ms {
		ms[i].Secret = ""
	}
	response.Success(c, ms)
}

// RevokeMandate POST /api/v1/mandates/:id/revoke
func (h *Handler) RevokeMandate(c *gin.Context) {
	m, err := h.payments.RevokeMandate(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	m.Secret = ""
	response.Success(c, m)
}

// CapturePayment 收款方凭 mandate secret 从付款方扣款
// POST /api/v1/captures
func (h *Handler) CapturePayment(c *gin.Context) {
	var req request.CapturePaymentRequest
	if !bind(c, &req) {
		return
	}
	capture, err := h.payments.CapturePayment(c.Request.Context(), middleware.AccountID(c), middleware.Live(c), payment.CaptureRequest{
		Amount:        amount(req.Amount),
		Currency:      req.Currency,
		MandateSecret: req.MandateSecret,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, capture)
}

func (h *Handler) GetCapture(c *gin.Context) {
	capture, err := h.payments.GetCapture(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, capture)
}

func (h *Handler) ListCaptures(c *gin.Context) {
	cs, err := h.payments.ListCaptures(c.Request.Context(), middleware.AccountID(c), middleware.Live(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, cs)
}
