package handler

import (
	"payment-core/internal/handler/response"
	"payment-core/internal/service/account"
	"payment-core/internal/service/bridge"
	"payment-core/internal/service/payment"
	"payment-core/internal/service/reconciler"
	"payment-core/internal/service/syncer"
	"payment-core/pkg/errno"
	"payment-core/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler 对外 HTTP 接口，只做参数绑定和错误映射，业务逻辑在 service 层
type Handler struct {
	payments *payment.Service
	bridges  *bridge.Service
	recon    *reconciler.Reconciler
	syncer   *syncer.Service
	accounts *account.Service
}

func New(payments *payment.Service, bridges *bridge.Service, recon *reconciler.Reconciler, sync *syncer.Service, accounts *account.Service) *Handler {
	return &Handler{
		payments: payments,
		bridges:  bridges,
		recon:    recon,
		syncer:   sync,
		accounts: accounts,
	}
}

// bind 绑定失败时已经写好了响应
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return false
	}
	return true
}

// amount 已经过 amount tag 校验，这里不会失败
func amount(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
