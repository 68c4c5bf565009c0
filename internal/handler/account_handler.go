package handler

import (
	"strings"

	"payment-core/internal/handler/middleware"
	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service/reconciler"
	"payment-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

// GetBalance 按币种对账后返回余额
// GET /api/v1/balances/:currency
func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.recon.GetBalance(c.Request.Context(), middleware.AccountID(c), strings.ToUpper(c.Param("currency")), middleware.Live(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if bal == nil {
		response.Error(c, errno.ErrBalanceNotFound)
		return
	}
	response.Success(c, bal)
}

func (h *Handler) ListBalances(c *gin.Context) {
	out := make([]*model.Balance, 0, len(reconciler.SupportedCurrencies))
	for _, currency := range reconciler.SupportedCurrencies {
		bal, err := h.recon.GetBalance(c.Request.Context(), middleware.AccountID(c), currency, middleware.Live(c))
		if err != nil {
			response.Error(c, err)
			return
		}
		if bal != nil {
			out = append(out, bal)
		}
	}
	response.Success(c, out)
}

// ListLocations 可以用 ?id=a,b 过滤
func (h *Handler) ListLocations(c *gin.Context) {
	var ids []string
	if v := c.Query("id"); v != "" {
		ids = strings.Split(v, ",")
	}
	locs, err := h.recon.ListLocations(c.Request.Context(), middleware.AccountID(c), middleware.Live(c), ids...)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, locs)
}

// CreateLocation 同一条链上重复创建返回已有钱包
func (h *Handler) CreateLocation(c *gin.Context) {
	var req request.CreateLocationRequest
	if !bind(c, &req) {
		return
	}
	loc, err := h.recon.EnsureLocation(c.Request.Context(), middleware.AccountID(c), middleware.Live(c), req.Blockchain)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, loc)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	txs, err := h.syncer.ListTransactions(c.Request.Context(), middleware.AccountID(c), middleware.Live(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, txs)
}

// SyncAccount 手动触发一次同步
// POST /api/v1/sync
func (h *Handler) SyncAccount(c *gin.Context) {
	rep, err := h.syncer.SyncAccount(c.Request.Context(), middleware.AccountID(c), middleware.Live(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rep)
}

// EraseAccount 删除账户的全部数据 (两种 live 模式)
// DELETE /api/v1/account
func (h *Handler) EraseAccount(c *gin.Context) {
	n, err := h.accounts.Erase(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": n})
}
