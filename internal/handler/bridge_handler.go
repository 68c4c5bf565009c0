package handler

import (
	"payment-core/internal/handler/middleware"
	"payment-core/internal/handler/request"
	"payment-core/internal/handler/response"
	"payment-core/internal/service/bridge"

	"github.com/gin-gonic/gin"
)

// CreateBridgeTransfer POST /api/v1/bridge-transfers
func (h *Handler) CreateBridgeTransfer(c *gin.Context) {
	var req request.BridgeRequest
	if !bind(c, &req) {
		return
	}
	t, err := h.bridges.BridgeAmount(c.Request.Context(), middleware.AccountID(c), middleware.Live(c), bridge.Request{
		Amount:       amount(req.Amount),
		Currency:     req.Currency,
		FromLocation: req.FromLocation,
		ToLocation:   req.ToLocation,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, t)
}

// RetryBridgeTransfer POST /api/v1/bridge-transfers/:id/retry
func (h *Handler) RetryBridgeTransfer(c *gin.Context) {
	t, err := h.bridges.RetryBridgeTransfer(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, t)
}

func (h *Handler) GetBridgeTransfer(c *gin.Context) {
	t, err := h.bridges.GetBridgeTransfer(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, t)
}

func (h *Handler) ListBridgeTransfers(c *gin.Context) {
	ts, err := h.bridges.ListBridgeTransfers(c.Request.Context(), middleware.AccountID(c), middleware.Live(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ts)
}
