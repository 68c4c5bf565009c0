package middleware

import (
	"strconv"

	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

const (
	HeaderAccountID = "X-Account-Id"
	HeaderLiveMode  = "X-Live-Mode"

	ctxAccountID = "account_id"
	ctxLive      = "live"
)

// Account 从请求头解析调用方账户和 live 模式。
// 鉴权在网关完成，这里只信任网关注入的头
func Account() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader(HeaderAccountID)
		if accountID == "" {
			response.Error(c, errno.ErrAccountRequired)
			c.Abort()
			return
		}
		if !model.ValidAccountID(accountID) {
			response.Error(c, errno.ErrInvalidAccountID)
			c.Abort()
			return
		}
		live := false
		if v := c.GetHeader(HeaderLiveMode); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				response.Error(c, errno.ErrBind.WithMessage("X-Live-Mode must be true or false"))
				c.Abort()
				return
			}
			live = b
		}
		c.Set(ctxAccountID, accountID)
		c.Set(ctxLive, live)
		c.Next()
	}
}

// AccountID 必须在 Account 中间件之后调用
func AccountID(c *gin.Context) string {
	return c.GetString(ctxAccountID)
}

func Live(c *gin.Context) bool {
	return c.GetBool(ctxLive)
}
