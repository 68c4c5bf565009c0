package response

import (
	"net/http"

	"payment-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

// Response defines the standard JSON structure
type Response struct {
	Code    int               `json:"code"`
	Message string            `json:"msg"`
	Reason  string            `json:"reason,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
	Data    interface{}       `json:"data"`
}

// Success returns a success response with data
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{} // Return empty object instead of null
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Created 201，创建类接口使用
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error returns an error response。HTTP 状态码由错误分类决定，reason/meta 原样带给调用方
func Error(c *gin.Context, err error) {
	code, msg := errno.Decode(err)
	resp := Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	}
	if e, ok := errno.As(err); ok {
		resp.Reason = e.Reason
		resp.Meta = e.Meta
	}
	c.JSON(errno.HTTPStatus(err), resp)
}
