package middleware

import (
	"bytes"
	"io"
	"net/http"

	"payment-core/internal/handler/response"
	"payment-core/internal/model"
	"payment-core/internal/service/idempotency"
	"payment-core/pkg/errno"
	"payment-core/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CommitKey gin context 中保存异步提交结果 (<-chan error) 的 key
const CommitKey = "idempotency.commit"

// maxBody 超过这个大小的请求体不参与幂等 (直接拒绝)
const maxBody = 1 << 20

// captureWriter 在写给客户端的同时保留一份响应体
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency 变更类请求按 (账户, Idempotency-Key) 去重:
// 相同请求原样回放之前的响应，key 被不同的请求复用时拒绝。
// 必须挂在 Account 之后
func Idempotency(cache *idempotency.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
		if err != nil || len(body) > maxBody {
			response.Error(c, errno.ErrBind.WithMessage("request body unreadable or too large"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		accountID := AccountID(c)
		d, err := cache.Begin(ctx, accountID, c.GetHeader(idempotency.HeaderKey), idempotency.Request{
			Method: c.Request.Method,
			URL:    c.Request.URL.RequestURI(),
			Header: c.Request.Header,
			Body:   body,
		})
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if d.Replay != nil {
			h := c.Writer.Header()
			for k, vs := range d.Replay.Headers {
				h[k] = append([]string(nil), vs...)
			}
			for k, v := range d.ReplayHeaders() {
				h.Set(k, v)
			}
			c.Writer.WriteHeader(d.Replay.Status)
			_, _ = c.Writer.Write(d.Replay.Body)
			c.Abort()
			return
		}

		c.Header(idempotency.HeaderKey, d.Key)
		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw

		finished := false
		defer func() {
			if !finished {
				// panic: 交给 Recovery，key 释放后客户端可以重试
				if err := cache.Abort(ctx, accountID, d); err != nil {
					logger.Error("release idempotency key failed", zap.String("key", d.Key), zap.Error(err))
				}
			}
		}()

		c.Next()
		finished = true

		if !cw.Written() {
			_ = cache.Abort(ctx, accountID, d)
			return
		}
		done := cache.CommitAsync(ctx, accountID, d, model.CachedResponse{
			Status:  cw.Status(),
			Headers: cw.Header().Clone(),
			Body:    append([]byte(nil), cw.body.Bytes()...),
		})
		c.Set(CommitKey, done)
	}
}
