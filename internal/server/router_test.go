package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-core/internal/event"
	"payment-core/internal/handler"
	"payment-core/internal/handler/middleware"
	"payment-core/internal/provider"
	"payment-core/internal/repository"
	"payment-core/internal/service/account"
	"payment-core/internal/service/bridge"
	"payment-core/internal/service/idempotency"
	"payment-core/internal/service/mq"
	"payment-core/internal/service/payment"
	"payment-core/internal/service/reconciler"
	"payment-core/internal/service/syncer"
	"payment-core/internal/store"
	"payment-core/pkg/errno"
	"payment-core/pkg/validator"
)

type testServer struct {
	engine *gin.Engine
	sim    *provider.SimulatedLedger
	repo   *repository.Repository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Init()

	sim := provider.NewSimulatedLedger(nil, nil)
	repo := repository.New(store.NewMemoryStore())
	recon := reconciler.New(repo, sim)
	events := event.NewPublisher(mq.NewMemoryQueue())
	payments := payment.NewService(repo, recon, sim, events, 0)
	h := handler.New(
		payments,
		bridge.NewService(repo, recon, sim, events),
		recon,
		syncer.NewService(repo, recon, sim, payments, events, 0),
		account.NewService(repo),
	)
	return &testServer{
		engine: NewHTTPRouter(h, idempotency.New(repo, 0, 0)),
		sim:    sim,
		repo:   repo,
	}
}

func (s *testServer) do(method, path, key string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAccountID, "acct_1")
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

// committed 响应发出后记录异步落库，等它写完
func (s *testServer) committed(t *testing.T, key string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := s.repo.GetIdempotentCall(context.Background(), "acct_1", key)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

type envelope struct {
	Code   int             `json:"code"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// fund 创建 arc 钱包并注入余额
func (s *testServer) fund(t *testing.T, amount string) {
	t.Helper()
	w := s.do(http.MethodPost, "/api/v1/locations", "loc-1", gin.H{"blockchain": "arc"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var loc struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &loc))
	s.sim.Fund("arc", loc.Address, "USDC", decimal.RequireFromString(amount))
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccountHeaderRequired(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errno.ErrAccountRequired.Code, decode(t, w).Code)
}

func TestEraseAccountRejectsWildcardID(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "10")

	for _, id := range []string{"*", "acct_*", "acct_1:x"} {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/account", nil)
		req.Header.Set(middleware.HeaderAccountID, id)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
		assert.Equal(t, errno.ErrInvalidAccountID.Code, decode(t, w).Code, id)
	}

	locs, err := s.repo.ListLocations(context.Background(), "acct_1", false)
	require.NoError(t, err)
	assert.Len(t, locs, 1)
}

func TestIdempotentPaymentReplay(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "30")

	body := gin.H{"amount": "10", "currency": "USDC", "method": gin.H{"type": "arc_pay", "account_id": "acct_2"}}
	first := s.do(http.MethodPost, "/api/v1/payments", "pay-1", body)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, "pay-1", first.Header().Get(idempotency.HeaderKey))
	s.committed(t, "pay-1")

	second := s.do(http.MethodPost, "/api/v1/payments", "pay-1", body)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.NotEmpty(t, second.Header().Get(idempotency.HeaderExpiresAt))
	assert.NotEmpty(t, second.Header().Get(idempotency.HeaderRemainingSeconds))

	// 只付了一次
	list := s.do(http.MethodGet, "/api/v1/payments", "", nil)
	var payments []json.RawMessage
	require.NoError(t, json.Unmarshal(decode(t, list).Data, &payments))
	assert.Len(t, payments, 1)

	// 同一个 key 换了请求
	body["amount"] = "11"
	changed := s.do(http.MethodPost, "/api/v1/payments", "pay-1", body)
	assert.Equal(t, http.StatusConflict, changed.Code)
	assert.Equal(t, errno.ErrIdempotencyRequestChanged.Code, decode(t, changed).Code)
}

func TestIdempotentFailureIsReplayed(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "5")

	body := gin.H{"amount": "10", "currency": "USDC", "method": gin.H{"type": "arc_pay", "account_id": "acct_2"}}
	first := s.do(http.MethodPost, "/api/v1/payments", "pay-2", body)
	require.Equal(t, http.StatusPaymentRequired, first.Code, first.Body.String())
	assert.Equal(t, errno.ReasonNoBalance, decode(t, first).Reason)
	s.committed(t, "pay-2")

	second := s.do(http.MethodPost, "/api/v1/payments", "pay-2", body)
	assert.Equal(t, http.StatusPaymentRequired, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestIdempotencyBypassAndValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/payments", "get-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	_, err := s.repo.GetIdempotentCall(context.Background(), "acct_1", "get-1")
	assert.True(t, repository.IsNotFound(err), "reads are never cached")

	w = s.do(http.MethodPost, "/api/v1/payments", "bad key!", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errno.ErrIdempotencyKeyInvalid.Code, decode(t, w).Code)

	// 绑定失败的响应同样会被缓存
	w = s.do(http.MethodPost, "/api/v1/payments", "bind-1", gin.H{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errno.ErrBind.Code, decode(t, w).Code)
	s.committed(t, "bind-1")
}
