package errno

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是错误的分类标签，调用方按 Kind 决定协议层的响应
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindExternalLedger      Kind = "external_ledger"
	KindConsistency         Kind = "consistency"
	KindNotFound            Kind = "not_found"
	KindInternal            Kind = "internal"
)

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
	Kind    Kind
	Reason  string
	Meta    map[string]string

	cause error
}

func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Errno) Unwrap() error {
	return e.cause
}

// Is 按错误码匹配，WithXxx 派生出来的副本仍然 errors.Is 原始定义
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Errno) clone() *Errno {
	c := *e
	if e.Meta != nil {
		c.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

// WithMessage 返回替换了 Message 的副本
func (e *Errno) WithMessage(msg string) *Errno {
	c := e.clone()
	c.Message = msg
	return c
}

// WithReason 返回带 reason 标签的副本
func (e *Errno) WithReason(reason string) *Errno {
	c := e.clone()
	c.Reason = reason
	return c
}

// WithMeta 追加一条元数据 (blockchain / provider 等)
func (e *Errno) WithMeta(key, value string) *Errno {
	c := e.clone()
	if c.Meta == nil {
		c.Meta = map[string]string{}
	}
	c.Meta[key] = value
	return c
}

// Wrap 保留底层错误，errors.Is/As 仍可穿透
func (e *Errno) Wrap(err error) *Errno {
	c := e.clone()
	c.cause = err
	return c
}

// As 取出错误链中的 *Errno
func As(err error) (*Errno, bool) {
	var e *Errno
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}
	if e, ok := As(err); ok {
		return e.Code, e.Message
	}
	return InternalServerError.Code, InternalServerError.Message
}

// HTTPStatus 根据 Kind 映射 HTTP 状态码
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindExternalLedger:
		return http.StatusBadGateway
	case KindConsistency:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Common Errors
var (
	OK                  = &Errno{Code: 0, Message: "Success"}
	InternalServerError = &Errno{Code: 10001, Message: "Internal server error", Kind: KindInternal}
	ErrBind             = &Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct", Kind: KindValidation}
	ErrStorage          = &Errno{Code: 10004, Message: "Storage error", Kind: KindInternal}
	ErrAccountRequired  = &Errno{Code: 10005, Message: "Account id is required", Kind: KindValidation}
	ErrInvalidAccountID = &Errno{Code: 10006, Message: "Account id must be 1-64 characters of [A-Za-z0-9_-]", Kind: KindValidation}
)

// Validation Errors (20000+)
var (
	ErrIdempotencyKeyInvalid = &Errno{Code: 20001, Message: "Idempotency key must be 1-128 characters of [A-Za-z0-9_-:.]", Kind: KindValidation}
	ErrInvalidAmount         = &Errno{Code: 20002, Message: "Amount must be a positive decimal", Kind: KindValidation}
	ErrUnsupportedCurrency   = &Errno{Code: 20003, Message: "Unsupported currency", Kind: KindValidation}
	ErrUnsupportedMethod     = &Errno{Code: 20004, Message: "Unsupported payment method", Kind: KindValidation}
	ErrExpiresAtInPast       = &Errno{Code: 20005, Message: "expires_at must be in the future", Kind: KindValidation}
	ErrInvalidLocation       = &Errno{Code: 20006, Message: "Location cannot be used for this operation", Kind: KindValidation}
)

// Insufficient balance (30000+)
const (
	ReasonNoBalance             = "no_balance"
	ReasonNotInSingleLocation   = "not_in_single_location"
	ReasonNotInPreferredNetwork = "not_in_preferred_network"
)

var (
	ErrInsufficientBalance = &Errno{Code: 30001, Message: "Insufficient balance", Kind: KindInsufficientBalance}
)

// External ledger errors (40000+)
var (
	ErrWalletProvider = &Errno{Code: 40001, Message: "Wallet provider error", Kind: KindExternalLedger}
	ErrBridgeProvider = &Errno{Code: 40002, Message: "Bridge provider error", Kind: KindExternalLedger}
)

// Consistency errors (50000+)
const (
	ReasonAlreadySucceeded = "already_succeeded"
	ReasonAlreadyRetrying  = "already_retrying"
)

var (
	ErrIdempotencyRequestChanged = &Errno{Code: 50001, Message: "Request changed for an already used idempotency key", Kind: KindConsistency}
	ErrIdempotencyInProgress     = &Errno{Code: 50002, Message: "A request with this idempotency key is currently being processed", Kind: KindConsistency}
	ErrMandateInactive           = &Errno{Code: 50003, Message: "Payment mandate is not active", Kind: KindConsistency}
	ErrMandateMismatch           = &Errno{Code: 50004, Message: "Payment does not match the mandate limit", Kind: KindConsistency}
	ErrBridgeRetry               = &Errno{Code: 50005, Message: "Bridge transfer cannot be retried", Kind: KindConsistency}
)

// Not found (60000+)
var (
	ErrLocationNotFound = &Errno{Code: 60001, Message: "Location not found", Kind: KindNotFound}
	ErrPaymentNotFound  = &Errno{Code: 60002, Message: "Payment not found", Kind: KindNotFound}
	ErrCaptureNotFound  = &Errno{Code: 60003, Message: "Payment capture not found", Kind: KindNotFound}
	ErrMandateNotFound  = &Errno{Code: 60004, Message: "Payment mandate not found", Kind: KindNotFound}
	ErrBridgeNotFound   = &Errno{Code: 60005, Message: "Bridge transfer not found", Kind: KindNotFound}
	ErrBalanceNotFound  = &Errno{Code: 60006, Message: "Balance not found", Kind: KindNotFound}
)

// Opaque errors (70000+)
var (
	// ErrPaymentCapture 故意不携带下游细节，避免向收款方泄露付款方余额信息
	ErrPaymentCapture = &Errno{Code: 70001, Message: "Payment capture failed", Kind: KindInternal}
)
