package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethodType 支付方式，封闭集合
type PaymentMethodType string

const (
	// PaymentMethodCrypto 直接转到一个链上地址
	PaymentMethodCrypto PaymentMethodType = "crypto"
	// PaymentMethodArcPay 转给平台内另一个账户
	PaymentMethodArcPay PaymentMethodType = "arc_pay"
)

// PaymentMethod tagged struct: Type 决定哪些字段有效
type PaymentMethod struct {
	Type PaymentMethodType `json:"type"`
	// crypto
	Address    string `json:"address,omitempty"`
	Blockchain string `json:"blockchain,omitempty"`
	// arc_pay
	AccountID string `json:"account_id,omitempty"`
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type TriggerType string

const (
	TriggerUser    TriggerType = "user"
	TriggerMandate TriggerType = "mandate"
)

type PaymentTrigger struct {
	Type      TriggerType `json:"type"`
	MandateID string      `json:"mandate_id,omitempty"`
}

type AuthorizationType string

const (
	AuthorizationSender  AuthorizationType = "sender"
	AuthorizationMandate AuthorizationType = "mandate"
)

type Authorization struct {
	Type      AuthorizationType `json:"type"`
	MandateID string            `json:"mandate_id,omitempty"`
}

// ProtocolMetadata 外部结算协议附带的信息
type ProtocolMetadata struct {
	// X402 为 true 时手续费由 x402 结算方记账，本地不重复累计
	X402 bool `json:"x402,omitempty"`
}

// FeeType 手续费类型
type FeeType string

const (
	FeeTypeNetwork FeeType = "network"
)

type Fee struct {
	Type     FeeType         `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Payment 付款方视角的逻辑转账。Status/Fees 只从关联交易推导
type Payment struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"account_id"`
	Live          bool              `json:"live"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Method        PaymentMethod     `json:"method"`
	LocationID    string            `json:"location"`
	Fees          []Fee             `json:"fees"`
	Status        PaymentStatus     `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Trigger       PaymentTrigger    `json:"trigger"`
	Authorization Authorization     `json:"authorization"`
	Protocol      *ProtocolMetadata `json:"protocol,omitempty"`
	CaptureID     string            `json:"capture_id,omitempty"`
	// CaptureAccountID 收款方账户 (收款方在平台内时才有)
	CaptureAccountID string    `json:"capture_account_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasFee 同 (type, currency, amount) 的手续费是否已记录
func (p *Payment) HasFee(f Fee) bool {
	for _, existing := range p.Fees {
		if existing.Type == f.Type && existing.Currency == f.Currency && existing.Amount.Equal(f.Amount) {
			return true
		}
	}
	return false
}

type CaptureStatus string

const (
	CaptureStatusRequiresCapture CaptureStatus = "requires_capture"
	CaptureStatusProcessing      CaptureStatus = "processing"
	CaptureStatusSucceeded       CaptureStatus = "succeeded"
	CaptureStatusFailed          CaptureStatus = "failed"
	CaptureStatusCancelled       CaptureStatus = "cancelled"
)

// PaymentCapture 收款方视角
type PaymentCapture struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"` // 收款账户
	Live          bool            `json:"live"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        CaptureStatus   `json:"status"`
	Authorization Authorization   `json:"authorization"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type MandateType string

const (
	MandateSingleUse MandateType = "single_use"
	MandateMultiUse  MandateType = "multi_use"
)

type MandateStatus string

const (
	MandateActive   MandateStatus = "active"
	MandateInactive MandateStatus = "inactive"
)

type MandateInactiveReason string

const (
	MandateExpired MandateInactiveReason = "expired"
	MandateUsed    MandateInactiveReason = "used"
	MandateRevoked MandateInactiveReason = "revoked"
)

type Limit struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// PaymentMandate 委托支付授权。Secret 只在签发时生成一次；
// active → inactive 只发生一次
type PaymentMandate struct {
	ID             string                `json:"id"`
	AccountID      string                `json:"account_id"` // 授权方
	Live           bool                  `json:"live"`
	Type           MandateType           `json:"type"`
	Status         MandateStatus         `json:"status"`
	InactiveReason MandateInactiveReason `json:"inactive_reason,omitempty"`
	Secret         string                `json:"secret"`
	OnBehalfOf     string                `json:"on_behalf_of,omitempty"`
	Limit          Limit                 `json:"limit"`
	Method         PaymentMethodType     `json:"method"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// IsExpired 只读判断，状态迁移由调用方负责落库
func (m *PaymentMandate) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// Deactivate active → inactive(reason)。已是 inactive 时返回 false，保持原 reason
func (m *PaymentMandate) Deactivate(reason MandateInactiveReason, now time.Time) bool {
	if m.Status != MandateActive {
		return false
	}
	m.Status = MandateInactive
	m.InactiveReason = reason
	m.UpdatedAt = now
	return true
}
