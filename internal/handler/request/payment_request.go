package request

import "time"

// 金额统一用字符串传输，由 amount tag 校验为正的十进制数

type PaymentMethod struct {
	Type       string `json:"type" binding:"required,oneof=crypto arc_pay"`
	Address    string `json:"address"`
	Blockchain string `json:"blockchain" binding:"omitempty,blockchain"`
	AccountID  string `json:"account_id"`
}

type CreatePaymentRequest struct {
	Amount   string        `json:"amount" binding:"required,amount"`
	Currency string        `json:"currency" binding:"required,oneof=USDC EURC"`
	Method   PaymentMethod `json:"method" binding:"required"`
	X402     bool          `json:"x402"`
}

type Limit struct {
	Amount   string `json:"amount" binding:"required,amount"`
	Currency string `json:"currency" binding:"required,oneof=USDC EURC"`
}

type DelegatePaymentRequest struct {
	Type       string     `json:"type" binding:"omitempty,oneof=single_use multi_use"`
	Limit      Limit      `json:"limit" binding:"required"`
	Method     string     `json:"method" binding:"required"`
	OnBehalfOf string     `json:"on_behalf_of" binding:"max=128"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type CapturePaymentRequest struct {
	Amount        string `json:"amount" binding:"required,amount"`
	Currency      string `json:"currency" binding:"required,oneof=USDC EURC"`
	MandateSecret string `json:"mandate_secret" binding:"required"`
}

type BridgeRequest struct {
	Amount       string `json:"amount" binding:"required,amount"`
	Currency     string `json:"currency" binding:"omitempty,oneof=USDC"`
	FromLocation string `json:"from_location" binding:"required"`
	ToLocation   string `json:"to_location" binding:"required"`
}

type CreateLocationRequest struct {
	Blockchain string `json:"blockchain" binding:"required,blockchain"`
}
