package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type BridgeStatus string

const (
	BridgeStatusRetrying  BridgeStatus = "retrying"
	BridgeStatusSucceeded BridgeStatus = "succeeded"
	BridgeStatusFailed    BridgeStatus = "failed"
)

// BridgeTransfer 跨链转账 (目前仅 USDC)。
// 初始状态为 retrying，直到服务商给出终态
type BridgeTransfer struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Live         bool            `json:"live"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	FromLocation string          `json:"from_location"`
	ToLocation   string          `json:"to_location"`
	Status       BridgeStatus    `json:"status"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	// Raw 服务商返回的原始结果，重试时原样交回服务商
	Raw json.RawMessage `json:"raw,omitempty"`
}
