// Package provider 定义外部协作方 (托管钱包服务商、跨链桥服务商) 的契约。
// 核心逻辑只依赖这里的接口，具体客户端在构造时注入。
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"payment-core/internal/model"
)

// SendRequest 链上转账请求
type SendRequest struct {
	Blockchain         string
	Live               bool
	SourceAddress      string
	DestinationAddress string
	TokenAddress       string
	Currency           string
	Amount             decimal.Decimal
	// IdempotencyKey 服务商侧去重，重复提交不会产生第二笔链上交易
	IdempotencyKey string
}

// SentTransaction 服务商受理后的结果
type SentTransaction struct {
	ID          string
	Hash        string
	Status      model.TransactionStatus
	ExplorerURL string
}

// WalletProvider 托管钱包服务商
type WalletProvider interface {
	CreateWallet(ctx context.Context, blockchain string, live bool) (address string, err error)
	GetWalletBalances(ctx context.Context, address, blockchain string, live bool) ([]model.Asset, error)
	SendTransaction(ctx context.Context, req SendRequest) (*SentTransaction, error)
	// GetTransaction 按服务商 id 查询，不存在时返回 (nil, nil)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	// ListTransactions 返回该地址相关的外部交易 (ID/AccountID/LocationID 为空，由调用方填充)
	ListTransactions(ctx context.Context, address, blockchain string, live bool) ([]model.Transaction, error)
	// TokenAddress 币种在链上的合约地址
	TokenAddress(blockchain, currency string) (string, bool)
}

// PollTransaction 固定间隔轮询，直到 match 返回 true 或者用完 maxRetries。
// 放弃时返回 (nil, nil)
func PollTransaction(ctx context.Context, p WalletProvider, id string, match func(*model.Transaction) bool, maxRetries int, interval time.Duration) (*model.Transaction, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		tx, err := p.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		if tx != nil && match(tx) {
			return tx, nil
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, nil
}

// BridgeState 服务商对整体或单个步骤的状态
type BridgeState string

const (
	BridgeStatePending BridgeState = "pending"
	BridgeStateSuccess BridgeState = "success"
	BridgeStateError   BridgeState = "error"
)

type Endpoint struct {
	Blockchain string `json:"blockchain"`
	Address    string `json:"address"`
}

type GasData struct {
	Fee      decimal.Decimal `json:"fee"`
	Currency string          `json:"currency"`
}

type BridgeStepResult struct {
	Name        model.BridgeStep `json:"name"`
	State       BridgeState      `json:"state"`
	TxHash      string           `json:"tx_hash,omitempty"`
	ExplorerURL string           `json:"explorer_url,omitempty"`
	GasData     *GasData         `json:"gas_data,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// BridgeResult 服务商返回的完整结果，原样存入 BridgeTransfer.Raw
type BridgeResult struct {
	State       BridgeState        `json:"state"`
	Source      Endpoint           `json:"source"`
	Destination Endpoint           `json:"destination"`
	Amount      decimal.Decimal    `json:"amount"`
	Steps       []BridgeStepResult `json:"steps"`
}

// Step 按名称取步骤，不存在返回 nil
func (r *BridgeResult) Step(name model.BridgeStep) *BridgeStepResult {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

type BridgeRequest struct {
	Live   bool
	From   Endpoint
	To     Endpoint
	Amount decimal.Decimal
}

// BridgeProvider 跨链桥服务商。重试逻辑 (内部有界轮询) 在服务商侧
type BridgeProvider interface {
	Bridge(ctx context.Context, req BridgeRequest) (*BridgeResult, error)
	Retry(ctx context.Context, previous *BridgeResult) (*BridgeResult, error)
}
