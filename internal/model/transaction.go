package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType 交易类型，封闭集合
type TransactionType string

const (
	TransactionTypePayment        TransactionType = "payment"
	TransactionTypeFee            TransactionType = "fee"
	TransactionTypeReconciliation TransactionType = "reconciliation"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeFee, TransactionTypeReconciliation:
		return true
	}
	return false
}

// TransactionStatus 单调推进: queued → sent → confirmed → {completed|failed|canceled}
type TransactionStatus string

const (
	TransactionStatusQueued    TransactionStatus = "queued"
	TransactionStatusSent      TransactionStatus = "sent"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCanceled  TransactionStatus = "canceled"
)

// IsFinal 终态一旦到达不可再变
func (s TransactionStatus) IsFinal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCanceled:
		return true
	}
	return false
}

// Rank 状态在推进链上的位置，终态同级
func (s TransactionStatus) Rank() int {
	switch s {
	case TransactionStatusQueued:
		return 0
	case TransactionStatusSent:
		return 1
	case TransactionStatusConfirmed:
		return 2
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCanceled:
		return 3
	}
	return -1
}

// BridgeStep 跨链转账的步骤
type BridgeStep string

const (
	BridgeStepApprove BridgeStep = "approve"
	BridgeStepBurn    BridgeStep = "burn"
	BridgeStepMint    BridgeStep = "mint"
)

// BlockchainInfo 链上信息
type BlockchainInfo struct {
	Hash         string `json:"hash,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	ExplorerURL  string `json:"explorer_url,omitempty"`
}

// Transaction 本地交易记录。Amount 为带符号的十进制数 (支出为负)
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Live        bool              `json:"live"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	LocationID  string            `json:"location"`
	Blockchain  BlockchainInfo    `json:"blockchain"`
	ProcessorID string            `json:"processor_id,omitempty"` // 钱包服务商侧的交易 id
	// Reference 发送时交给服务商的幂等键 (即本地交易 id)，服务商回报交易时原样带回
	Reference   string            `json:"reference,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`

	PaymentID        string     `json:"payment_id,omitempty"`
	CaptureID        string     `json:"capture_id,omitempty"`
	BridgeTransferID string     `json:"bridge_transfer_id,omitempty"`
	Step             BridgeStep `json:"step,omitempty"`
}

// CorrelationID 与外部账本对齐用的标识: 优先服务商 id，其次链上 hash
func (t *Transaction) CorrelationID() string {
	if t.ProcessorID != "" {
		return t.ProcessorID
	}
	return t.Blockchain.Hash
}

// IsFinal reports whether the transaction reached a terminal status.
func (t *Transaction) IsFinal() bool {
	return t.Status.IsFinal()
}
