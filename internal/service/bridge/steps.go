package bridge

import (
	"payment-core/internal/model"
	"payment-core/internal/provider"
)

// StatusFor 服务商整体状态 → BridgeTransfer 状态。pending 视为仍在重试
func StatusFor(state provider.BridgeState) model.BridgeStatus {
	switch state {
	case provider.BridgeStateSuccess:
		return model.BridgeStatusSucceeded
	case provider.BridgeStateError:
		return model.BridgeStatusFailed
	}
	return model.BridgeStatusRetrying
}

func stepTxStatus(state provider.BridgeState) model.TransactionStatus {
	switch state {
	case provider.BridgeStateSuccess:
		return model.TransactionStatusCompleted
	case provider.BridgeStateError:
		return model.TransactionStatusFailed
	}
	return model.TransactionStatusSent
}

// MapSteps 把服务商的步骤翻译成本地交易，不做 I/O，返回的记录没有 id。
//
//	approve → fee (from)
//	burn    → reconciliation -amount (from) + fee (from)
//	mint    → reconciliation +amount (to)   + fee (to)
//
// 只翻译实际出现且带 txHash 的步骤: 没有 hash 的步骤无法与外部账本对齐，
// 也不会生成金额为 0 的占位记录
func MapSteps(transfer *model.BridgeTransfer, result *provider.BridgeResult, from, to *model.Location) []model.Transaction {
	var out []model.Transaction
	for _, st := range result.Steps {
		if st.TxHash == "" {
			continue
		}
		status := stepTxStatus(st.State)
		base := model.Transaction{
			AccountID:        transfer.AccountID,
			Live:             transfer.Live,
			Status:           status,
			Currency:         transfer.Currency,
			Blockchain:       model.BlockchainInfo{Hash: st.TxHash, ExplorerURL: st.ExplorerURL},
			CreatedAt:        transfer.UpdatedAt,
			BridgeTransferID: transfer.ID,
			Step:             st.Name,
		}
		if status.IsFinal() {
			at := transfer.UpdatedAt
			base.FinishedAt = &at
		}

		loc := from
		switch st.Name {
		case model.BridgeStepApprove:
		case model.BridgeStepBurn:
			tx := base
			tx.Type = model.TransactionTypeReconciliation
			tx.Amount = transfer.Amount.Neg()
			tx.LocationID = from.ID
			tx.Blockchain.Counterparty = to.Address
			out = append(out, tx)
		case model.BridgeStepMint:
			loc = to
			tx := base
			tx.Type = model.TransactionTypeReconciliation
			tx.Amount = transfer.Amount
			tx.LocationID = to.ID
			tx.Blockchain.Counterparty = from.Address
			out = append(out, tx)
		default:
			continue
		}

		if st.GasData == nil || !st.GasData.Fee.IsPositive() {
			continue
		}
		fee := base
		fee.Type = model.TransactionTypeFee
		fee.Amount = st.GasData.Fee.Neg()
		if st.GasData.Currency != "" {
			fee.Currency = st.GasData.Currency
		}
		fee.LocationID = loc.ID
		out = append(out, fee)
	}
	return out
}
