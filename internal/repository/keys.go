package repository

import (
	"fmt"
	"strings"
)

// 所有账户自有数据都放在 account:{id}: 前缀下，账户删除时按模式扫描即可
func mode(live bool) string {
	if live {
		return "live"
	}
	return "test"
}

func AccountPattern(accountID string) string {
	return fmt.Sprintf("account:%s:*", accountID)
}

func locationKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:location:%s", accountID, id)
}

func locationIndexKey(accountID string, live bool) string {
	return fmt.Sprintf("account:%s:locations:%s", accountID, mode(live))
}

func addressIndexKey(blockchain, address string) string {
	return fmt.Sprintf("address:%s:%s", blockchain, strings.ToLower(address))
}

func balanceKey(accountID string, live bool, currency string) string {
	return fmt.Sprintf("account:%s:balance:%s:%s", accountID, mode(live), currency)
}

func transactionKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:transaction:%s", accountID, id)
}

func transactionIndexKey(accountID string, live bool) string {
	return fmt.Sprintf("account:%s:transactions:%s", accountID, mode(live))
}

func paymentKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:payment:%s", accountID, id)
}

func paymentIndexKey(accountID string, live bool) string {
	return fmt.Sprintf("account:%s:payments:%s", accountID, mode(live))
}

func captureKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:capture:%s", accountID, id)
}

func captureIndexKey(accountID string, live bool) string {
	return fmt.Sprintf("account:%s:captures:%s", accountID, mode(live))
}

func mandateKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:mandate:%s", accountID, id)
}

func mandateIndexKey(accountID string, live bool) string {
	return fmt.Sprintf("account:%s:mandates:%s", accountID, mode(live))
}

func mandateClaimKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:mandate-claim:%s", accountID, id)
}

// secret 不直接出现在 key 里，先做 blake3
func mandateSecretKey(secretHash string) string {
	return "mandate:secret:" + secretHash
}

func bridgeKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:bridge:%s", accountID, id)
}

func bridgeIndexKey(accountID string, live bool) string {
	return fmt.Sprintf("account:%s:bridges:%s", accountID, mode(live))
}

func bridgeRetryLockKey(accountID, id string) string {
	return fmt.Sprintf("account:%s:bridge-retry:%s", accountID, id)
}

func idempotencyKey(accountID, key string) string {
	return fmt.Sprintf("account:%s:idempotency:%s", accountID, key)
}

func idempotencyLockKey(accountID, key string) string {
	return fmt.Sprintf("account:%s:idempotency-lock:%s", accountID, key)
}

const reconcileDueKey = "reconcile:due"

// AccountRef 全局索引里指向账户自有数据的引用
type AccountRef struct {
	AccountID string `json:"account_id"`
	ID        string `json:"id,omitempty"`
	Live      bool   `json:"live"`
}

func (r AccountRef) member() string {
	return r.AccountID + "|" + mode(r.Live)
}

func parseMember(member string) (AccountRef, bool) {
	i := strings.LastIndex(member, "|")
	if i <= 0 {
		return AccountRef{}, false
	}
	return AccountRef{AccountID: member[:i], Live: member[i+1:] == "live"}, true
}
