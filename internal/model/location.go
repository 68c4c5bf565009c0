package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LocationType 目前只有托管钱包一种
type LocationType string

const (
	LocationTypeWallet LocationType = "wallet"
)

// Asset 某个币种在一个 Location 上的数量
type Asset struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// Location 一个托管链上钱包，归属于唯一账户
type Location struct {
	ID         string       `json:"id"`
	AccountID  string       `json:"account_id"`
	Live       bool         `json:"live"`
	Type       LocationType `json:"type"`
	Blockchain string       `json:"blockchain"`
	Address    string       `json:"address"`
	Assets     []Asset      `json:"assets"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// AssetAmount 返回该币种的数量，没有记录时为 0
func (l *Location) AssetAmount(currency string) decimal.Decimal {
	for _, a := range l.Assets {
		if a.Currency == currency {
			return a.Amount
		}
	}
	return decimal.Zero
}

// SameAssets 逐币种比较 (精确的十进制比较，顺序无关)
func SameAssets(a, b []Asset) bool {
	if len(a) != len(b) {
		return false
	}
	idx := make(map[string]decimal.Decimal, len(a))
	for _, x := range a {
		idx[x.Currency] = x.Amount
	}
	for _, y := range b {
		amt, ok := idx[y.Currency]
		if !ok || !amt.Equal(y.Amount) {
			return false
		}
	}
	return true
}

// Balance 账户在某个币种上的缓存汇总。
// 对账之后 Amount == Σ holdings 中该币种的 asset.amount
type Balance struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Live      bool            `json:"live"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Holdings  []string        `json:"holdings"` // location ids，顺序即账本顺序
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasHolding reports whether locationID is already part of the balance.
func (b *Balance) HasHolding(locationID string) bool {
	for _, id := range b.Holdings {
		if id == locationID {
			return true
		}
	}
	return false
}
