package provider

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment-core/internal/model"
	"payment-core/pkg/logger"
)

// balanceOf(address)
var balanceOfSelector = common.FromHex("0x70a08231")

// ContractCaller *ethclient.Client 满足该接口，测试里可以替换
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMBalanceReader 对配置了 RPC 的链直接读 ERC-20 余额，其余调用交给内层 provider
type EVMBalanceReader struct {
	WalletProvider
	callers map[string]ContractCaller
	tokens  map[string]map[string]string
}

func NewEVMBalanceReader(inner WalletProvider, callers map[string]ContractCaller, tokens map[string]map[string]string) *EVMBalanceReader {
	return &EVMBalanceReader{WalletProvider: inner, callers: callers, tokens: tokens}
}

// DialEVM 为每条配置的链建立 ethclient 连接
func DialEVM(ctx context.Context, rpcUrls map[string]string) (map[string]ContractCaller, error) {
	callers := make(map[string]ContractCaller, len(rpcUrls))
	for chain, url := range rpcUrls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
		}
		callers[chain] = client
		logger.Info("EVM rpc connected", zap.String("blockchain", chain))
	}
	return callers, nil
}

func (r *EVMBalanceReader) GetWalletBalances(ctx context.Context, address, blockchain string, live bool) ([]model.Asset, error) {
	caller, ok := r.callers[blockchain]
	if !ok {
		return r.WalletProvider.GetWalletBalances(ctx, address, blockchain, live)
	}

	currencies := make([]string, 0, len(r.tokens[blockchain]))
	for currency := range r.tokens[blockchain] {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	holder := common.HexToAddress(address)
	var assets []model.Asset
	for _, currency := range currencies {
		token := common.HexToAddress(r.tokens[blockchain][currency])
		amount, err := erc20BalanceOf(ctx, caller, token, holder, tokenDecimals(currency))
		if err != nil {
			return nil, fmt.Errorf("%s balanceOf on %s: %w", currency, blockchain, err)
		}
		if amount.IsZero() {
			continue
		}
		assets = append(assets, model.Asset{Currency: currency, Amount: amount})
	}
	return assets, nil
}

func erc20BalanceOf(ctx context.Context, caller ContractCaller, token, holder common.Address, decimals int32) (decimal.Decimal, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), 32)...)

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if len(out) == 0 {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(out), -decimals), nil
}

// 稳定币 6 位小数，其他按 18 位
func tokenDecimals(currency string) int32 {
	switch currency {
	case "USDC", "EURC", "USDT":
		return 6
	}
	return 18
}
