package provider

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-core/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSimulatedLedger_SendTransaction(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedLedger(map[string]string{"arc": "https://explorer.arc/tx/"}, nil)

	from, err := sim.CreateWallet(ctx, "arc", false)
	require.NoError(t, err)
	to, err := sim.CreateWallet(ctx, "arc", false)
	require.NoError(t, err)
	sim.Fund("arc", from, "USDC", d("30"))

	req := SendRequest{Blockchain: "arc", SourceAddress: from, DestinationAddress: to, Currency: "USDC", Amount: d("20"), IdempotencyKey: "tx_1"}
	sent, err := sim.SendTransaction(ctx, req)
	require.NoError(t, err)
	assert.Len(t, sent.Hash, 66)
	assert.Equal(t, "https://explorer.arc/tx/"+sent.Hash, sent.ExplorerURL)

	// 相同 idempotency key 不会再扣一次
	again, err := sim.SendTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sent, again)

	assets, err := sim.GetWalletBalances(ctx, from, "arc", false)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Amount.Equal(d("9.99")))

	txs, err := sim.ListTransactions(ctx, from, "arc", false)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TransactionTypePayment, txs[0].Type)
	assert.Equal(t, model.TransactionTypeFee, txs[1].Type)
	assert.Equal(t, sent.Hash, txs[1].Blockchain.Hash)

	_, err = sim.SendTransaction(ctx, SendRequest{Blockchain: "arc", SourceAddress: from, DestinationAddress: to, Currency: "USDC", Amount: d("100")})
	assert.Error(t, err)
}

func TestSimulatedLedger_BridgeFailAndRetry(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedLedger(nil, nil)
	sim.Fund("ethereum", "0xaaa", "USDC", d("10"))
	sim.FailBridgeStep = model.BridgeStepBurn

	req := BridgeRequest{From: Endpoint{"ethereum", "0xaaa"}, To: Endpoint{"base", "0xbbb"}, Amount: d("5")}
	res, err := sim.Bridge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, BridgeStateError, res.State)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, BridgeStateSuccess, res.Step(model.BridgeStepApprove).State)
	assert.Nil(t, res.Step(model.BridgeStepMint))

	retried, err := sim.Retry(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, BridgeStateSuccess, retried.State)
	require.Len(t, retried.Steps, 3)
	// approve 沿用原来的 hash
	assert.Equal(t, res.Step(model.BridgeStepApprove).TxHash, retried.Step(model.BridgeStepApprove).TxHash)
}

type flakyProvider struct {
	WalletProvider
	calls int
	ready int
}

func (f *flakyProvider) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	f.calls++
	status := model.TransactionStatusSent
	if f.calls >= f.ready {
		status = model.TransactionStatusCompleted
	}
	return &model.Transaction{ProcessorID: id, Status: status}, nil
}

func TestPollTransaction(t *testing.T) {
	ctx := context.Background()
	done := func(tx *model.Transaction) bool { return tx.IsFinal() }

	p := &flakyProvider{ready: 3}
	tx, err := PollTransaction(ctx, p, "tx", done, 5, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, 3, p.calls)

	// 超过次数后放弃，返回 nil
	p = &flakyProvider{ready: 10}
	tx, err = PollTransaction(ctx, p, "tx", done, 2, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, tx)
	assert.Equal(t, 3, p.calls)
}

type fakeCaller struct {
	balances map[common.Address]*big.Int
	err      error
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	holder := common.BytesToAddress(call.Data[4:])
	b, ok := f.balances[holder]
	if !ok {
		return common.LeftPadBytes(nil, 32), nil
	}
	return common.LeftPadBytes(b.Bytes(), 32), nil
}

func TestEVMBalanceReader(t *testing.T) {
	ctx := context.Background()
	holder := "0x00000000000000000000000000000000000000aa"
	caller := &fakeCaller{balances: map[common.Address]*big.Int{
		common.HexToAddress(holder): big.NewInt(12_345_678), // 12.345678 USDC
	}}
	inner := NewSimulatedLedger(nil, nil)
	inner.Fund("arc", holder, "USDC", d("1"))

	r := NewEVMBalanceReader(inner,
		map[string]ContractCaller{"ethereum": caller},
		map[string]map[string]string{"ethereum": {"USDC": "0x00000000000000000000000000000000000000c0"}})

	assets, err := r.GetWalletBalances(ctx, holder, "ethereum", true)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Amount.Equal(d("12.345678")), assets[0].Amount.String())

	// 没配 RPC 的链交给内层
	assets, err = r.GetWalletBalances(ctx, holder, "arc", true)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Amount.Equal(d("1")))

	caller.err = errors.New("rpc down")
	_, err = r.GetWalletBalances(ctx, holder, "ethereum", true)
	assert.Error(t, err)
}
