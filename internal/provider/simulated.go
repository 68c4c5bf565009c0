package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payment-core/internal/model"
	"payment-core/pkg/crypto_util"
	"payment-core/pkg/safe_random"
)

// SimulatedLedger 进程内模拟的托管钱包 + 跨链桥服务商，开发环境与集成测试使用。
// 交易 hash 用 Keccak256 生成，形态与 EVM 链一致
type SimulatedLedger struct {
	mu        sync.Mutex
	wallets   map[string]*simWallet // key: blockchain|address
	txs       []simTx
	sends     map[string]*SentTransaction // idempotency key -> 结果
	explorers map[string]string
	tokens    map[string]map[string]string
	seq       int

	// NetworkFee 每笔转账收取的网络费 (以转账币种计)
	NetworkFee decimal.Decimal
	// FailBridgeStep 非空时桥接在该步骤失败一次，用于演练重试
	FailBridgeStep model.BridgeStep

	Now func() time.Time
}

type simWallet struct {
	blockchain string
	live       bool
	address    string
	assets     map[string]decimal.Decimal
}

type simTx struct {
	address string
	tx      model.Transaction
}

func NewSimulatedLedger(explorers map[string]string, tokens map[string]map[string]string) *SimulatedLedger {
	if explorers == nil {
		explorers = map[string]string{}
	}
	if tokens == nil {
		tokens = map[string]map[string]string{}
	}
	return &SimulatedLedger{
		wallets:    map[string]*simWallet{},
		sends:      map[string]*SentTransaction{},
		explorers:  explorers,
		tokens:     tokens,
		NetworkFee: decimal.RequireFromString("0.01"),
		Now:        time.Now,
	}
}

func walletKey(blockchain, address string) string {
	return blockchain + "|" + strings.ToLower(address)
}

func (s *SimulatedLedger) CreateWallet(ctx context.Context, blockchain string, live bool) (string, error) {
	raw, err := safe_random.GenerateRandomHexString(20)
	if err != nil {
		return "", err
	}
	address := "0x" + raw

	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[walletKey(blockchain, address)] = &simWallet{
		blockchain: blockchain,
		live:       live,
		address:    address,
		assets:     map[string]decimal.Decimal{},
	}
	return address, nil
}

// Fund 直接给地址充值 (模拟外部入金)，地址未知时自动登记
func (s *SimulatedLedger) Fund(blockchain, address, currency string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallet(blockchain, address)
	w.assets[currency] = w.assets[currency].Add(amount)
}

func (s *SimulatedLedger) wallet(blockchain, address string) *simWallet {
	k := walletKey(blockchain, address)
	w, ok := s.wallets[k]
	if !ok {
		w = &simWallet{blockchain: blockchain, address: address, assets: map[string]decimal.Decimal{}}
		s.wallets[k] = w
	}
	return w
}

func (s *SimulatedLedger) GetWalletBalances(ctx context.Context, address, blockchain string, live bool) ([]model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletKey(blockchain, address)]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found on %s", address, blockchain)
	}
	assets := make([]model.Asset, 0, len(w.assets))
	for currency, amount := range w.assets {
		if amount.IsZero() {
			continue
		}
		assets = append(assets, model.Asset{Currency: currency, Amount: amount})
	}
	return assets, nil
}

func (s *SimulatedLedger) TokenAddress(blockchain, currency string) (string, bool) {
	if byCurrency, ok := s.tokens[blockchain]; ok {
		if addr, ok := byCurrency[currency]; ok {
			return addr, true
		}
	}
	// 未配置时用确定性的伪地址
	return "0x" + crypto_util.CalculateSHA256([]byte(blockchain + ":" + currency))[:40], true
}

func (s *SimulatedLedger) nextHash(parts ...string) string {
	s.seq++
	return crypto_util.CalculateKeccak256([]byte(fmt.Sprintf("%s#%d", strings.Join(parts, "|"), s.seq)))
}

func (s *SimulatedLedger) explorerURL(blockchain, hash string) string {
	if base, ok := s.explorers[blockchain]; ok && base != "" {
		return base + hash
	}
	return ""
}

func (s *SimulatedLedger) SendTransaction(ctx context.Context, req SendRequest) (*SentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sends[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return prev, nil
	}

	src, ok := s.wallets[walletKey(req.Blockchain, req.SourceAddress)]
	if !ok {
		return nil, fmt.Errorf("source wallet %s not found on %s", req.SourceAddress, req.Blockchain)
	}
	total := req.Amount.Add(s.NetworkFee)
	if src.assets[req.Currency].LessThan(total) {
		return nil, fmt.Errorf("insufficient %s on %s: need %s", req.Currency, req.SourceAddress, total)
	}

	now := s.Now().UTC()
	hash := s.nextHash(req.Blockchain, req.SourceAddress, req.DestinationAddress, req.Amount.String())
	id := "sim_" + hash[2:18]
	explorer := s.explorerURL(req.Blockchain, hash)

	src.assets[req.Currency] = src.assets[req.Currency].Sub(total)
	dst := s.wallet(req.Blockchain, req.DestinationAddress)
	dst.assets[req.Currency] = dst.assets[req.Currency].Add(req.Amount)

	chain := model.BlockchainInfo{Hash: hash, Counterparty: req.DestinationAddress, ExplorerURL: explorer}
	s.record(req.SourceAddress, model.Transaction{
		Type: model.TransactionTypePayment, Status: model.TransactionStatusCompleted,
		Amount: req.Amount.Neg(), Currency: req.Currency, ProcessorID: id, Reference: req.IdempotencyKey,
		Blockchain: chain, CreatedAt: now, FinishedAt: &now,
	})
	if s.NetworkFee.IsPositive() {
		s.record(req.SourceAddress, model.Transaction{
			Type: model.TransactionTypeFee, Status: model.TransactionStatusCompleted,
			Amount: s.NetworkFee.Neg(), Currency: req.Currency, ProcessorID: id + "_fee",
			Blockchain: model.BlockchainInfo{Hash: hash, ExplorerURL: explorer}, CreatedAt: now, FinishedAt: &now,
		})
	}
	s.record(req.DestinationAddress, model.Transaction{
		Type: model.TransactionTypePayment, Status: model.TransactionStatusCompleted,
		Amount: req.Amount, Currency: req.Currency, ProcessorID: id + "_in",
		Blockchain: model.BlockchainInfo{Hash: hash, Counterparty: req.SourceAddress, ExplorerURL: explorer},
		CreatedAt:  now, FinishedAt: &now,
	})

	sent := &SentTransaction{ID: id, Hash: hash, Status: model.TransactionStatusSent, ExplorerURL: explorer}
	if req.IdempotencyKey != "" {
		s.sends[req.IdempotencyKey] = sent
	}
	return sent, nil
}

func (s *SimulatedLedger) record(address string, tx model.Transaction) {
	s.txs = append(s.txs, simTx{address: strings.ToLower(address), tx: tx})
}

func (s *SimulatedLedger) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.tx.ProcessorID == id {
			tx := t.tx
			return &tx, nil
		}
	}
	return nil, nil
}

func (s *SimulatedLedger) ListTransactions(ctx context.Context, address, blockchain string, live bool) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := strings.ToLower(address)
	var out []model.Transaction
	for _, t := range s.txs {
		if t.address == addr {
			out = append(out, t.tx)
		}
	}
	return out, nil
}

// ---- Bridge ----

var bridgeSteps = []model.BridgeStep{model.BridgeStepApprove, model.BridgeStepBurn, model.BridgeStepMint}

func (s *SimulatedLedger) Bridge(ctx context.Context, req BridgeRequest) (*BridgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.wallets[walletKey(req.From.Blockchain, req.From.Address)]
	if !ok {
		return nil, fmt.Errorf("source wallet %s not found on %s", req.From.Address, req.From.Blockchain)
	}
	if src.assets["USDC"].LessThan(req.Amount) {
		return nil, fmt.Errorf("insufficient USDC on %s", req.From.Address)
	}
	result := &BridgeResult{State: BridgeStatePending, Source: req.From, Destination: req.To, Amount: req.Amount}
	s.runSteps(result)
	return result, nil
}

func (s *SimulatedLedger) Retry(ctx context.Context, previous *BridgeResult) (*BridgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &BridgeResult{
		State:       BridgeStatePending,
		Source:      previous.Source,
		Destination: previous.Destination,
		Amount:      previous.Amount,
	}
	// 已成功的步骤原样保留，从第一个未成功的步骤继续
	for _, st := range previous.Steps {
		if st.State == BridgeStateSuccess {
			result.Steps = append(result.Steps, st)
		}
	}
	s.runSteps(result)
	return result, nil
}

func (s *SimulatedLedger) runSteps(result *BridgeResult) {
	gas := &GasData{Fee: decimal.RequireFromString("0.005"), Currency: "USDC"}
	for _, name := range bridgeSteps {
		if st := result.Step(name); st != nil && st.State == BridgeStateSuccess {
			continue
		}
		if s.FailBridgeStep == name {
			s.FailBridgeStep = ""
			result.Steps = append(result.Steps, BridgeStepResult{Name: name, State: BridgeStateError, Error: "simulated failure"})
			result.State = BridgeStateError
			return
		}

		chain := result.Source.Blockchain
		if name == model.BridgeStepMint {
			chain = result.Destination.Blockchain
		}
		hash := s.nextHash(string(name), result.Source.Address, result.Destination.Address)
		switch name {
		case model.BridgeStepBurn:
			w := s.wallet(result.Source.Blockchain, result.Source.Address)
			w.assets["USDC"] = w.assets["USDC"].Sub(result.Amount).Sub(gas.Fee)
		case model.BridgeStepMint:
			w := s.wallet(result.Destination.Blockchain, result.Destination.Address)
			w.assets["USDC"] = w.assets["USDC"].Add(result.Amount).Sub(gas.Fee)
		case model.BridgeStepApprove:
			w := s.wallet(result.Source.Blockchain, result.Source.Address)
			w.assets["USDC"] = w.assets["USDC"].Sub(gas.Fee)
		}
		result.Steps = append(result.Steps, BridgeStepResult{
			Name:        name,
			State:       BridgeStateSuccess,
			TxHash:      hash,
			ExplorerURL: s.explorerURL(chain, hash),
			GasData:     &GasData{Fee: gas.Fee, Currency: gas.Currency},
		})
	}
	result.State = BridgeStateSuccess
}
