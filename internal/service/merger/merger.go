// Package merger 把外部账本观察到的交易合并进本地交易记录。
//
// 匹配规则 (同 type 之内):
//  1. 服务商交易 id 相同
//  2. 本地尚无服务商 id 时，按 (链上 hash, location) 匹配
//  3. 远端 Reference 等于本地交易 id (两阶段写入中途崩溃留下的 queued 记录)
//
// 已终结 (completed/failed/canceled) 的本地记录永远不会被修改。
package merger

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"payment-core/internal/model"
	"payment-core/pkg/monitor"
)

// Result Merged 为合并后的完整列表 (最新在前)；New 与 UpdatedIDs 是需要落库的部分
type Result struct {
	Merged     []model.Transaction
	New        []model.Transaction
	UpdatedIDs []string
	// RetryIDs 仍处于 queued 且远端没有对应记录，交给后台任务重发；合并本身不重试
	RetryIDs []string
}

// Changed 是否有需要写入的数据
func (r Result) Changed() bool {
	return len(r.New) > 0 || len(r.UpdatedIDs) > 0
}

// Updated 返回 UpdatedIDs 对应的记录
func (r Result) Updated() []model.Transaction {
	if len(r.UpdatedIDs) == 0 {
		return nil
	}
	ids := make(map[string]bool, len(r.UpdatedIDs))
	for _, id := range r.UpdatedIDs {
		ids[id] = true
	}
	out := make([]model.Transaction, 0, len(r.UpdatedIDs))
	for _, tx := range r.Merged {
		if ids[tx.ID] {
			out = append(out, tx)
		}
	}
	return out
}

type Merger struct {
	NewID func() string
	Now   func() time.Time
}

func New() *Merger {
	return &Merger{
		NewID: uuid.NewString,
		Now:   time.Now,
	}
}

type linkSet struct {
	paymentID, captureID, bridgeID string
}

// Merge 纯函数: 不做任何 I/O。相同的 remote 快照重复合并不会产生新记录或更新
func (m *Merger) Merge(local, remote []model.Transaction) Result {
	merged := make([]model.Transaction, len(local))
	copy(merged, local)

	byProcessor := map[string]int{}
	byHash := map[string]int{}
	byID := map[string]int{}
	links := map[string]linkSet{}
	for i := range merged {
		m.index(merged, i, byProcessor, byHash, byID, links)
	}

	matched := map[int]bool{}
	updated := map[int]bool{}
	var fresh []int

	for _, r := range remote {
		if r.ProcessorID == "" && r.Blockchain.Hash == "" && r.Reference == "" {
			// 无法关联的记录每次都会变成新交易，直接丢弃
			continue
		}
		i, ok := lookup(r, byProcessor, byHash, byID)
		if !ok {
			tx := m.materialize(r, links)
			merged = append(merged, tx)
			idx := len(merged) - 1
			fresh = append(fresh, idx)
			m.index(merged, idx, byProcessor, byHash, byID, links)
			continue
		}
		matched[i] = true
		if merged[i].IsFinal() {
			continue
		}
		next := overwrite(merged[i], r)
		if !sameObserved(merged[i], next) {
			merged[i] = next
			// 新记录被后续远端记录更新时仍然只算 new
			if !containsInt(fresh, i) {
				updated[i] = true
			}
			m.index(merged, i, byProcessor, byHash, byID, links)
		}
	}

	res := Result{}
	for _, i := range fresh {
		res.New = append(res.New, merged[i])
	}
	for i := range local {
		if updated[i] {
			res.UpdatedIDs = append(res.UpdatedIDs, merged[i].ID)
		}
		if !matched[i] && merged[i].Status == model.TransactionStatusQueued {
			res.RetryIDs = append(res.RetryIDs, merged[i].ID)
		}
	}

	sort.SliceStable(merged, func(a, b int) bool {
		if !merged[a].CreatedAt.Equal(merged[b].CreatedAt) {
			return merged[a].CreatedAt.After(merged[b].CreatedAt)
		}
		return merged[a].ID > merged[b].ID
	})
	res.Merged = merged

	monitor.Business.MergedTransactionsTotal.WithLabelValues("new").Add(float64(len(res.New)))
	monitor.Business.MergedTransactionsTotal.WithLabelValues("updated").Add(float64(len(res.UpdatedIDs)))
	monitor.Business.MergedTransactionsTotal.WithLabelValues("retry").Add(float64(len(res.RetryIDs)))
	return res
}

func (m *Merger) index(txs []model.Transaction, i int, byProcessor, byHash, byID map[string]int, links map[string]linkSet) {
	tx := txs[i]
	byID[string(tx.Type)+"|"+tx.ID] = i
	if tx.ProcessorID != "" {
		byProcessor[string(tx.Type)+"|"+tx.ProcessorID] = i
	} else if tx.Blockchain.Hash != "" {
		byHash[hashKey(tx)] = i
	}
	if tx.Blockchain.Hash != "" && (tx.PaymentID != "" || tx.CaptureID != "" || tx.BridgeTransferID != "") {
		if _, ok := links[tx.Blockchain.Hash]; !ok {
			links[tx.Blockchain.Hash] = linkSet{tx.PaymentID, tx.CaptureID, tx.BridgeTransferID}
		}
	}
}

func hashKey(tx model.Transaction) string {
	return string(tx.Type) + "|" + tx.Blockchain.Hash + "|" + tx.LocationID
}

func lookup(r model.Transaction, byProcessor, byHash, byID map[string]int) (int, bool) {
	if r.ProcessorID != "" {
		if i, ok := byProcessor[string(r.Type)+"|"+r.ProcessorID]; ok {
			return i, true
		}
	}
	if r.Blockchain.Hash != "" {
		if i, ok := byHash[hashKey(r)]; ok {
			return i, true
		}
	}
	if r.Reference != "" {
		if i, ok := byID[string(r.Type)+"|"+r.Reference]; ok {
			return i, true
		}
	}
	return 0, false
}

func (m *Merger) materialize(r model.Transaction, links map[string]linkSet) model.Transaction {
	tx := r
	tx.ID = m.NewID()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = m.Now().UTC()
	}
	// 同一笔链上交易产生的手续费/对账记录挂到同一个业务对象上
	if tx.PaymentID == "" && tx.CaptureID == "" && tx.BridgeTransferID == "" && tx.Blockchain.Hash != "" {
		if l, ok := links[tx.Blockchain.Hash]; ok {
			tx.PaymentID, tx.CaptureID, tx.BridgeTransferID = l.paymentID, l.captureID, l.bridgeID
		}
	}
	return tx
}

// overwrite 用远端观察到的字段覆盖本地记录；id、关联、创建时间保持不变，状态不回退
func overwrite(local, r model.Transaction) model.Transaction {
	next := local
	if r.Status.Rank() >= local.Status.Rank() {
		next.Status = r.Status
	}
	next.Amount = r.Amount
	if r.Currency != "" {
		next.Currency = r.Currency
	}
	if r.LocationID != "" {
		next.LocationID = r.LocationID
	}
	if r.FinishedAt != nil {
		next.FinishedAt = r.FinishedAt
	}
	if r.Blockchain.Hash != "" {
		next.Blockchain.Hash = r.Blockchain.Hash
	}
	if r.Blockchain.Counterparty != "" {
		next.Blockchain.Counterparty = r.Blockchain.Counterparty
	}
	if r.Blockchain.ExplorerURL != "" {
		next.Blockchain.ExplorerURL = r.Blockchain.ExplorerURL
	}
	if r.ProcessorID != "" {
		next.ProcessorID = r.ProcessorID
	}
	if r.Reference != "" {
		next.Reference = r.Reference
	}
	return next
}

func sameObserved(a, b model.Transaction) bool {
	if a.Status != b.Status || !a.Amount.Equal(b.Amount) || a.Currency != b.Currency || a.LocationID != b.LocationID {
		return false
	}
	if a.Blockchain != b.Blockchain || a.ProcessorID != b.ProcessorID || a.Reference != b.Reference {
		return false
	}
	switch {
	case a.FinishedAt == nil && b.FinishedAt == nil:
		return true
	case a.FinishedAt == nil || b.FinishedAt == nil:
		return false
	default:
		return a.FinishedAt.Equal(*b.FinishedAt)
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
