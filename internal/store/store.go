// Package store 定义业务层依赖的最小 KV 持久化能力:
// 按 key 读写、带 score 的有序集合、按模式扫描删除，以及全有或全无的批量写。
package store

import (
	"context"
	"errors"
	"math"
	"time"
)

var ErrNotFound = errors.New("store: key not found")

var (
	MinScore = math.Inf(-1)
	MaxScore = math.Inf(1)
)

// Store 持久化接口。RedisStore 与 MemoryStore 均实现
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// MGet 与 keys 一一对应，不存在的位置为 nil
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	// Put ttl 为 0 表示不过期
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error

	// RangeByScore 返回 [min, max] 区间的成员; reverse 为 true 时按 score 从大到小
	RangeByScore(ctx context.Context, key string, min, max float64, reverse bool) ([]string, error)

	// ScanDelete 删除所有匹配 glob 模式的 key，返回删除数量
	ScanDelete(ctx context.Context, pattern string) (int, error)

	// Batch 收集 fn 中的写操作并原子提交；fn 返回错误时什么都不写
	Batch(ctx context.Context, fn func(b Batch) error) error
}

// Batch 批量写
type Batch interface {
	Put(key string, value []byte, ttl time.Duration)
	Delete(keys ...string)
	ZAdd(key string, score float64, member string)
	// ZAddLT 成员不存在或新 score 更小时才写入
	ZAddLT(key string, score float64, member string)
	ZRem(key string, members ...string)
}

type opKind int

const (
	opPut opKind = iota
	opDelete
	opZAdd
	opZAddLT
	opZRem
)

type op struct {
	kind    opKind
	key     string
	keys    []string
	value   []byte
	ttl     time.Duration
	score   float64
	members []string
}

// opBatch 先记录操作，再由具体实现一次性提交
type opBatch struct {
	ops []op
}

func (b *opBatch) Put(key string, value []byte, ttl time.Duration) {
	b.ops = append(b.ops, op{kind: opPut, key: key, value: value, ttl: ttl})
}

func (b *opBatch) Delete(keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.ops = append(b.ops, op{kind: opDelete, keys: keys})
}

func (b *opBatch) ZAdd(key string, score float64, member string) {
	b.ops = append(b.ops, op{kind: opZAdd, key: key, score: score, members: []string{member}})
}

func (b *opBatch) ZAddLT(key string, score float64, member string) {
	b.ops = append(b.ops, op{kind: opZAddLT, key: key, score: score, members: []string{member}})
}

func (b *opBatch) ZRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	b.ops = append(b.ops, op{kind: opZRem, key: key, members: members})
}

// Len 用于测试和日志
func (b *opBatch) Len() int {
	return len(b.ops)
}
