package store

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore 进程内实现，用于单测和 app.env=test。
// key/value 部分交给 go-cache 处理 TTL；有序集合单独维护。
// mu 保证 Batch 对读操作而言是原子的
type MemoryStore struct {
	mu   sync.RWMutex
	kv   *gocache.Cache
	sets map[string]map[string]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:   gocache.New(gocache.NoExpiration, time.Minute),
		sets: map[string]map[string]float64{},
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(key)
}

func (m *MemoryStore) get(key string) ([]byte, error) {
	v, ok := m.kv.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	// 返回副本，避免调用方改到缓存里的切片
	b := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemoryStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, err := m.get(k); err == nil {
			out[i] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return nil
}

func (m *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	b := make([]byte, len(value))
	copy(b, value)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.kv.Set(key, b, ttl)
}

func (m *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	// Add 只在 key 不存在 (或已过期) 时成功
	if err := m.kv.Add(key, append([]byte(nil), value...), ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delete(keys...)
	return nil
}

func (m *MemoryStore) delete(keys ...string) {
	for _, k := range keys {
		m.kv.Delete(k)
		delete(m.sets, k)
	}
}

func (m *MemoryStore) RangeByScore(ctx context.Context, key string, min, max float64, reverse bool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for member, score := range m.sets[key] {
		if score >= min && score <= max {
			entries = append(entries, entry{member, score})
		}
	}
	// 与 Redis 一致: score 相同按成员字典序
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].member < entries[j].member
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		if reverse {
			out[len(entries)-1-i] = e.member
		} else {
			out[i] = e.member
		}
	}
	return out, nil
}

func (m *MemoryStore) ScanDelete(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []string
	for k := range m.kv.Items() {
		if ok, _ := path.Match(pattern, k); ok {
			matched = append(matched, k)
		}
	}
	for k := range m.sets {
		if ok, _ := path.Match(pattern, k); ok {
			matched = append(matched, k)
		}
	}
	m.delete(matched...)
	return len(matched), nil
}

func (m *MemoryStore) Batch(ctx context.Context, fn func(b Batch) error) error {
	b := &opBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range b.ops {
		switch o.kind {
		case opPut:
			m.put(o.key, o.value, o.ttl)
		case opDelete:
			m.delete(o.keys...)
		case opZAdd, opZAddLT:
			set, ok := m.sets[o.key]
			if !ok {
				set = map[string]float64{}
				m.sets[o.key] = set
			}
			if cur, exists := set[o.members[0]]; exists && o.kind == opZAddLT && cur <= o.score {
				continue
			}
			set[o.members[0]] = o.score
		case opZRem:
			for _, member := range o.members {
				delete(m.sets[o.key], member)
			}
		}
	}
	return nil
}
