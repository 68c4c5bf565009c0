package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 基于 go-redis 的实现。Batch 走 MULTI/EXEC
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = []byte(str)
		}
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) RangeByScore(ctx context.Context, key string, min, max float64, reverse bool) ([]string, error) {
	by := &redis.ZRangeBy{Min: formatScore(min), Max: formatScore(max)}
	var (
		members []string
		err     error
	)
	if reverse {
		members, err = s.client.ZRevRangeByScore(ctx, key, by).Result()
	} else {
		members, err = s.client.ZRangeByScore(ctx, key, by).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis zrange %s: %w", key, err)
	}
	return members, nil
}

func (s *RedisStore) ScanDelete(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func (s *RedisStore) Batch(ctx context.Context, fn func(b Batch) error) error {
	b := &opBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range b.ops {
			switch o.kind {
			case opPut:
				pipe.Set(ctx, o.key, o.value, o.ttl)
			case opDelete:
				pipe.Del(ctx, o.keys...)
			case opZAdd:
				pipe.ZAdd(ctx, o.key, redis.Z{Score: o.score, Member: o.members[0]})
			case opZAddLT:
				pipe.ZAddLT(ctx, o.key, redis.Z{Score: o.score, Member: o.members[0]})
			case opZRem:
				members := make([]interface{}, len(o.members))
				for i, m := range o.members {
					members[i] = m
				}
				pipe.ZRem(ctx, o.key, members...)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis multi/exec (%d ops): %w", b.Len(), err)
	}
	return nil
}

func formatScore(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
