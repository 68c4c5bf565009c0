package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 两个实现跑同一组用例
func implementations(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"redis":  NewRedisStore(rdb),
		"memory": NewMemoryStore(),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "account:a:doc:1", []byte(`{"x":1}`), 0))
			got, err := s.Get(ctx, "account:a:doc:1")
			require.NoError(t, err)
			assert.Equal(t, `{"x":1}`, string(got))

			vals, err := s.MGet(ctx, "account:a:doc:1", "missing")
			require.NoError(t, err)
			require.Len(t, vals, 2)
			assert.Equal(t, `{"x":1}`, string(vals[0]))
			assert.Nil(t, vals[1])

			ok, err := s.SetNX(ctx, "lock:k", []byte("1"), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.SetNX(ctx, "lock:k", []byte("1"), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Batch(ctx, func(b Batch) error {
				b.ZAdd("account:a:index", 2, "second")
				b.ZAdd("account:a:index", 1, "first")
				b.ZAdd("account:a:index", 3, "third")
				b.Put("account:a:doc:2", []byte("two"), 0)
				return nil
			}))

			members, err := s.RangeByScore(ctx, "account:a:index", MinScore, MaxScore, false)
			require.NoError(t, err)
			assert.Equal(t, []string{"first", "second", "third"}, members)

			members, err = s.RangeByScore(ctx, "account:a:index", 2, MaxScore, true)
			require.NoError(t, err)
			assert.Equal(t, []string{"third", "second"}, members)

			n, err := s.ScanDelete(ctx, "account:a:*")
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			_, err = s.Get(ctx, "account:a:doc:2")
			assert.ErrorIs(t, err, ErrNotFound)

			// lock:k 不受影响
			_, err = s.Get(ctx, "lock:k")
			assert.NoError(t, err)
		})
	}
}

func TestBatchAbortsOnError(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")

			err := s.Batch(ctx, func(b Batch) error {
				b.Put("k1", []byte("v"), 0)
				return boom
			})
			assert.ErrorIs(t, err, boom)

			_, err = s.Get(ctx, "k1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "idem", []byte("v"), time.Hour))
	mr.FastForward(2 * time.Hour)

	_, err := s.Get(ctx, "idem")
	assert.ErrorIs(t, err, ErrNotFound)
}
