package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "helmwatch:"

// Redis stores records as plain string keys under the helmwatch: namespace.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return failed("put", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, failed("get", key, err)
	}
	return value, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return failed("delete", key, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, prefix string) ([]Record, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, globEscape(redisKeyPrefix+prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, failed("list", prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)
	keys = compactSorted(keys)

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, failed("list", prefix, err)
	}
	out := make([]Record, 0, len(keys))
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		out = append(out, Record{Key: strings.TrimPrefix(keys[i], redisKeyPrefix), Value: []byte(s)})
	}
	return out, nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SCAN may return a key more than once.
func compactSorted(keys []string) []string {
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}
