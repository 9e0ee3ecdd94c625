package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/parish-registry/pkg/storage"
)

const redisWatchRetries = 5

// RedisStore keeps each record as a JSON value under prefix:tenant:key. Insert
// is a SETNX, and records expire on their own after ttl.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. ttl should match the guard's
// TTL; zero keeps records until DeleteExpired removes them.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "idempotency"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) redisKey(tenantID int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", s.prefix, tenantID, key)
}

// Insert is a SETNX of the encoded record
func (s *RedisStore) Insert(ctx context.Context, rec Record) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.redisKey(rec.TenantID, rec.Key), data, s.ttl).Result()
	if err != nil {
		return false, storage.Unavailable("insert idempotency key", err)
	}
	return ok, nil
}

// Get reads the record for (tenantID, key)
func (s *RedisStore) Get(ctx context.Context, tenantID int64, key string) (*Record, error) {
	rec, err := s.read(ctx, s.client, s.redisKey(tenantID, key))
	if err != nil {
		return nil, storage.Unavailable("get idempotency key", err)
	}
	return rec, nil
}

// SetResponse rewrites the record under WATCH, keeping its remaining TTL
func (s *RedisStore) SetResponse(ctx context.Context, tenantID int64, key string, createdAt time.Time, code int) error {
	k := s.redisKey(tenantID, key)
	err := s.watch(ctx, k, func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, k)
		if err != nil || rec == nil {
			return err
		}
		if !createdAt.IsZero() && !rec.CreatedAt.Equal(createdAt) {
			return nil
		}
		ttl, err := tx.PTTL(ctx, k).Result()
		if err != nil {
			return err
		}
		if ttl < 0 {
			// -1 means no expiry; Set treats zero the same
			ttl = 0
		}
		rec.ResponseCode = &code
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, data, ttl)
			return nil
		})
		return err
	})
	return storage.Unavailable("record idempotent response", err)
}

// Delete removes the record under WATCH if it was created at createdAt
func (s *RedisStore) Delete(ctx context.Context, tenantID int64, key string, createdAt time.Time) (bool, error) {
	k := s.redisKey(tenantID, key)
	deleted := false
	err := s.watch(ctx, k, func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, k)
		if err != nil || rec == nil || !rec.CreatedAt.Equal(createdAt) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, k)
			return nil
		})
		deleted = err == nil
		return err
	})
	if err != nil {
		return false, storage.Unavailable("delete idempotency key", err)
	}
	return deleted, nil
}

// DeleteExpired scans the prefix for records created at or before before.
// Records written with a TTL usually expire in Redis first.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		rec, err := s.read(ctx, s.client, k)
		if err != nil {
			return n, storage.Unavailable("purge idempotency keys", err)
		}
		if rec == nil || rec.CreatedAt.After(before) {
			continue
		}
		ok, err := s.Delete(ctx, rec.TenantID, rec.Key, rec.CreatedAt)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if err := iter.Err(); err != nil {
		return n, storage.Unavailable("purge idempotency keys", err)
	}
	return n, nil
}

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, k string) (*Record, error) {
	data, err := c.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record %s: %w", k, err)
	}
	return &rec, nil
}

// watch runs fn in an optimistic transaction on k, retrying when k changed
// underneath it
func (s *RedisStore) watch(ctx context.Context, k string, fn func(*redis.Tx) error) error {
	for i := 0; i < redisWatchRetries; i++ {
		err := s.client.Watch(ctx, fn, k)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("key %s kept changing: %w", k, redis.TxFailedErr)
}
