package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"locstore/pkg/model"
	"locstore/pkg/redisdb"
)

// RedisBlobStore keeps small content blobs inline in the replicated
// database. It runs over the dedicated "blob" logical database so a storm
// of large-transfer failures never trips the circuit for metadata calls.
type RedisBlobStore struct {
	db       *redisdb.Database
	keyspace string
	ttl      time.Duration
}

// NewRedisBlobStore creates a blob store over the "blob" logical database.
func NewRedisBlobStore(db *redisdb.Database, keyspace string, ttl time.Duration) *RedisBlobStore {
	return &RedisBlobStore{db: db, keyspace: keyspace, ttl: ttl}
}

func (s *RedisBlobStore) key(hash model.ContentHash) string {
	return s.keyspace + ":blob:" + string(hash)
}

// Put stores data under hash.
func (s *RedisBlobStore) Put(ctx context.Context, hash model.ContentHash, data []byte) error {
	err := s.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Set(ctx, s.key(hash), data, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("blob put: %w", err)
	}
	return nil
}

// Get returns the blob stored under hash, if any.
func (s *RedisBlobStore) Get(ctx context.Context, hash model.ContentHash) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := s.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		val, err := rdb.Get(ctx, s.key(hash)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		data, found = val, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("blob get: %w", err)
	}
	return data, found, nil
}
