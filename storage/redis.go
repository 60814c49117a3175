package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"locstore/pkg/model"
	"locstore/pkg/redisdb"
)

// machineField prefixes per-machine fields inside an entry's redis hash.
const machineField = "m:"

// RedisStore is the legacy replicated-database backend. Each content hash
// maps to one redis hash under the keyspace prefix: a "size" field plus one
// field per holding machine carrying its last-access time. All commands run
// through the resilient database handle.
type RedisStore struct {
	db       *redisdb.Database
	keyspace string
	ttl      time.Duration
}

// NewRedisStore creates a store over the "metadata" logical database.
// entryTTL, when positive, bounds how long an untouched entry survives.
func NewRedisStore(db *redisdb.Database, keyspace string, entryTTL time.Duration) *RedisStore {
	return &RedisStore{db: db, keyspace: keyspace, ttl: entryTTL}
}

func (s *RedisStore) key(hash model.ContentHash) string {
	return s.keyspace + ":loc:" + string(hash)
}

func (s *RedisStore) GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error) {
	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	err := s.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		pipe := rdb.Pipeline()
		for i, hash := range hashes {
			cmds[i] = pipe.HGetAll(ctx, s.key(hash))
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis getbulk: %w", err)
	}

	entries := make([]model.Entry, 0, len(hashes))
	for i, hash := range hashes {
		fields, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("redis getbulk %q: %w", hash, err)
		}
		entries = append(entries, decodeEntry(hash, fields))
	}
	return entries, nil
}

func decodeEntry(hash model.ContentHash, fields map[string]string) model.Entry {
	entry := model.Entry{Hash: hash}
	for field, value := range fields {
		if field == "size" {
			entry.Size, _ = strconv.ParseInt(value, 10, 64)
			continue
		}
		if !strings.HasPrefix(field, machineField) {
			continue
		}
		entry.Locations = append(entry.Locations, model.MachineLocation(field[len(machineField):]))
		if millis, err := strconv.ParseInt(value, 10, 64); err == nil {
			if t := time.UnixMilli(millis); t.After(entry.LastAccess) {
				entry.LastAccess = t
			}
		}
	}
	sort.Slice(entry.Locations, func(i, j int) bool { return entry.Locations[i] < entry.Locations[j] })
	return entry
}

func (s *RedisStore) Register(ctx context.Context, machine model.MachineLocation, entries []model.Entry) error {
	now := time.Now().UnixMilli()
	err := s.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		pipe := rdb.Pipeline()
		for _, entry := range entries {
			key := s.key(entry.Hash)
			fields := map[string]interface{}{
				"size":                          entry.Size,
				machineField + string(machine): now,
			}
			for _, loc := range entry.Locations {
				fields[machineField+string(loc)] = now
			}
			pipe.HSet(ctx, key, fields)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis register: %w", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, machine model.MachineLocation, hashes []model.ContentHash) error {
	now := time.Now().UnixMilli()
	err := s.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		pipe := rdb.Pipeline()
		for _, hash := range hashes {
			key := s.key(hash)
			pipe.HSet(ctx, key, machineField+string(machine), now)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis touch: %w", err)
	}
	return nil
}

func (s *RedisStore) Unregister(ctx context.Context, hashes []model.ContentHash) error {
	err := s.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		keys := make([]string, len(hashes))
		for i, hash := range hashes {
			keys[i] = s.key(hash)
		}
		return rdb.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis unregister: %w", err)
	}
	return nil
}

// Close is a no-op; the physical connection is owned by the factory.
func (s *RedisStore) Close() error { return nil }
