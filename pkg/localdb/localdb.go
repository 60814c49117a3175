// Package localdb is the per-machine location database: a badger-backed
// cache of recently observed content-location entries that absorbs warm
// reads so not every lookup travels to the global store.
package localdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"locstore/pkg/model"
)

// DB wraps a badger instance storing one JSON document per content hash.
type DB struct {
	db   *badger.DB
	ttl  time.Duration
	stop chan struct{}
}

// Open creates or reopens the local database at dataDir. entryTTL, when
// positive, bounds how long a cached entry is trusted.
func Open(dataDir string, entryTTL time.Duration) (*DB, error) {
	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	d := &DB{db: bdb, ttl: entryTTL, stop: make(chan struct{})}
	go d.runGC()
	return d, nil
}

// runGC runs the value-log garbage collector periodically.
func (d *DB) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.db.RunValueLogGC(0.7)
		}
	}
}

// Put caches the given entries. Entries with no locations are skipped; a
// miss should not shadow a later registration.
func (d *DB) Put(ctx context.Context, entries []model.Entry) error {
	return d.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if !e.Found() {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			entry := badger.NewEntry([]byte(e.Hash), data)
			if d.ttl > 0 {
				entry = entry.WithTTL(d.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get splits hashes into cached entries and misses.
func (d *DB) Get(ctx context.Context, hashes []model.ContentHash) (found []model.Entry, missing []model.ContentHash, err error) {
	err = d.db.View(func(txn *badger.Txn) error {
		for _, hash := range hashes {
			item, err := txn.Get([]byte(hash))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing = append(missing, hash)
				continue
			}
			if err != nil {
				return err
			}
			var entry model.Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			found = append(found, entry)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("localdb get: %w", err)
	}
	return found, missing, nil
}

// Delete evicts the given hashes.
func (d *DB) Delete(ctx context.Context, hashes []model.ContentHash) error {
	return d.db.Update(func(txn *badger.Txn) error {
		for _, hash := range hashes {
			if err := txn.Delete([]byte(hash)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops background work and closes the database.
func (d *DB) Close() error {
	close(d.stop)
	return d.db.Close()
}
