package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locstore/pkg/model"
)

// flakyStore wraps a Store and fails every operation while broken is set.
type flakyStore struct {
	Store
	broken bool
	calls  int
}

var errStoreDown = errors.New("distributed store unreachable")

func (s *flakyStore) GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error) {
	s.calls++
	if s.broken {
		return nil, errStoreDown
	}
	return s.Store.GetBulk(ctx, hashes)
}

func (s *flakyStore) Register(ctx context.Context, machine model.MachineLocation, entries []model.Entry) error {
	s.calls++
	if s.broken {
		return errStoreDown
	}
	return s.Store.Register(ctx, machine, entries)
}

func (s *flakyStore) Touch(ctx context.Context, machine model.MachineLocation, hashes []model.ContentHash) error {
	s.calls++
	if s.broken {
		return errStoreDown
	}
	return s.Store.Touch(ctx, machine, hashes)
}

func (s *flakyStore) Unregister(ctx context.Context, hashes []model.ContentHash) error {
	s.calls++
	if s.broken {
		return errStoreDown
	}
	return s.Store.Unregister(ctx, hashes)
}

func TestTransitioningPrefersDistributed(t *testing.T) {
	distributed := &flakyStore{Store: NewMemoryStore()}
	legacy := NewMemoryStore()
	store := NewTransitioningStore(distributed, legacy, nil)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "node-a:9380", []model.Entry{{Hash: "hash-1", Size: 10}}))

	got, err := store.GetBulk(ctx, []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	assert.True(t, got[0].Found())

	// The legacy store never saw the write.
	legacyGot, err := legacy.GetBulk(ctx, []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	assert.False(t, legacyGot[0].Found())
}

func TestTransitioningFallsBackPerCall(t *testing.T) {
	distributed := &flakyStore{Store: NewMemoryStore(), broken: true}
	legacy := NewMemoryStore()
	store := NewTransitioningStore(distributed, legacy, nil)
	ctx := context.Background()

	// Write lands on the legacy path while the distributed one is down.
	require.NoError(t, store.Register(ctx, "node-a:9380", []model.Entry{{Hash: "hash-1", Size: 10}}))

	got, err := store.GetBulk(ctx, []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	assert.True(t, got[0].Found())

	require.NoError(t, store.Touch(ctx, "node-b:9380", []model.ContentHash{"hash-1"}))
	require.NoError(t, store.Unregister(ctx, []model.ContentHash{"hash-1"}))

	legacyGot, err := legacy.GetBulk(ctx, []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	assert.False(t, legacyGot[0].Found())

	// The distributed path was attempted first every time.
	assert.Equal(t, 4, distributed.calls)
}

func TestTransitioningRecoversPerCall(t *testing.T) {
	distributed := &flakyStore{Store: NewMemoryStore(), broken: true}
	legacy := NewMemoryStore()
	store := NewTransitioningStore(distributed, legacy, nil)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, "node-a:9380", []model.Entry{{Hash: "hash-1", Size: 10}}))

	// The distributed path comes back; the very next call uses it.
	distributed.broken = false
	require.NoError(t, store.Register(ctx, "node-a:9380", []model.Entry{{Hash: "hash-2", Size: 20}}))

	got, err := distributed.Store.GetBulk(ctx, []model.ContentHash{"hash-2"})
	require.NoError(t, err)
	assert.True(t, got[0].Found())
}

func TestTransitioningNeverMasksCancellation(t *testing.T) {
	distributed := &flakyStore{Store: NewMemoryStore(), broken: true}
	legacy := NewMemoryStore()
	store := NewTransitioningStore(distributed, legacy, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetBulk(ctx, []model.ContentHash{"hash-1"})
	require.Error(t, err)

	err = store.Register(ctx, "node-a:9380", []model.Entry{{Hash: "hash-1", Size: 10}})
	require.Error(t, err)

	// Nothing leaked onto the legacy path after cancellation.
	legacyGot, err := legacy.GetBulk(context.Background(), []model.ContentHash{"hash-1"})
	require.NoError(t, err)
	assert.False(t, legacyGot[0].Found())
}
