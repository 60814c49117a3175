package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locstore/config"
	"locstore/pkg/client"
	"locstore/pkg/election"
	"locstore/pkg/model"
	"locstore/pkg/server"
	"locstore/storage"
)

// switchableElection lets tests move mastership between nodes at will.
type switchableElection struct {
	mu    sync.Mutex
	state election.State
	err   error
}

func (e *switchableElection) set(state election.State, err error) {
	e.mu.Lock()
	e.state, e.err = state, err
	e.mu.Unlock()
}

func (e *switchableElection) CurrentMaster(ctx context.Context) (election.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.err
}

func (e *switchableElection) Release(ctx context.Context) error { return nil }

// serviceNode is one in-process location service with its own store.
type serviceNode struct {
	address model.MachineLocation
	store   *storage.MemoryStore
}

func startNode(t *testing.T) *serviceNode {
	t.Helper()
	store := storage.NewMemoryStore()
	cfg := &config.Config{}
	cfg.Machine.Address = "placeholder"

	srv := server.New(cfg, store, &switchableElection{}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &serviceNode{
		address: model.MachineLocation(ts.Listener.Addr().String()),
		store:   store,
	}
}

func holds(t *testing.T, store *storage.MemoryStore, hash model.ContentHash) bool {
	t.Helper()
	got, err := store.GetBulk(context.Background(), []model.ContentHash{hash})
	require.NoError(t, err)
	return got[0].Found()
}

func TestRouterFollowsMaster(t *testing.T) {
	nodeA := startNode(t)
	nodeB := startNode(t)
	elect := &switchableElection{}
	elect.set(election.State{Role: election.RoleWorker, Master: nodeA.address}, nil)

	router := client.NewRouter(elect, time.Second, nil)
	ctx := context.Background()

	err := router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		return c.Register(ctx, "node-x:9380", []model.Entry{{Hash: "hash-1", Size: 10}})
	})
	require.NoError(t, err)
	assert.True(t, holds(t, nodeA.store, "hash-1"))
	assert.False(t, holds(t, nodeB.store, "hash-1"))

	// Mastership moves; the very next call lands on the new master.
	elect.set(election.State{Role: election.RoleWorker, Master: nodeB.address}, nil)

	err = router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		return c.Register(ctx, "node-x:9380", []model.Entry{{Hash: "hash-2", Size: 20}})
	})
	require.NoError(t, err)
	assert.False(t, holds(t, nodeA.store, "hash-2"))
	assert.True(t, holds(t, nodeB.store, "hash-2"))
}

func TestRouterNoMaster(t *testing.T) {
	elect := &switchableElection{}
	elect.set(election.State{Role: election.RoleWorker}, nil)

	router := client.NewRouter(elect, time.Second, nil)
	err := router.Use(context.Background(), func(ctx context.Context, c *client.Client) error {
		t.Fatal("fn must not run without a master")
		return nil
	})
	require.ErrorIs(t, err, client.ErrNoMaster)
}

func TestRouterElectionErrorSurfaces(t *testing.T) {
	boom := errors.New("election backend down")
	elect := &switchableElection{}
	elect.set(election.State{}, boom)

	router := client.NewRouter(elect, time.Second, nil)
	err := router.Use(context.Background(), func(ctx context.Context, c *client.Client) error {
		t.Fatal("fn must not run when mastership is unknown")
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestRouterRecoversAfterFailedCall(t *testing.T) {
	nodeA := startNode(t)
	elect := &switchableElection{}
	// Nothing listens on this address.
	elect.set(election.State{Role: election.RoleWorker, Master: "127.0.0.1:1"}, nil)

	router := client.NewRouter(elect, 200*time.Millisecond, nil)
	ctx := context.Background()

	err := router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		return c.Touch(ctx, "node-x:9380", []model.ContentHash{"hash-1"})
	})
	require.Error(t, err)

	// The stale binding was dropped; the next call re-resolves and works.
	elect.set(election.State{Role: election.RoleWorker, Master: nodeA.address}, nil)
	err = router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		return c.Touch(ctx, "node-x:9380", []model.ContentHash{"hash-1"})
	})
	require.NoError(t, err)
	assert.True(t, holds(t, nodeA.store, "hash-1"))
}

func TestRouterReusesClientForStableMaster(t *testing.T) {
	nodeA := startNode(t)
	elect := &switchableElection{}
	elect.set(election.State{Role: election.RoleWorker, Master: nodeA.address}, nil)

	router := client.NewRouter(elect, time.Second, nil)
	ctx := context.Background()

	var first, second *client.Client
	require.NoError(t, router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		first = c
		return nil
	}))
	require.NoError(t, router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		second = c
		return nil
	}))
	assert.Same(t, first, second)
}
