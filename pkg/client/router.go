package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"locstore/pkg/election"
	"locstore/pkg/metrics"
	"locstore/pkg/model"
)

// ErrNoMaster reports that no machine currently holds mastership. Callers
// should retry after a short delay.
var ErrNoMaster = errors.New("client: no master currently elected")

// Router directs calls to whichever machine the election currently reports
// as master. The master is re-resolved on every call; a cached client is
// reused only while it is still bound to that same machine, and is dropped
// after any failure so a retry re-resolves instead of reusing a stale
// binding.
type Router struct {
	election election.Election
	timeout  time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cached *Client
}

// NewRouter returns a master-routed client factory over elect.
func NewRouter(elect election.Election, timeout time.Duration, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{election: elect, timeout: timeout, log: log}
}

// Use resolves the current master and runs fn against a client bound to
// it. If the master moves between resolution and execution the call either
// completes against the stale master or fails and is safe to retry.
func (r *Router) Use(ctx context.Context, fn func(ctx context.Context, c *Client) error) error {
	state, err := r.election.CurrentMaster(ctx)
	if err != nil {
		metrics.RemoteCalls.WithLabelValues("election_error").Inc()
		return fmt.Errorf("resolve master: %w", err)
	}
	if state.NoMaster() {
		metrics.RemoteCalls.WithLabelValues("no_master").Inc()
		return ErrNoMaster
	}

	c := r.clientFor(state.Master)
	if err := fn(ctx, c); err != nil {
		r.invalidate(c)
		metrics.RemoteCalls.WithLabelValues("error").Inc()
		return err
	}
	metrics.RemoteCalls.WithLabelValues("ok").Inc()
	return nil
}

func (r *Router) clientFor(master model.MachineLocation) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == nil || r.cached.Address() != master {
		if r.cached != nil {
			r.log.Debug("master moved, rebinding client", "from", r.cached.Address(), "to", master)
		}
		r.cached = New(master, r.timeout)
	}
	return r.cached
}

// invalidate drops c from the cache so the next Use re-resolves the master.
func (r *Router) invalidate(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == c {
		r.cached = nil
	}
}
