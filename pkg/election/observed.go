package election

import (
	"context"
	"sync"

	"locstore/pkg/metrics"
)

// RoleObserver is told when this process's perceived role changes.
type RoleObserver interface {
	OnRoleChange(state State)
}

// Observed wraps an election and notifies an observer whenever the local
// role flips between master and worker. Repeated identical results produce
// no duplicate notifications.
type Observed struct {
	inner Election
	obs   RoleObserver

	mu   sync.Mutex
	last Role
	seen bool
}

// NewObserved decorates inner with role-change notification through obs.
func NewObserved(inner Election, obs RoleObserver) *Observed {
	return &Observed{inner: inner, obs: obs}
}

func (o *Observed) CurrentMaster(ctx context.Context) (State, error) {
	state, err := o.inner.CurrentMaster(ctx)
	if err != nil {
		return state, err
	}

	o.mu.Lock()
	changed := !o.seen || o.last != state.Role
	o.last, o.seen = state.Role, true
	o.mu.Unlock()

	if changed {
		metrics.RoleTransitions.WithLabelValues(string(state.Role)).Inc()
		o.obs.OnRoleChange(state)
	}
	return state, nil
}

func (o *Observed) Release(ctx context.Context) error {
	return o.inner.Release(ctx)
}
