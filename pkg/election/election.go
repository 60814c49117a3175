// Package election determines which fleet member currently acts as master.
// Two interchangeable lease-based strategies exist: one piggybacking on the
// replicated database, one using conditional writes against a blob object so
// it keeps working while the database is degraded. Selection happens once at
// assembly time; polling is safe on every operation.
package election

import (
	"context"

	"locstore/pkg/model"
)

// Role is this process's perceived election role.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
)

// State is the election's answer for one poll. It is recomputed on demand
// and never cached across polls.
type State struct {
	Role   Role
	Master model.MachineLocation
}

// NoMaster reports that no live lease exists right now. Callers treat this
// as retryable, never as a stale master.
func (s State) NoMaster() bool { return s.Master == "" }

// Election resolves the current master. Implementations must be safe for
// concurrent, repeated polling.
type Election interface {
	CurrentMaster(ctx context.Context) (State, error)
	// Release forfeits this process's claim, if it holds one.
	Release(ctx context.Context) error
}
