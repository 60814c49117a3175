// Package storage provides the fleet-wide content-location metadata store
// and its interchangeable backends: the legacy replicated-database store,
// the RPC-backed distributed store, the transitioning composite that runs
// both side by side, and an in-memory store for isolated testing.
package storage

import (
	"context"

	"locstore/pkg/model"
)

// Store is the global metadata store contract. All backends satisfy it.
type Store interface {
	// GetBulk returns one entry per requested hash, in request order.
	// Hashes with no known location come back with empty Locations.
	GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error)

	// Register records machine (and any locations the entries already
	// carry) as holders of the given content.
	Register(ctx context.Context, machine model.MachineLocation, entries []model.Entry) error

	// Touch refreshes the last-access time of the given hashes for
	// machine.
	Touch(ctx context.Context, machine model.MachineLocation, hashes []model.ContentHash) error

	// Unregister removes all location records for the given hashes.
	Unregister(ctx context.Context, hashes []model.ContentHash) error

	// Lifecycle
	Close() error
}
