package factory

import (
	"context"

	"locstore/pkg/clock"
	"locstore/pkg/election"
	"locstore/pkg/model"
)

// Copier fetches content from another fleet member. It is an external
// collaborator; the coordination layer only threads it through.
type Copier interface {
	CopyFile(ctx context.Context, from model.MachineLocation, hash model.ContentHash, destination string) error
}

// ColdStorage is an externally constructed cold cache tier. It must be
// attached before the coordinator's first construction; see
// Factory.SetColdStorage.
type ColdStorage interface {
	Name() string
	Contains(ctx context.Context, hash model.ContentHash) (bool, error)
}

// Args bundles the collaborators shared by everything the factory builds.
type Args struct {
	// Clock drives lease-expiry comparisons. Defaults to the system clock.
	Clock clock.Clock
	// Copier is the content-copy collaborator exposed on the coordinator.
	Copier Copier
	// RoleObserver, when set, is notified of master/worker transitions.
	RoleObserver election.RoleObserver
	// Blob overrides the blob-lease object client, bypassing S3. Used by
	// tests and by deployments with a custom object store.
	Blob election.ObjectClient
}
