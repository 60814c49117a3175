package factory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"locstore/pkg/clock"
	"locstore/pkg/election"
	"locstore/pkg/localdb"
	"locstore/pkg/model"
	"locstore/storage"
)

// ErrNoBlobStore reports that inline blob storage is not configured in
// this deployment (no redis-backed component is active).
var ErrNoBlobStore = errors.New("factory: inline blob store not configured")

// Coordinator is the object handed to the rest of the cache: one global
// metadata store, one election mechanism, the per-machine location
// database, and the optional cold tier, bound together at construction.
type Coordinator struct {
	machine    model.MachineLocation
	instanceID string

	global    storage.Store
	authority storage.Store
	elect     election.Election
	local     *localdb.DB
	blobs     *storage.RedisBlobStore
	cold      ColdStorage
	copier    Copier
	clk       clock.Clock
	log       *slog.Logger
	closers   []io.Closer
}

type coordinatorDeps struct {
	machine   model.MachineLocation
	global    storage.Store
	authority storage.Store
	elect     election.Election
	local     *localdb.DB
	blobs     *storage.RedisBlobStore
	cold      ColdStorage
	copier    Copier
	clk       clock.Clock
	log       *slog.Logger
	closers   []io.Closer
}

func newCoordinator(deps coordinatorDeps) *Coordinator {
	return &Coordinator{
		machine:    deps.machine,
		instanceID: uuid.NewString(),
		global:     deps.global,
		authority:  deps.authority,
		elect:      deps.elect,
		local:      deps.local,
		blobs:      deps.blobs,
		cold:       deps.cold,
		copier:     deps.copier,
		clk:        deps.clk,
		log:        deps.log,
		closers:    deps.closers,
	}
}

// GetBulk resolves locations for the given hashes, serving warm entries
// from the local database and refreshing it with whatever the global store
// returns.
func (c *Coordinator) GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error) {
	lookup := hashes
	byHash := make(map[model.ContentHash]model.Entry, len(hashes))

	if c.local != nil {
		found, missing, err := c.local.Get(ctx, hashes)
		if err != nil {
			c.log.Warn("local location database read failed", "err", err)
		} else {
			for _, e := range found {
				byHash[e.Hash] = e
			}
			lookup = missing
		}
	}

	if len(lookup) > 0 {
		fresh, err := c.global.GetBulk(ctx, lookup)
		if err != nil {
			return nil, err
		}
		for _, e := range fresh {
			byHash[e.Hash] = e
		}
		if c.local != nil {
			if err := c.local.Put(ctx, fresh); err != nil {
				c.log.Warn("local location database write failed", "err", err)
			}
		}
	}

	out := make([]model.Entry, 0, len(hashes))
	for _, hash := range hashes {
		if e, ok := byHash[hash]; ok {
			out = append(out, e)
		} else {
			out = append(out, model.Entry{Hash: hash})
		}
	}
	return out, nil
}

// Register records this machine as a holder of the given entries,
// writing through the global store and the local database.
func (c *Coordinator) Register(ctx context.Context, entries []model.Entry) error {
	if err := c.global.Register(ctx, c.machine, entries); err != nil {
		return err
	}
	if c.local != nil {
		stamped := make([]model.Entry, 0, len(entries))
		for _, e := range entries {
			if !e.HasLocation(c.machine) {
				e.Locations = append(append([]model.MachineLocation(nil), e.Locations...), c.machine)
			}
			e.LastAccess = c.clk.Now()
			stamped = append(stamped, e)
		}
		if err := c.local.Put(ctx, stamped); err != nil {
			c.log.Warn("local location database write failed", "err", err)
		}
	}
	return nil
}

// Touch refreshes this machine's last-access time for the given hashes.
func (c *Coordinator) Touch(ctx context.Context, hashes []model.ContentHash) error {
	return c.global.Touch(ctx, c.machine, hashes)
}

// Unregister drops the given hashes everywhere this layer records them.
func (c *Coordinator) Unregister(ctx context.Context, hashes []model.ContentHash) error {
	if err := c.global.Unregister(ctx, hashes); err != nil {
		return err
	}
	if c.local != nil {
		if err := c.local.Delete(ctx, hashes); err != nil {
			c.log.Warn("local location database delete failed", "err", err)
		}
	}
	return nil
}

// MissingFromFleet filters hashes down to those no fleet member and no
// cold tier holds. Callers use it to decide what must be produced or
// uploaded.
func (c *Coordinator) MissingFromFleet(ctx context.Context, hashes []model.ContentHash) ([]model.ContentHash, error) {
	entries, err := c.GetBulk(ctx, hashes)
	if err != nil {
		return nil, err
	}
	var missing []model.ContentHash
	for _, e := range entries {
		if e.Found() {
			continue
		}
		if c.cold != nil {
			held, err := c.cold.Contains(ctx, e.Hash)
			if err != nil {
				return nil, err
			}
			if held {
				continue
			}
		}
		missing = append(missing, e.Hash)
	}
	return missing, nil
}

// PutBlob stores a small content blob inline in the replicated database.
func (c *Coordinator) PutBlob(ctx context.Context, hash model.ContentHash, data []byte) error {
	if c.blobs == nil {
		return ErrNoBlobStore
	}
	return c.blobs.Put(ctx, hash, data)
}

// GetBlob fetches an inline blob, if present.
func (c *Coordinator) GetBlob(ctx context.Context, hash model.ContentHash) ([]byte, bool, error) {
	if c.blobs == nil {
		return nil, false, ErrNoBlobStore
	}
	return c.blobs.Get(ctx, hash)
}

// CurrentRole polls the election mechanism.
func (c *Coordinator) CurrentRole(ctx context.Context) (election.State, error) {
	return c.elect.CurrentMaster(ctx)
}

// Machine returns this process's advertised location.
func (c *Coordinator) Machine() model.MachineLocation { return c.machine }

// InstanceID uniquely identifies this coordinator instance.
func (c *Coordinator) InstanceID() string { return c.instanceID }

// Authority returns the store this machine serves to the fleet when it
// holds mastership.
func (c *Coordinator) Authority() storage.Store { return c.authority }

// Election returns the election mechanism the coordinator polls.
func (c *Coordinator) Election() election.Election { return c.elect }

// ColdStorage returns the attached cold tier, if any.
func (c *Coordinator) ColdStorage() ColdStorage { return c.cold }

// Copier returns the content-copy collaborator, if any.
func (c *Coordinator) Copier() Copier { return c.copier }

// Close releases any held mastership and tears down owned resources.
func (c *Coordinator) Close() error {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errs := []error{c.elect.Release(releaseCtx), c.global.Close()}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	return errors.Join(errs...)
}
