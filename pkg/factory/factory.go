// Package factory assembles the local view of the distributed location
// store. The factory itself is cheap to construct; the coordinator is
// built lazily on first use, at which point the configuration flags are
// read once to pick the election and storage strategies.
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"locstore/config"
	"locstore/pkg/client"
	"locstore/pkg/clock"
	"locstore/pkg/election"
	"locstore/pkg/localdb"
	"locstore/pkg/model"
	"locstore/pkg/redisdb"
	"locstore/storage"
)

// Factory builds the Coordinator exactly once. Concurrent callers of
// Create race to trigger a single construction; everyone observes the same
// instance (or the same construction error).
type Factory struct {
	cfg  *config.Config
	args Args
	log  *slog.Logger

	mu     sync.Mutex
	done   chan struct{}
	coord  *Coordinator
	err    error
	cold   ColdStorage
	builds int
}

// New validates cfg and returns a factory. Invalid configuration fails
// here, before any network activity.
func New(cfg *config.Config, args Args, log *slog.Logger) (*Factory, error) {
	if cfg == nil {
		return nil, errors.New("factory: nil configuration")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	if args.Clock == nil {
		args.Clock = clock.System()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Factory{cfg: cfg, args: args, log: log}, nil
}

// SetColdStorage attaches a cold cache tier. The tier is read when the
// coordinator is constructed, so attachment is observed only while
// construction is still pending; a later call is a loud no-op.
func (f *Factory) SetColdStorage(cold ColdStorage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil {
		f.log.Warn("cold storage attached after coordinator construction; ignored")
		return
	}
	f.cold = cold
}

// Create returns the coordinator, building it on first call. machine
// overrides the configured address when non-empty; local, when non-nil,
// serves as the authoritative in-process store in distributed mode. Both
// arguments bind on the first call only.
func (f *Factory) Create(ctx context.Context, machine model.MachineLocation, local storage.Store) (*Coordinator, error) {
	f.mu.Lock()
	if f.done == nil {
		f.done = make(chan struct{})
		f.builds++
		f.mu.Unlock()

		coord, err := f.build(ctx, machine, local)

		f.mu.Lock()
		f.coord, f.err = coord, err
		close(f.done)
		f.mu.Unlock()
		return coord, err
	}
	done := f.done
	f.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.coord, f.err
}

func (f *Factory) build(ctx context.Context, machine model.MachineLocation, local storage.Store) (*Coordinator, error) {
	cfg := f.cfg
	if machine == "" {
		machine = model.MachineLocation(cfg.Machine.Address)
	}

	var closers []io.Closer
	fail := func(err error) (*Coordinator, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		return nil, err
	}

	keyspace := cfg.Redis.Keyspace
	if keyspace == "" {
		keyspace = "locstore"
	}

	// Database handles. The metadata and blob handles may share one
	// physical connection but never share failure counters.
	var metadataDB, blobDB *redisdb.Database
	if cfg.RedisNeeded() {
		limits := redisdb.Limits{
			ConnectionErrorLimit:     cfg.Redis.ConnectionErrorLimit,
			RestartLimit:             cfg.Redis.ReconnectLimitBeforeRestart,
			MinReconnectInterval:     cfg.Redis.MinReconnectInterval,
			OperationTimeout:         cfg.Redis.OperationTimeout,
			TreatDisposedAsTransient: cfg.Redis.TreatDisposedAsTransient,
		}

		primary, err := redisdb.NewConnection(cfg.Redis.Primary)
		if err != nil {
			return fail(fmt.Errorf("primary connection: %w", err))
		}
		closers = append(closers, primary)

		blobConn := primary
		if cfg.Redis.SeparateBlobConnection {
			connString := cfg.Redis.Secondary
			if connString == "" {
				connString = cfg.Redis.Primary
			}
			blobConn, err = redisdb.NewConnection(connString)
			if err != nil {
				return fail(fmt.Errorf("blob connection: %w", err))
			}
			closers = append(closers, blobConn)
		}

		metadataDB = redisdb.NewDatabase("metadata", primary, limits, f.log)
		blobDB = redisdb.NewDatabase("blob", blobConn, limits, f.log)
	}

	// Election strategy, picked once.
	var elect election.Election
	switch cfg.Election.Backend {
	case config.ElectionRedis:
		elect = election.NewRedisLease(metadataDB, keyspace, cfg.Election.LeaseName, machine, cfg.Election.LeaseTTL, f.log)
	case config.ElectionBlob:
		objects := f.args.Blob
		if objects == nil {
			var err error
			objects, err = election.NewS3ObjectClient(ctx, cfg.Election.Blob.Bucket, cfg.Election.Blob.Region, cfg.Election.Blob.Endpoint)
			if err != nil {
				return fail(fmt.Errorf("blob lease client: %w", err))
			}
		}
		elect = election.NewBlobLease(objects, keyspace, cfg.Election.LeaseName, machine, cfg.Election.LeaseTTL, f.args.Clock, f.log)
	default:
		return fail(fmt.Errorf("unknown election backend %q", cfg.Election.Backend))
	}
	if f.args.RoleObserver != nil {
		elect = election.NewObserved(elect, f.args.RoleObserver)
	}

	// Global store backend(s), picked once from the mode flags.
	var legacy storage.Store
	if metadataDB != nil {
		legacy = storage.NewRedisStore(metadataDB, keyspace, cfg.Store.EntryTTL)
	}

	var global, authority storage.Store
	switch cfg.Store.Mode {
	case config.ModeLegacy:
		global, authority = legacy, legacy
	case config.ModeMemory:
		mem := local
		if mem == nil {
			mem = storage.NewMemoryStore()
		}
		global, authority = mem, mem
	case config.ModeDistributed:
		authority = local
		if authority == nil {
			authority = storage.NewMemoryStore()
		}
		router := client.NewRouter(elect, cfg.Redis.OperationTimeout, f.log)
		global = storage.NewRemoteStore(router)
	case config.ModeBoth:
		authority = legacy
		router := client.NewRouter(elect, cfg.Redis.OperationTimeout, f.log)
		global = storage.NewTransitioningStore(storage.NewRemoteStore(router), legacy, f.log)
	default:
		return fail(fmt.Errorf("unknown store mode %q", cfg.Store.Mode))
	}

	var local2 *localdb.DB
	if cfg.Store.LocalDir != "" {
		db, err := localdb.Open(cfg.Store.LocalDir, cfg.Store.EntryTTL)
		if err != nil {
			return fail(fmt.Errorf("local location database: %w", err))
		}
		local2 = db
		closers = append(closers, db)
	}

	var blobs *storage.RedisBlobStore
	if blobDB != nil {
		blobs = storage.NewRedisBlobStore(blobDB, keyspace, cfg.Store.EntryTTL)
	}

	coord := newCoordinator(coordinatorDeps{
		machine:   machine,
		global:    global,
		authority: authority,
		elect:     elect,
		local:     local2,
		blobs:     blobs,
		cold:      f.cold,
		copier:    f.args.Copier,
		clk:       f.args.Clock,
		log:       f.log,
		closers:   closers,
	})
	f.log.Info("coordinator constructed",
		"machine", machine, "mode", cfg.Store.Mode, "election", cfg.Election.Backend,
		"cold_storage", coldName(f.cold))
	return coord, nil
}

func coldName(cold ColdStorage) string {
	if cold == nil {
		return "none"
	}
	return cold.Name()
}
