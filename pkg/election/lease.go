package election

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"locstore/pkg/model"
	"locstore/pkg/redisdb"
)

// leaseOps is the conditional-write surface a lease election needs. The
// redis implementation and the in-memory test implementation satisfy the
// same contract.
type leaseOps interface {
	// tryAcquire claims the lease for holder iff no lease exists.
	tryAcquire(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	// renew extends the lease iff holder still owns it.
	renew(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	// holder returns the current live lease holder, if any.
	holder(ctx context.Context) (string, bool, error)
	// release drops the lease iff holder owns it.
	release(ctx context.Context, holder string) (bool, error)
}

// leaseElection drives mastership from a fenced lease. Cross-process mutual
// exclusion comes from the lease primitive's conditional writes, not from
// any in-process lock.
type leaseElection struct {
	ops  leaseOps
	self model.MachineLocation
	ttl  time.Duration
	log  *slog.Logger
}

func newLeaseElection(ops leaseOps, self model.MachineLocation, ttl time.Duration, log *slog.Logger) *leaseElection {
	if log == nil {
		log = slog.Default()
	}
	return &leaseElection{ops: ops, self: self, ttl: ttl, log: log}
}

func (e *leaseElection) CurrentMaster(ctx context.Context) (State, error) {
	ok, err := e.ops.tryAcquire(ctx, string(e.self), e.ttl)
	if err != nil {
		return State{}, fmt.Errorf("acquire master lease: %w", err)
	}
	if ok {
		return State{Role: RoleMaster, Master: e.self}, nil
	}

	holder, exists, err := e.ops.holder(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read master lease: %w", err)
	}
	if !exists {
		// Lease lapsed between the two reads. One more claim attempt;
		// losing it again means another machine won the race.
		ok, err := e.ops.tryAcquire(ctx, string(e.self), e.ttl)
		if err != nil {
			return State{}, fmt.Errorf("acquire master lease: %w", err)
		}
		if ok {
			return State{Role: RoleMaster, Master: e.self}, nil
		}
		return State{Role: RoleWorker}, nil
	}

	if model.MachineLocation(holder) == e.self {
		renewed, err := e.ops.renew(ctx, string(e.self), e.ttl)
		if err != nil {
			return State{}, fmt.Errorf("renew master lease: %w", err)
		}
		if renewed {
			return State{Role: RoleMaster, Master: e.self}, nil
		}
		e.log.Info("master lease lost during renewal")
		return State{Role: RoleWorker}, nil
	}

	return State{Role: RoleWorker, Master: model.MachineLocation(holder)}, nil
}

func (e *leaseElection) Release(ctx context.Context) error {
	released, err := e.ops.release(ctx, string(e.self))
	if err != nil {
		return fmt.Errorf("release master lease: %w", err)
	}
	if released {
		e.log.Info("released master lease")
	}
	return nil
}

// NewRedisLease returns a database-backed election. The lease lives under
// the keyspace prefix in the same replicated store as the metadata; expiry
// is enforced by the store's own key TTL.
func NewRedisLease(db *redisdb.Database, keyspace, leaseName string, self model.MachineLocation, ttl time.Duration, log *slog.Logger) Election {
	ops := &redisLeaseOps{db: db, key: keyspace + ":" + leaseName}
	return newLeaseElection(ops, self, ttl, log)
}

type redisLeaseOps struct {
	db  *redisdb.Database
	key string
}

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

func (o *redisLeaseOps) tryAcquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	var acquired bool
	err := o.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		ok, err := rdb.SetNX(ctx, o.key, holder, ttl).Result()
		if err != nil {
			return err
		}
		acquired = ok
		return nil
	})
	return acquired, err
}

func (o *redisLeaseOps) renew(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	var renewed bool
	err := o.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		res, err := renewScript.Run(ctx, rdb, []string{o.key}, holder, ttl.Milliseconds()).Int()
		if err != nil {
			return err
		}
		renewed = res == 1
		return nil
	})
	return renewed, err
}

func (o *redisLeaseOps) holder(ctx context.Context) (string, bool, error) {
	var (
		holder string
		exists bool
	)
	err := o.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		val, err := rdb.Get(ctx, o.key).Result()
		if err == redis.Nil {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		holder, exists = val, true
		return nil
	})
	return holder, exists, err
}

func (o *redisLeaseOps) release(ctx context.Context, holder string) (bool, error) {
	var released bool
	err := o.db.Execute(ctx, func(ctx context.Context, rdb *redis.Client) error {
		res, err := releaseScript.Run(ctx, rdb, []string{o.key}, holder).Int()
		if err != nil {
			return err
		}
		released = res == 1
		return nil
	})
	return released, err
}
