package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"locstore/pkg/clock"
	"locstore/pkg/model"
)

// ErrObjectNotFound reports that no object exists under the requested key.
var ErrObjectNotFound = errors.New("election: lease object not found")

// ErrPreconditionFailed reports that a conditional write lost its race.
var ErrPreconditionFailed = errors.New("election: lease precondition failed")

// ObjectClient is the narrow conditional-write surface of the blob store
// backing the blob-lease election.
type ObjectClient interface {
	Get(ctx context.Context, key string) (data []byte, etag string, err error)
	// PutIfAbsent creates the object, failing with ErrPreconditionFailed
	// when it already exists.
	PutIfAbsent(ctx context.Context, key string, data []byte) (etag string, err error)
	// PutIfMatch replaces the object iff it still carries etag.
	PutIfMatch(ctx context.Context, key string, data []byte, etag string) (newETag string, err error)
}

// leaseDocument is the blob payload recording the current claim.
type leaseDocument struct {
	Holder  model.MachineLocation `json:"holder"`
	Expires time.Time             `json:"expires"`
}

// blobLease elects a master through conditional writes on one lease object.
// It is independent of the metadata store, so mastership stays resolvable
// while the database is degraded. Expiry is compared with the injected
// clock, not the blob store's.
type blobLease struct {
	objects ObjectClient
	key     string
	self    model.MachineLocation
	ttl     time.Duration
	clk     clock.Clock
	log     *slog.Logger
}

// NewBlobLease returns a blob-lease-backed election over objects. The lease
// object lives under the keyspace prefix.
func NewBlobLease(objects ObjectClient, keyspace, leaseName string, self model.MachineLocation, ttl time.Duration, clk clock.Clock, log *slog.Logger) Election {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = slog.Default()
	}
	return &blobLease{
		objects: objects,
		key:     keyspace + "/" + leaseName,
		self:    self,
		ttl:     ttl,
		clk:     clk,
		log:     log,
	}
}

func (e *blobLease) CurrentMaster(ctx context.Context) (State, error) {
	data, etag, err := e.objects.Get(ctx, e.key)
	if errors.Is(err, ErrObjectNotFound) {
		return e.claimAbsent(ctx)
	}
	if err != nil {
		return State{}, fmt.Errorf("read lease object: %w", err)
	}

	var doc leaseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("decode lease object: %w", err)
	}

	now := e.clk.Now()
	switch {
	case doc.Holder == e.self:
		if _, err := e.objects.PutIfMatch(ctx, e.key, e.document(now), etag); err != nil {
			if errors.Is(err, ErrPreconditionFailed) {
				e.log.Info("master lease lost during renewal")
				return e.observe(ctx)
			}
			return State{}, fmt.Errorf("renew lease object: %w", err)
		}
		return State{Role: RoleMaster, Master: e.self}, nil

	case doc.Expires.After(now):
		return State{Role: RoleWorker, Master: doc.Holder}, nil

	default:
		// Lapsed lease: take over, fenced by the etag we read.
		if _, err := e.objects.PutIfMatch(ctx, e.key, e.document(now), etag); err != nil {
			if errors.Is(err, ErrPreconditionFailed) {
				return e.observe(ctx)
			}
			return State{}, fmt.Errorf("claim lease object: %w", err)
		}
		return State{Role: RoleMaster, Master: e.self}, nil
	}
}

func (e *blobLease) Release(ctx context.Context) error {
	data, etag, err := e.objects.Get(ctx, e.key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lease object: %w", err)
	}
	var doc leaseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode lease object: %w", err)
	}
	if doc.Holder != e.self {
		return nil
	}

	// Write an already-lapsed document so any poller can claim at once.
	lapsed, _ := json.Marshal(leaseDocument{Holder: e.self, Expires: e.clk.Now().Add(-time.Second)})
	if _, err := e.objects.PutIfMatch(ctx, e.key, lapsed, etag); err != nil && !errors.Is(err, ErrPreconditionFailed) {
		return fmt.Errorf("release lease object: %w", err)
	}
	e.log.Info("released master lease")
	return nil
}

func (e *blobLease) claimAbsent(ctx context.Context) (State, error) {
	if _, err := e.objects.PutIfAbsent(ctx, e.key, e.document(e.clk.Now())); err != nil {
		if errors.Is(err, ErrPreconditionFailed) {
			return e.observe(ctx)
		}
		return State{}, fmt.Errorf("create lease object: %w", err)
	}
	return State{Role: RoleMaster, Master: e.self}, nil
}

// observe reports the lease holder without mutating anything.
func (e *blobLease) observe(ctx context.Context) (State, error) {
	data, _, err := e.objects.Get(ctx, e.key)
	if errors.Is(err, ErrObjectNotFound) {
		return State{Role: RoleWorker}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read lease object: %w", err)
	}
	var doc leaseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("decode lease object: %w", err)
	}
	if doc.Expires.After(e.clk.Now()) {
		return State{Role: RoleWorker, Master: doc.Holder}, nil
	}
	return State{Role: RoleWorker}, nil
}

func (e *blobLease) document(now time.Time) []byte {
	data, _ := json.Marshal(leaseDocument{Holder: e.self, Expires: now.Add(e.ttl)})
	return data
}

// MemoryObjectClient is an in-process ObjectClient for isolated testing; it
// satisfies the same conditional-write contract as the S3 client.
type MemoryObjectClient struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	seq     int
}

type memoryObject struct {
	data []byte
	etag string
}

// NewMemoryObjectClient returns an empty in-memory object store.
func NewMemoryObjectClient() *MemoryObjectClient {
	return &MemoryObjectClient{objects: make(map[string]memoryObject)}
}

func (m *MemoryObjectClient) Get(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", ErrObjectNotFound
	}
	return append([]byte(nil), obj.data...), obj.etag, nil
}

func (m *MemoryObjectClient) PutIfAbsent(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return "", ErrPreconditionFailed
	}
	return m.storeLocked(key, data), nil
}

func (m *MemoryObjectClient) PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok || obj.etag != etag {
		return "", ErrPreconditionFailed
	}
	return m.storeLocked(key, data), nil
}

func (m *MemoryObjectClient) storeLocked(key string, data []byte) string {
	m.seq++
	etag := strconv.Itoa(m.seq)
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), etag: etag}
	return etag
}
