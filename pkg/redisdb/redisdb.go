// Package redisdb wraps raw redis connections with the reconnect, backoff
// and circuit-breaking policy every caller of the replicated database goes
// through. A Connection is one physical multiplexer; a Database is a named
// logical handle with its own failure counters, so several handles may
// share one Connection without sharing breaker state.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"locstore/pkg/metrics"
)

// Connection is one physical connection to a redis instance. The client is
// created lazily and re-created after reconnects. Safe for concurrent use.
type Connection struct {
	mu   sync.Mutex
	opts *redis.Options
	rdb  *redis.Client
}

// NewConnection parses a redis:// connection string. No network activity
// happens until the first operation runs.
func NewConnection(connString string) (*Connection, error) {
	opts, err := redis.ParseURL(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	return &Connection{opts: opts}, nil
}

func (c *Connection) client() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		c.rdb = redis.NewClient(c.opts)
	}
	return c.rdb
}

// reset drops the current client so the next operation dials fresh.
func (c *Connection) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb != nil {
		_ = c.rdb.Close()
		c.rdb = nil
	}
}

// Close tears the physical connection down.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	return err
}

// Limits are the per-logical-database retry and circuit tunables.
type Limits struct {
	// ConnectionErrorLimit bounds attempts per Execute call.
	ConnectionErrorLimit int
	// RestartLimit is the number of consecutive failures after which the
	// handle latches fatal and recommends a process restart.
	RestartLimit int
	// MinReconnectInterval is the lower bound between reconnect attempts;
	// backoff grows exponentially from it.
	MinReconnectInterval time.Duration
	// OperationTimeout bounds a single attempt, not the retry sequence.
	OperationTimeout time.Duration
	// TreatDisposedAsTransient retries operations that raced with a
	// client teardown instead of failing them.
	TreatDisposedAsTransient bool
}

func (l Limits) withDefaults() Limits {
	if l.ConnectionErrorLimit < 1 {
		l.ConnectionErrorLimit = 1
	}
	if l.RestartLimit < 1 {
		l.RestartLimit = 1
	}
	if l.MinReconnectInterval <= 0 {
		l.MinReconnectInterval = 100 * time.Millisecond
	}
	return l
}

// Database is a named logical handle over a physical Connection. Failure
// counters live here, never on the shared Connection, so a storm of blob
// failures cannot trip the circuit for metadata operations.
type Database struct {
	name   string
	conn   *Connection
	limits Limits
	log    *slog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	fatal               bool
}

// NewDatabase creates a logical database named name over conn.
func NewDatabase(name string, conn *Connection, limits Limits, log *slog.Logger) *Database {
	if log == nil {
		log = slog.Default()
	}
	return &Database{
		name:   name,
		conn:   conn,
		limits: limits.withDefaults(),
		log:    log.With("database", name),
	}
}

// Name returns the logical database name.
func (d *Database) Name() string { return d.name }

// Healthy reports whether the handle has not latched the fatal state.
func (d *Database) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.fatal
}

// FailureCount returns the current consecutive failure count.
func (d *Database) FailureCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures
}

// Execute runs op against the underlying store, retrying transient faults
// with exponential backoff up to the connection error limit. Each attempt
// is bounded by the operation timeout. Returned errors are typed: transient
// errors may be resubmitted, ErrRestartRecommended is final, and context
// cancellation is passed through untouched.
func (d *Database) Execute(ctx context.Context, op func(ctx context.Context, rdb *redis.Client) error) error {
	if err := d.checkFatal(); err != nil {
		return err
	}

	bo := d.newBackoff()
	var lastErr error

	for attempt := 1; attempt <= d.limits.ConnectionErrorLimit; attempt++ {
		if attempt > 1 {
			if err := d.waitReconnect(ctx, bo, attempt, lastErr); err != nil {
				return err
			}
		}

		err := d.attempt(ctx, op)
		if err == nil {
			d.recordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			// Cancellation is an outcome of its own, not a failure.
			return ctx.Err()
		}
		if !d.transient(err) {
			return err
		}

		lastErr = err
		if fatal := d.recordFailure(err); fatal != nil {
			return fatal
		}
	}

	d.log.Warn("operation exhausted retry budget", "attempts", d.limits.ConnectionErrorLimit, "err", lastErr)
	return &TransientError{Err: fmt.Errorf("%d attempts exhausted: %w", d.limits.ConnectionErrorLimit, lastErr)}
}

func (d *Database) attempt(ctx context.Context, op func(ctx context.Context, rdb *redis.Client) error) error {
	opCtx := ctx
	if d.limits.OperationTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, d.limits.OperationTimeout)
		defer cancel()
	}
	return op(opCtx, d.conn.client())
}

func (d *Database) waitReconnect(ctx context.Context, bo backoff.BackOff, attempt int, cause error) error {
	wait := bo.NextBackOff()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	metrics.ReconnectAttempts.WithLabelValues(d.name).Inc()
	d.log.Debug("reconnecting", "attempt", attempt, "wait", wait, "cause", cause)
	d.conn.reset()
	return nil
}

func (d *Database) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.limits.MinReconnectInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (d *Database) checkFatal() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fatal {
		return fmt.Errorf("database %q: %w", d.name, ErrRestartRecommended)
	}
	return nil
}

func (d *Database) recordSuccess() {
	d.mu.Lock()
	d.consecutiveFailures = 0
	d.mu.Unlock()
}

// recordFailure bumps the consecutive failure counter and latches the
// fatal state once the restart limit is exceeded.
func (d *Database) recordFailure(cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFailures++
	if d.consecutiveFailures <= d.limits.RestartLimit {
		return nil
	}
	if !d.fatal {
		d.fatal = true
		metrics.CircuitOpens.WithLabelValues(d.name).Inc()
		d.log.Error("reconnection limit exceeded, recommending restart",
			"failures", d.consecutiveFailures, "limit", d.limits.RestartLimit, "cause", cause)
	}
	return fmt.Errorf("database %q: %d consecutive failures: %w", d.name, d.consecutiveFailures, ErrRestartRecommended)
}

// transient classifies err as a retryable connectivity fault.
func (d *Database) transient(err error) bool {
	if IsTransient(err) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A lapsed attempt deadline is transient as long as the caller's own
	// context is still live; Execute checks that before classifying.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if d.limits.TreatDisposedAsTransient && errors.Is(err, redis.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout")
}
