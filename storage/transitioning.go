package storage

import (
	"context"
	"errors"
	"log/slog"

	"locstore/pkg/metrics"
	"locstore/pkg/model"
)

// TransitioningStore layers the distributed store over the legacy one
// during migration. Every call attempts the distributed path first; any
// RPC or routing failure, including an election reporting no master, falls
// back to the legacy path for that call. Each machine decides per call, so
// no coordinated flag flip across the fleet is needed.
type TransitioningStore struct {
	distributed Store
	legacy      Store
	log         *slog.Logger
}

// NewTransitioningStore composes distributed over legacy.
func NewTransitioningStore(distributed, legacy Store, log *slog.Logger) *TransitioningStore {
	if log == nil {
		log = slog.Default()
	}
	return &TransitioningStore{distributed: distributed, legacy: legacy, log: log}
}

func (s *TransitioningStore) GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error) {
	entries, err := s.distributed.GetBulk(ctx, hashes)
	if err == nil {
		return entries, nil
	}
	if !s.fallbackAllowed(ctx, err, "getbulk") {
		return nil, err
	}
	return s.legacy.GetBulk(ctx, hashes)
}

func (s *TransitioningStore) Register(ctx context.Context, machine model.MachineLocation, entries []model.Entry) error {
	err := s.distributed.Register(ctx, machine, entries)
	if err == nil || !s.fallbackAllowed(ctx, err, "register") {
		return err
	}
	return s.legacy.Register(ctx, machine, entries)
}

func (s *TransitioningStore) Touch(ctx context.Context, machine model.MachineLocation, hashes []model.ContentHash) error {
	err := s.distributed.Touch(ctx, machine, hashes)
	if err == nil || !s.fallbackAllowed(ctx, err, "touch") {
		return err
	}
	return s.legacy.Touch(ctx, machine, hashes)
}

func (s *TransitioningStore) Unregister(ctx context.Context, hashes []model.ContentHash) error {
	err := s.distributed.Unregister(ctx, hashes)
	if err == nil || !s.fallbackAllowed(ctx, err, "unregister") {
		return err
	}
	return s.legacy.Unregister(ctx, hashes)
}

func (s *TransitioningStore) Close() error {
	return errors.Join(s.distributed.Close(), s.legacy.Close())
}

// fallbackAllowed decides whether a distributed-path failure may be served
// by the legacy path. Cancellation is an outcome, not a failure, and is
// never masked by a fallback.
func (s *TransitioningStore) fallbackAllowed(ctx context.Context, err error, op string) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	s.log.Debug("distributed store failed, using legacy path", "op", op, "err", err)
	metrics.LegacyFallbacks.WithLabelValues(op).Inc()
	return true
}
