package storage

import (
	"context"

	"locstore/pkg/client"
	"locstore/pkg/model"
)

// RemoteStore is the RPC-client-backed store. Every call goes through the
// master-routed client factory, so requests always land on whichever
// machine currently holds mastership.
type RemoteStore struct {
	router *client.Router
}

// NewRemoteStore returns a store that forwards all operations to the
// current master via router.
func NewRemoteStore(router *client.Router) *RemoteStore {
	return &RemoteStore{router: router}
}

func (s *RemoteStore) GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error) {
	var entries []model.Entry
	err := s.router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		var err error
		entries, err = c.GetBulk(ctx, hashes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *RemoteStore) Register(ctx context.Context, machine model.MachineLocation, entries []model.Entry) error {
	return s.router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		return c.Register(ctx, machine, entries)
	})
}

func (s *RemoteStore) Touch(ctx context.Context, machine model.MachineLocation, hashes []model.ContentHash) error {
	return s.router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		return c.Touch(ctx, machine, hashes)
	})
}

func (s *RemoteStore) Unregister(ctx context.Context, hashes []model.ContentHash) error {
	return s.router.Use(ctx, func(ctx context.Context, c *client.Client) error {
		return c.Unregister(ctx, hashes)
	})
}

func (s *RemoteStore) Close() error { return nil }
