package election

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locstore/pkg/model"
	"locstore/pkg/redisdb"
)

func redisLeaseFixture(t *testing.T) (*miniredis.Miniredis, Election, Election) {
	t.Helper()
	mr := miniredis.RunT(t)

	conn, err := redisdb.NewConnection("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	limits := redisdb.Limits{ConnectionErrorLimit: 1, RestartLimit: 10, MinReconnectInterval: time.Millisecond}
	db := redisdb.NewDatabase("metadata", conn, limits, nil)

	a := NewRedisLease(db, "test", "master-lease", "node-a:9380", 30*time.Second, nil)
	b := NewRedisLease(db, "test", "master-lease", "node-b:9380", 30*time.Second, nil)
	return mr, a, b
}

func TestRedisLeaseElection(t *testing.T) {
	mr, a, b := redisLeaseFixture(t)
	ctx := context.Background()

	state, err := a.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)

	// The lease lives under the keyspace prefix.
	assert.True(t, mr.Exists("test:master-lease"))

	state, err = b.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleWorker, state.Role)
	assert.Equal(t, model.MachineLocation("node-a:9380"), state.Master)

	// Renewal keeps mastership stable across polls.
	state, err = a.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)
}

func TestRedisLeaseExpiresWithKeyTTL(t *testing.T) {
	mr, a, b := redisLeaseFixture(t)
	ctx := context.Background()

	_, err := a.CurrentMaster(ctx)
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	state, err := b.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)
	assert.Equal(t, model.MachineLocation("node-b:9380"), state.Master)
}

func TestRedisLeaseRelease(t *testing.T) {
	mr, a, b := redisLeaseFixture(t)
	ctx := context.Background()

	_, err := a.CurrentMaster(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("test:master-lease"))

	state, err := b.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)
}

func TestRedisLeaseReleaseByNonHolder(t *testing.T) {
	mr, a, b := redisLeaseFixture(t)
	ctx := context.Background()

	_, err := a.CurrentMaster(ctx)
	require.NoError(t, err)

	// A worker releasing does not disturb the holder's lease.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("test:master-lease"))
}
