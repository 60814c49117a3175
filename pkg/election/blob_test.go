package election

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locstore/pkg/model"
)

func blobLeaseFixture(t *testing.T) (*fakeClock, *MemoryObjectClient, Election, Election) {
	t.Helper()
	clk := newFakeClock()
	objects := NewMemoryObjectClient()
	a := NewBlobLease(objects, "test", "master-lease", "node-a:9380", leaseTTL, clk, nil)
	b := NewBlobLease(objects, "test", "master-lease", "node-b:9380", leaseTTL, clk, nil)
	return clk, objects, a, b
}

func TestBlobLeaseFirstPollerBecomesMaster(t *testing.T) {
	_, objects, a, b := blobLeaseFixture(t)
	ctx := context.Background()

	state, err := a.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)

	// The lease object records the claim under the keyspace prefix.
	data, _, err := objects.Get(ctx, "test/master-lease")
	require.NoError(t, err)
	var doc leaseDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, model.MachineLocation("node-a:9380"), doc.Holder)

	state, err = b.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleWorker, state.Role)
	assert.Equal(t, model.MachineLocation("node-a:9380"), state.Master)
}

func TestBlobLeaseRenewalExtendsExpiry(t *testing.T) {
	clk, _, a, b := blobLeaseFixture(t)
	ctx := context.Background()

	_, err := a.CurrentMaster(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clk.Advance(leaseTTL / 2)
		state, err := a.CurrentMaster(ctx)
		require.NoError(t, err)
		assert.Equal(t, RoleMaster, state.Role)

		state, err = b.CurrentMaster(ctx)
		require.NoError(t, err)
		assert.Equal(t, RoleWorker, state.Role)
		assert.Equal(t, model.MachineLocation("node-a:9380"), state.Master)
	}
}

func TestBlobLeaseTakeoverAfterExpiry(t *testing.T) {
	clk, _, a, b := blobLeaseFixture(t)
	ctx := context.Background()

	_, err := a.CurrentMaster(ctx)
	require.NoError(t, err)

	clk.Advance(leaseTTL + time.Second)

	state, err := b.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)
	assert.Equal(t, model.MachineLocation("node-b:9380"), state.Master)

	state, err = a.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleWorker, state.Role)
	assert.Equal(t, model.MachineLocation("node-b:9380"), state.Master)
}

func TestBlobLeaseReleaseAllowsImmediateClaim(t *testing.T) {
	_, _, a, b := blobLeaseFixture(t)
	ctx := context.Background()

	_, err := a.CurrentMaster(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Release(ctx))

	// No clock advance needed: release lapses the document.
	state, err := b.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)
}

func TestBlobLeaseReleaseByNonHolderIsNoop(t *testing.T) {
	_, _, a, b := blobLeaseFixture(t)
	ctx := context.Background()

	_, err := a.CurrentMaster(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Release(ctx))

	state, err := a.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleMaster, state.Role)
}

func TestBlobLeaseLostCreationRaceReportsWinner(t *testing.T) {
	clk := newFakeClock()
	objects := NewMemoryObjectClient()
	ctx := context.Background()

	// Another machine wins the create between our Get and PutIfAbsent.
	doc, _ := json.Marshal(leaseDocument{Holder: "node-b:9380", Expires: clk.Now().Add(leaseTTL)})
	racing := &racingObjectClient{MemoryObjectClient: objects, plant: func() {
		objects.PutIfAbsent(ctx, "test/master-lease", doc)
	}}

	a := NewBlobLease(racing, "test", "master-lease", "node-a:9380", leaseTTL, clk, nil)
	state, err := a.CurrentMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleWorker, state.Role)
	assert.Equal(t, model.MachineLocation("node-b:9380"), state.Master)
}

// racingObjectClient plants a competing write before the first conditional
// put, forcing the precondition-failed path.
type racingObjectClient struct {
	*MemoryObjectClient
	plant   func()
	planted bool
}

func (r *racingObjectClient) PutIfAbsent(ctx context.Context, key string, data []byte) (string, error) {
	if !r.planted {
		r.planted = true
		r.plant()
	}
	return r.MemoryObjectClient.PutIfAbsent(ctx, key, data)
}

func TestMemoryObjectClientConditionalWrites(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryObjectClient()

	_, _, err := objects.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrObjectNotFound)

	etag, err := objects.PutIfAbsent(ctx, "key", []byte("v1"))
	require.NoError(t, err)

	_, err = objects.PutIfAbsent(ctx, "key", []byte("v2"))
	require.ErrorIs(t, err, ErrPreconditionFailed)

	newETag, err := objects.PutIfMatch(ctx, "key", []byte("v2"), etag)
	require.NoError(t, err)
	assert.NotEqual(t, etag, newETag)

	// The old etag is fenced out.
	_, err = objects.PutIfMatch(ctx, "key", []byte("v3"), etag)
	require.ErrorIs(t, err, ErrPreconditionFailed)

	data, _, err := objects.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}
