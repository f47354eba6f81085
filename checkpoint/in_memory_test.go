package checkpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/threadmesh/core"
	"github.com/hupe1980/threadmesh/internal/testutil"
)

// Interface compliance (compile-time assertion)
var _ core.CheckpointStore = (*InMemoryStore)(nil)

func TestInMemoryStore_CreateThread(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	thread, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "t1", thread.ID)
	assert.Empty(t, thread.LatestID)

	_, err = store.CreateThread(ctx, "t1", "")
	assert.ErrorIs(t, err, core.ErrThreadExists)

	_, err = store.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestInMemoryStore_PutAdvancesLatest(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	root := testutil.NewCheckpointBuilder("t1").Stage(core.StageIntake).Build()
	rootID, err := store.Put(ctx, root)
	require.NoError(t, err)
	require.NotEmpty(t, rootID)

	second := testutil.NewCheckpointBuilder("t1").Parent(rootID).Stage(core.StageTriage).Build()
	secondID, err := store.Put(ctx, second)
	require.NoError(t, err)

	latest, err := store.Get(ctx, "t1", core.Latest)
	require.NoError(t, err)
	assert.Equal(t, secondID, latest.ID)
	assert.Equal(t, rootID, latest.ParentID)
}

func TestInMemoryStore_PutStaleParent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	rootID, err := store.Put(ctx, testutil.NewCheckpointBuilder("t1").Build())
	require.NoError(t, err)

	// A second root put must lose: the latest pointer moved past "".
	_, err = store.Put(ctx, testutil.NewCheckpointBuilder("t1").Build())
	assert.ErrorIs(t, err, core.ErrStaleParent)

	// A put whose parent is not the latest must also lose.
	_, err = store.Put(ctx, testutil.NewCheckpointBuilder("t1").Parent("bogus").Build())
	assert.ErrorIs(t, err, core.ErrStaleParent)

	// The losing puts wrote nothing.
	latest, err := store.Get(ctx, "t1", core.Latest)
	require.NoError(t, err)
	assert.Equal(t, rootID, latest.ID)
}

func TestInMemoryStore_ConcurrentRootPut_OneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Put(ctx, testutil.NewCheckpointBuilder("t1").Build())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, core.ErrStaleParent)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent put may commit")
}

func TestInMemoryStore_RetiredThreadRejectsPuts(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	rootID, err := store.Put(ctx, testutil.NewCheckpointBuilder("t1").Build())
	require.NoError(t, err)

	require.NoError(t, store.RetireThread(ctx, "t1"))

	_, err = store.Put(ctx, testutil.NewCheckpointBuilder("t1").Parent(rootID).Build())
	assert.ErrorIs(t, err, core.ErrThreadRetired)

	// History stays readable.
	cp, err := store.Get(ctx, "t1", rootID)
	require.NoError(t, err)
	assert.Equal(t, rootID, cp.ID)
}

func TestInMemoryStore_StoredCheckpointsAreImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	orig := testutil.NewCheckpointBuilder("t1").Channel("ticket", "t-1").Build()
	id, err := store.Put(ctx, orig)
	require.NoError(t, err)

	// Mutating the caller's copy or a loaded copy must not leak into the store.
	orig.Snapshot.Set("ticket", "mutated")
	loaded, err := store.Get(ctx, "t1", id)
	require.NoError(t, err)
	loaded.Snapshot.Set("ticket", "also mutated")

	fresh, err := store.Get(ctx, "t1", id)
	require.NoError(t, err)
	v, _ := fresh.Snapshot.Get("ticket")
	assert.Equal(t, "t-1", v)
}

func TestInMemoryStore_ForkOriginCAS(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	rootID, err := store.Put(ctx, testutil.NewCheckpointBuilder("t1").Stage(core.StageTriage).Build())
	require.NoError(t, err)

	// Fork rooted at t1's checkpoint.
	_, err = store.CreateThread(ctx, "t1~fork", rootID)
	require.NoError(t, err)

	// The fork's first put must name the origin as parent.
	_, err = store.Put(ctx, testutil.NewCheckpointBuilder("t1~fork").Build())
	assert.ErrorIs(t, err, core.ErrStaleParent)

	forkCpID, err := store.Put(ctx, testutil.NewCheckpointBuilder("t1~fork").Parent(rootID).Build())
	require.NoError(t, err)

	// Resolve follows ids across threads.
	cp, err := store.Resolve(ctx, forkCpID)
	require.NoError(t, err)
	assert.Equal(t, rootID, cp.ParentID)

	// Get is scoped to the owning thread.
	_, err = store.Get(ctx, "t1~fork", rootID)
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}

func TestHistory_WalksAcrossForkBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	aID, err := store.Put(ctx, testutil.NewCheckpointBuilder("t1").Channel("ticket", "a").Build())
	require.NoError(t, err)
	bID, err := store.Put(ctx, testutil.NewCheckpointBuilder("t1").Parent(aID).Channel("ticket", "b").Build())
	require.NoError(t, err)

	_, err = store.CreateThread(ctx, "fork", bID)
	require.NoError(t, err)
	cID, err := store.Put(ctx, testutil.NewCheckpointBuilder("fork").Parent(bID).Channel("ticket", "c").Build())
	require.NoError(t, err)

	var ids []string
	h := core.NewHistory(ctx, store, "fork")
	for h.Next() {
		ids = append(ids, h.Checkpoint().ID)
	}
	require.NoError(t, h.Err())
	assert.Equal(t, []string{cID, bID, aID}, ids, "newest first, across the fork boundary")
}

func TestHistory_EmptyThread(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, err := store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)

	h := core.NewHistory(ctx, store, "t1")
	assert.False(t, h.Next())
	assert.NoError(t, h.Err())
}
