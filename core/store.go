package core

import "context"

// Latest is the sentinel checkpoint id selecting a thread's newest
// checkpoint in CheckpointStore.Get.
const Latest = "latest"

// CheckpointStore is the durable, append-only log of state snapshots per
// thread. It is the only shared mutable resource in the system; all
// coordination reduces to the compare-and-swap inside Put.
//
// Guarantees implementations must provide:
//   - Put is atomic: a checkpoint becomes visible in full or not at all.
//   - Put compare-and-swaps on the thread's current latest: if
//     cp.ParentID is not the thread's latest checkpoint id the call fails
//     with ErrStaleParent and nothing is written. A root put (empty
//     ParentID for a fresh thread, or the thread's Origin for a fork)
//     follows the same rule.
//   - Stored checkpoints are immutable; Get returns copies callers may
//     inspect freely.
type CheckpointStore interface {
	// CreateThread registers a new thread. origin is the foreign
	// checkpoint id the thread forks from, or "" for a fresh thread.
	CreateThread(ctx context.Context, threadID, origin string) (*Thread, error)

	// GetThread returns the thread record or ErrThreadNotFound.
	GetThread(ctx context.Context, threadID string) (*Thread, error)

	// RetireThread marks a thread retired. Subsequent Puts fail with
	// ErrThreadRetired; reads keep working.
	RetireThread(ctx context.Context, threadID string) error

	// Put appends cp to its thread and returns the checkpoint id. Fails
	// with ErrStaleParent on a lost CAS race and wraps every other failure
	// in a PersistenceError.
	Put(ctx context.Context, cp *Checkpoint) (string, error)

	// Get returns a checkpoint of the thread by id, or the newest one for
	// the sentinel Latest.
	Get(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error)

	// Resolve looks a checkpoint up by id alone, regardless of thread.
	// History cursors use it to cross fork boundaries.
	Resolve(ctx context.Context, checkpointID string) (*Checkpoint, error)
}
