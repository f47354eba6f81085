package core

import (
	"time"

	"github.com/google/uuid"
)

// Metadata records provenance for a checkpoint.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	// Writer identifies who produced the checkpoint: a worker name or the
	// router itself.
	Writer string `json:"writer"`
}

// PendingApproval marks a suspended checkpoint. The proposed delta is
// carried verbatim and applied only on an explicit approve (or replaced on
// edit); reject records the outcome and leaves channel values untouched.
type PendingApproval struct {
	// Worker that requested the suspension.
	Worker string `json:"worker"`
	// Reason is the worker-supplied explanation shown to the approver.
	Reason string `json:"reason"`
	// Proposed is the delta awaiting the decision.
	Proposed Delta `json:"proposed"`
}

// Checkpoint is an immutable, parent-linked snapshot of a thread's state
// taken after one step. Checkpoints are never mutated or deleted, only
// superseded or archived. Every non-root checkpoint has exactly one parent;
// following parent pointers always reaches a unique root with no cycles.
// Parent pointers may cross thread boundaries: a time-travel fork roots a
// new thread in another thread's history.
type Checkpoint struct {
	ID       string           `json:"id"`
	ThreadID string           `json:"thread_id"`
	ParentID string           `json:"parent_id,omitempty"` // empty only for an original root
	Snapshot *Snapshot        `json:"snapshot"`
	Meta     Metadata         `json:"meta"`
	Pending  *PendingApproval `json:"pending,omitempty"`
}

// NewCheckpoint assembles an unpersisted checkpoint. The id is assigned
// here so callers can reference it before Put returns.
func NewCheckpoint(threadID, parentID string, snap *Snapshot, writer string) *Checkpoint {
	if snap == nil {
		snap = NewSnapshot()
	}
	return &Checkpoint{
		ID:       NewID(),
		ThreadID: threadID,
		ParentID: parentID,
		Snapshot: snap,
		Meta:     Metadata{Timestamp: time.Now().UTC(), Writer: writer},
	}
}

// Stage returns the stage recorded in the checkpoint's snapshot.
func (c *Checkpoint) Stage() Stage {
	v, _ := c.Snapshot.Get(ChannelStage)
	return DecodeStage(v)
}

// Decision returns the routing decision recorded in the snapshot, if any.
func (c *Checkpoint) Decision() (Decision, bool) {
	v, ok := c.Snapshot.Get(ChannelDecision)
	if !ok || v == nil {
		return Decision{}, false
	}
	return DecodeDecision(v)
}

// IsPending reports whether the checkpoint is suspended awaiting a decision.
func (c *Checkpoint) IsPending() bool { return c.Pending != nil }

// Clone returns a deep-enough copy for safe divergence: snapshot and
// pending delta are copied, metadata is value-copied.
func (c *Checkpoint) Clone() *Checkpoint {
	clone := *c
	clone.Snapshot = c.Snapshot.Clone()
	if c.Pending != nil {
		p := *c.Pending
		p.Proposed = c.Pending.Proposed.Clone()
		clone.Pending = &p
	}
	return &clone
}

// Thread is one independent conversation instance. Its current state is
// always the latest checkpoint reachable from its root.
type Thread struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	// LatestID points at the thread's newest checkpoint ("" before the
	// root is written).
	LatestID string `json:"latest_id,omitempty"`
	// Origin holds the foreign checkpoint id this thread was forked from
	// via time-travel, or "" for an organically created thread.
	Origin string `json:"origin,omitempty"`
	// Retired threads reject new checkpoints per retention policy; their
	// history remains readable until archival.
	Retired bool `json:"retired,omitempty"`
}

// NewID generates a unique identifier for threads and checkpoints.
func NewID() string { return uuid.NewString() }
