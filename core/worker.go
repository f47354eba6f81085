package core

import (
	"context"

	"github.com/google/uuid"
)

// Registration declares a worker's channel contract: the channels it reads
// and the channels it is allowed to write. The registry validates the
// contract against the schema at registration time; the engine enforces it
// again on every returned delta before anything is persisted.
type Registration struct {
	// Name is the worker's unique identifier within its graph.
	Name string
	// Group is the worker group owning the declared output channels.
	Group string
	// Reads lists accepted input channels exposed through the StateView.
	Reads []string
	// Writes lists owned output channels the worker may include in deltas.
	Writes []string
	// Description is a short account of the worker's specialty, shown to
	// the classifier fallback when routing is ambiguous.
	Description string
}

// SuspendRequest asks the engine to halt forward progress on the thread
// until an explicit external decision (approve / edit / reject). The
// proposed delta is persisted with the pending checkpoint but not applied
// to channel values.
type SuspendRequest struct {
	Reason   string `json:"reason"`
	Proposed Delta  `json:"proposed"`
}

// Result is a worker step outcome: exactly one of Delta or Suspend is set.
type Result struct {
	Delta   Delta
	Suspend *SuspendRequest
}

// Worker is the uniform contract every specialized handler implements.
//
// Invoke must be idempotent given an identical input view: a crash between
// invocation and checkpoint commit is recovered by re-invoking the same
// worker against the same input, not by guessing partial progress. Workers
// performing non-idempotent external effects must key them on
// view.IdempotencyKey.
type Worker interface {
	Registration() Registration
	Invoke(ctx context.Context, view *StateView) (*Result, error)
}

// StateView is the read-only projection of a checkpoint handed to a worker.
// Visibility is limited to the worker's declared input channels; the
// reserved orchestration channels are always readable.
type StateView struct {
	snap         *Snapshot
	allowed      map[string]bool
	threadID     string
	checkpointID string
}

// NewStateView builds a view over snap restricted to the given input
// channels. A nil or empty reads slice exposes every channel (used by the
// router's rule pass, which sees the whole state).
func NewStateView(snap *Snapshot, reads []string, threadID, checkpointID string) *StateView {
	v := &StateView{snap: snap, threadID: threadID, checkpointID: checkpointID}
	if len(reads) > 0 {
		v.allowed = make(map[string]bool, len(reads))
		for _, name := range reads {
			v.allowed[name] = true
		}
		for _, rs := range reservedSpecs() {
			v.allowed[rs.Name] = true
		}
	}
	return v
}

// Get returns a channel value if it is populated and visible to the reader.
func (v *StateView) Get(name string) (any, bool) {
	if v.allowed != nil && !v.allowed[name] {
		return nil, false
	}
	return v.snap.Get(name)
}

// GetString returns a channel value coerced to string, or "" if absent or
// of another type.
func (v *StateView) GetString(name string) string {
	val, ok := v.Get(name)
	if !ok {
		return ""
	}
	s, _ := val.(string)
	return s
}

// Stage returns the thread's current stage.
func (v *StateView) Stage() Stage {
	val, _ := v.snap.Get(ChannelStage)
	return DecodeStage(val)
}

// Decision returns the routing decision recorded in the viewed checkpoint.
func (v *StateView) Decision() (Decision, bool) {
	val, ok := v.snap.Get(ChannelDecision)
	if !ok {
		return Decision{}, false
	}
	return DecodeDecision(val)
}

// ThreadID returns the thread this view belongs to.
func (v *StateView) ThreadID() string { return v.threadID }

// CheckpointID returns the checkpoint the view was taken from.
func (v *StateView) CheckpointID() string { return v.checkpointID }

// idempotencyNS namespaces derived idempotency keys.
var idempotencyNS = uuid.MustParse("8f3c1f6e-2b6a-4f6e-9c1d-6f3b2a1e0d4c")

// IdempotencyKey derives a deterministic key for an external side effect
// from the thread id, the deciding checkpoint id and the operation name.
// A re-invoked step after a crash re-presents the same key, letting
// effectful collaborators deduplicate (payment capture, message delivery).
func (v *StateView) IdempotencyKey(op string) string {
	return uuid.NewSHA1(idempotencyNS, []byte(v.threadID+"\x00"+v.checkpointID+"\x00"+op)).String()
}
