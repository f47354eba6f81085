package core

import (
	"context"
	"errors"
)

// History is a lazy cursor over a thread's checkpoint lineage, newest
// first. Checkpoints are fetched one at a time by following parent
// pointers, crossing thread boundaries at time-travel fork points. The walk
// is finite: it terminates at the unique root.
//
// Usage follows the scanner idiom:
//
//	h := core.NewHistory(ctx, store, threadID)
//	for h.Next() {
//	    cp := h.Checkpoint()
//	    ...
//	}
//	if err := h.Err(); err != nil { ... }
//
// A cursor is restartable: construct a new one at any checkpoint id with
// NewHistoryAt.
type History struct {
	ctx     context.Context
	store   CheckpointStore
	current *Checkpoint
	nextID  string
	err     error
}

// NewHistory starts a cursor at the latest checkpoint of threadID.
func NewHistory(ctx context.Context, store CheckpointStore, threadID string) *History {
	h := &History{ctx: ctx, store: store}
	cp, err := store.Get(ctx, threadID, Latest)
	if err != nil {
		if !errors.Is(err, ErrCheckpointNotFound) {
			h.err = err
			return h
		}
		// No own checkpoints yet: a fork starts at its origin's lineage, a
		// fresh thread has an empty history.
		thread, terr := store.GetThread(ctx, threadID)
		if terr != nil {
			h.err = terr
			return h
		}
		h.nextID = thread.Origin
		return h
	}
	h.nextID = cp.ID
	return h
}

// NewHistoryAt starts (or restarts) a cursor at an arbitrary checkpoint id.
func NewHistoryAt(ctx context.Context, store CheckpointStore, checkpointID string) *History {
	return &History{ctx: ctx, store: store, nextID: checkpointID}
}

// Next advances the cursor. It returns false at the root's parent or on
// error; Err distinguishes the two.
func (h *History) Next() bool {
	if h.err != nil || h.nextID == "" {
		return false
	}
	if err := h.ctx.Err(); err != nil {
		h.err = err
		return false
	}
	cp, err := h.store.Resolve(h.ctx, h.nextID)
	if err != nil {
		h.err = err
		return false
	}
	h.current = cp
	h.nextID = cp.ParentID
	return true
}

// Checkpoint returns the cursor's current checkpoint. Only valid after a
// true Next.
func (h *History) Checkpoint() *Checkpoint { return h.current }

// Err returns the first error encountered by the cursor, if any.
func (h *History) Err() error { return h.err }
