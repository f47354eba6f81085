package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/threadmesh/core"
)

// ReviewAction is the external verdict on a suspended step.
type ReviewAction string

const (
	// Approve applies exactly the previously proposed delta.
	Approve ReviewAction = "approve"
	// Edit applies a caller-supplied replacement delta instead.
	Edit ReviewAction = "edit"
	// Reject records the verdict and leaves channel values unchanged.
	Reject ReviewAction = "reject"
)

// Review carries an approval decision for a suspended checkpoint.
type Review struct {
	Action ReviewAction `json:"action"`
	// Edited replaces the proposed delta when Action is Edit.
	Edited core.Delta `json:"edited,omitempty"`
	// Note is an optional reviewer comment kept with the record.
	Note string `json:"note,omitempty"`
}

// reviewRecord is what gets written into the review channel.
type reviewRecord struct {
	CheckpointID string       `json:"checkpoint_id"`
	Action       ReviewAction `json:"action"`
	Note         string       `json:"note,omitempty"`
}

// Forwardable is implemented by composite workers (subgraphs) whose
// suspensions originate from nested state machines. The engine forwards the
// review to them so the inner pending step is decided first; the returned
// result is committed at the parent level like any other worker outcome.
type Forwardable interface {
	Forward(ctx context.Context, view *core.StateView, review Review) (*core.Result, error)
}

// Decide resolves the suspension at checkpointID. The checkpoint must be
// the thread's latest and pending, otherwise ErrNoPending is returned.
//
// Approve commits the stored proposed delta byte-for-byte, records the
// verdict, routes the next step and continues execution. Edit does the same
// with the replacement delta. Reject commits a record-only checkpoint:
// channel values are unchanged, the verdict is recorded, the suspended
// step's routing decision is cleared, and the thread waits for further
// input. A reject on a composite worker is forwarded inward first so the
// nested pending step is settled too.
func (e *Engine) Decide(ctx context.Context, threadID, checkpointID string, review Review) (*Status, error) {
	cp, err := e.store.Get(ctx, threadID, core.Latest)
	if err != nil {
		return nil, err
	}
	if !cp.IsPending() || cp.ID != checkpointID {
		return nil, core.ErrNoPending
	}

	record := reviewRecord{CheckpointID: checkpointID, Action: review.Action, Note: review.Note}

	if review.Action == Reject {
		if w, ok := e.registry.Get(cp.Pending.Worker); ok {
			if fw, ok := w.(Forwardable); ok {
				view := core.NewStateView(cp.Snapshot, w.Registration().Reads, threadID, cp.ParentID)
				if _, err := fw.Forward(ctx, view, review); err != nil {
					return nil, err
				}
			}
		}
		// The suspended step already executed; a worker-less decision
		// replaces the recorded one so Resume parks instead of replaying it.
		delta := core.Delta{
			core.ChannelReview:   record,
			core.ChannelDecision: core.Decision{Stage: cp.Stage(), Reason: "suspension rejected"},
		}
		snap, err := e.schema.Apply(cp.Snapshot, delta)
		if err != nil {
			return nil, err
		}
		next := core.NewCheckpoint(threadID, cp.ID, snap, e.writer)
		if _, err := e.put(ctx, next); err != nil {
			return nil, err
		}
		e.logger.Info("suspension rejected", "thread_id", threadID, "checkpoint_id", checkpointID)
		return e.status(threadID, next), nil
	}

	w, ok := e.registry.Get(cp.Pending.Worker)
	if !ok {
		return nil, fmt.Errorf("pending worker %s not registered", cp.Pending.Worker)
	}
	reg := w.Registration()

	// Nested suspensions are decided inside the composite worker first;
	// its outcome then commits as a regular step result.
	if fw, ok := w.(Forwardable); ok {
		view := core.NewStateView(cp.Snapshot, reg.Reads, threadID, cp.ParentID)
		result, err := fw.Forward(ctx, view, review)
		if err != nil {
			e.logger.Error("forwarded decision failed", "worker", reg.Name, "thread_id", threadID, "error", err)
			return e.failStep(ctx, threadID, cp, err.Error())
		}
		next, err := e.commitResult(ctx, threadID, cp, reg, result)
		if err != nil {
			return nil, err
		}
		return e.runSteps(ctx, threadID, next)
	}

	applied := cp.Pending.Proposed
	if review.Action == Edit {
		applied = review.Edited
	}
	if err := e.schema.ValidateDelta(applied, reg.Name, reg.Group); err != nil {
		return nil, err
	}

	merged, err := e.schema.Apply(cp.Snapshot, applied)
	if err != nil {
		return nil, err
	}
	decision, err := e.route(ctx, threadID, cp.ID, merged)
	if err != nil {
		return nil, err
	}

	full := applied.Clone()
	if full == nil {
		full = core.Delta{}
	}
	full[core.ChannelReview] = record
	full[core.ChannelDecision] = decision
	full[core.ChannelStage] = string(decision.Stage)

	snap, err := e.schema.Apply(cp.Snapshot, full)
	if err != nil {
		return nil, err
	}
	next := core.NewCheckpoint(threadID, cp.ID, snap, reg.Name)
	if _, err := e.put(ctx, next); err != nil {
		return nil, err
	}
	e.logger.Info("suspension resolved", "thread_id", threadID, "checkpoint_id", checkpointID, "action", review.Action)

	return e.runSteps(ctx, threadID, next)
}
