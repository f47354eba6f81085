package testutil

import (
	"github.com/hupe1980/threadmesh/core"
)

// CheckpointBuilder provides a fluent helper for constructing checkpoints in
// tests. Example:
//
//	cp := NewCheckpointBuilder("t1").Stage(core.StageTriage).Decide("triage", core.StageTriage).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type CheckpointBuilder struct {
	threadID string
	parentID string
	writer   string
	channels []core.ChannelValue
	pending  *core.PendingApproval
}

// NewCheckpointBuilder creates a builder for a checkpoint on threadID with
// default writer "router".
func NewCheckpointBuilder(threadID string) *CheckpointBuilder {
	return &CheckpointBuilder{threadID: threadID, writer: core.GroupRouter}
}

// Parent sets the parent checkpoint id (chainable).
func (b *CheckpointBuilder) Parent(id string) *CheckpointBuilder { b.parentID = id; return b }

// Writer overrides the recorded writer group (chainable).
func (b *CheckpointBuilder) Writer(w string) *CheckpointBuilder { b.writer = w; return b }

// Channel sets a channel value on the snapshot (chainable).
func (b *CheckpointBuilder) Channel(name string, value any) *CheckpointBuilder {
	b.channels = append(b.channels, core.ChannelValue{Name: name, Value: value})
	return b
}

// Stage sets the stage channel (chainable).
func (b *CheckpointBuilder) Stage(s core.Stage) *CheckpointBuilder {
	return b.Channel(core.ChannelStage, s)
}

// Decide records a routing decision to worker at stage (chainable).
func (b *CheckpointBuilder) Decide(wkr string, stage core.Stage) *CheckpointBuilder {
	b.Stage(stage)
	return b.Channel(core.ChannelDecision, core.Decision{Worker: wkr, Stage: stage})
}

// Input appends a value to the inputs channel (chainable).
func (b *CheckpointBuilder) Input(v any) *CheckpointBuilder {
	for i, cv := range b.channels {
		if cv.Name == core.ChannelInputs {
			b.channels[i].Value = append(cv.Value.([]any), v)
			return b
		}
	}
	return b.Channel(core.ChannelInputs, []any{v})
}

// Pending marks the checkpoint as suspended awaiting approval (chainable).
func (b *CheckpointBuilder) Pending(worker, reason string, proposed core.Delta) *CheckpointBuilder {
	b.pending = &core.PendingApproval{Worker: worker, Reason: reason, Proposed: proposed}
	return b
}

// Build assembles the checkpoint with a fresh id and UTC timestamp.
func (b *CheckpointBuilder) Build() *core.Checkpoint {
	snap := core.NewSnapshot()
	for _, cv := range b.channels {
		snap.Set(cv.Name, cv.Value)
	}
	cp := core.NewCheckpoint(b.threadID, b.parentID, snap, b.writer)
	cp.Pending = b.pending
	return cp
}
