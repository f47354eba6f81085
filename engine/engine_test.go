package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/threadmesh/checkpoint"
	"github.com/hupe1980/threadmesh/core"
	"github.com/hupe1980/threadmesh/router"
	"github.com/hupe1980/threadmesh/worker"
)

func fastConfig() Config {
	return Config{
		MaxTransientRetries: 3,
		RetryBackoff:        time.Millisecond,
		MaxCommitRetries:    1,
		CommitBackoff:       time.Millisecond,
		MaxStepsPerEvent:    16,
	}
}

type testRig struct {
	engine *Engine
	store  *checkpoint.InMemoryStore
}

func newRig(t *testing.T, schema *core.Schema, rules []router.Rule, workers ...core.Worker) *testRig {
	t.Helper()
	store := checkpoint.NewInMemoryStore()
	registry := worker.NewRegistry(schema)
	for _, w := range workers {
		require.NoError(t, registry.Register(w))
	}
	rt := router.New(rules)
	eng := New(schema, registry, rt, store, func(o *Options) { o.Config = fastConfig() })
	return &testRig{engine: eng, store: store}
}

func (r *testRig) checkpointCount(t *testing.T, threadID string) int {
	t.Helper()
	n := 0
	h := core.NewHistory(context.Background(), r.store, threadID)
	for h.Next() {
		n++
	}
	require.NoError(t, h.Err())
	return n
}

func pipelineSchema() *core.Schema {
	return core.MustSchema(
		core.ChannelSpec{Name: "category", Policy: core.MergeOverwrite, Owner: "support"},
		core.ChannelSpec{Name: "reply", Policy: core.MergeOverwrite, Owner: "support"},
		core.ChannelSpec{Name: "notes", Policy: core.MergeAppend, Owner: "support"},
	)
}

func pipelineRules() []router.Rule {
	return []router.Rule{
		router.OnStage(core.StageIntake, "triage", core.StageTriage, "fresh thread"),
		router.OnStage(core.StageTriage, "responder", core.StageClosing, "category known"),
		router.Finish(func(v *core.StateView) bool { return v.Stage() == core.StageClosing }, core.StageDone, "reply sent"),
	}
}

func pipelineWorkers() []core.Worker {
	triage := worker.NewFuncWorker("triage", "support", nil, []string{"category", "notes"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			return worker.Delta(core.Delta{"category": "general", "notes": "triaged"}), nil
		})
	responder := worker.NewFuncWorker("responder", "support", []string{"category"}, []string{"reply", "notes"},
		func(_ context.Context, view *core.StateView) (*core.Result, error) {
			return worker.Delta(core.Delta{"reply": "re: " + view.GetString("category"), "notes": "replied"}), nil
		})
	return []core.Worker{triage, responder}
}

func TestEngine_SubmitEvent_RunsPipelineToDone(t *testing.T) {
	rig := newRig(t, pipelineSchema(), pipelineRules(), pipelineWorkers()...)
	ctx := context.Background()

	st, err := rig.engine.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, st.Stage)
	assert.False(t, st.PendingApproval)

	// One checkpoint per step: input+decision, triage result, responder result.
	assert.Equal(t, 3, rig.checkpointCount(t, "t1"))

	latest, err := rig.store.Get(ctx, "t1", core.Latest)
	require.NoError(t, err)
	v, _ := latest.Snapshot.Get("reply")
	assert.Equal(t, "re: general", v)
	v, _ = latest.Snapshot.Get("notes")
	assert.Equal(t, []any{"triaged", "replied"}, v)
	v, _ = latest.Snapshot.Get(core.ChannelInputs)
	assert.Equal(t, []any{"hello"}, v)
}

func TestEngine_SubmitEvent_DecisionCommittedBeforeWorkerRuns(t *testing.T) {
	schema := pipelineSchema()
	store := checkpoint.NewInMemoryStore()
	registry := worker.NewRegistry(schema)

	// The worker observes the store state at invocation time: the decision
	// naming it must already be durable.
	var sawDecision atomic.Bool
	w := worker.NewFuncWorker("triage", "support", nil, []string{"category"},
		func(ctx context.Context, view *core.StateView) (*core.Result, error) {
			cp, err := store.Get(ctx, view.ThreadID(), core.Latest)
			if err != nil {
				return nil, err
			}
			if d, ok := cp.Decision(); ok && d.Worker == "triage" {
				sawDecision.Store(true)
			}
			return worker.Delta(core.Delta{"category": "x"}), nil
		})
	require.NoError(t, registry.Register(w))

	rules := []router.Rule{
		router.OnStage(core.StageIntake, "triage", core.StageTriage, ""),
		router.Finish(func(v *core.StateView) bool { return v.Stage() == core.StageTriage }, core.StageDone, ""),
	}
	eng := New(schema, registry, router.New(rules), store, func(o *Options) { o.Config = fastConfig() })

	_, err := eng.SubmitEvent(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.True(t, sawDecision.Load())
}

func TestEngine_GetStatus_FreshAndExistingThread(t *testing.T) {
	rig := newRig(t, pipelineSchema(), pipelineRules(), pipelineWorkers()...)
	ctx := context.Background()

	_, err := rig.engine.GetStatus(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrThreadNotFound)

	_, err = rig.engine.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)

	st, err := rig.engine.GetStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, st.Stage)
	assert.NotEmpty(t, st.CheckpointID)
}

func TestEngine_SubmitEvent_TerminalThreadRejected(t *testing.T) {
	rig := newRig(t, pipelineSchema(), pipelineRules(), pipelineWorkers()...)
	ctx := context.Background()

	_, err := rig.engine.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)

	_, err = rig.engine.SubmitEvent(ctx, "t1", "more")
	assert.ErrorIs(t, err, core.ErrTerminalStage)
}

func TestEngine_TransientFailureIsRetried(t *testing.T) {
	schema := pipelineSchema()
	var attempts atomic.Int32
	flaky := worker.NewFuncWorker("triage", "support", nil, []string{"category"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			if attempts.Add(1) < 3 {
				return nil, core.Transient("triage", errors.New("upstream hiccup"))
			}
			return worker.Delta(core.Delta{"category": "ok"}), nil
		})

	rules := []router.Rule{
		router.OnStage(core.StageIntake, "triage", core.StageTriage, ""),
		router.Finish(func(v *core.StateView) bool { return v.Stage() == core.StageTriage }, core.StageDone, ""),
	}
	rig := newRig(t, schema, rules, flaky)

	st, err := rig.engine.SubmitEvent(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, st.Stage)
	assert.Equal(t, int32(3), attempts.Load())
	// Retries never commit intermediate checkpoints.
	assert.Equal(t, 2, rig.checkpointCount(t, "t1"))
}

func TestEngine_PermanentFailureMovesThreadToFailed(t *testing.T) {
	schema := pipelineSchema()
	broken := worker.NewFuncWorker("triage", "support", nil, []string{"category"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			return nil, core.Permanent("triage", errors.New("unrecoverable"))
		})

	rules := []router.Rule{router.OnStage(core.StageIntake, "triage", core.StageTriage, "")}
	rig := newRig(t, schema, rules, broken)

	st, err := rig.engine.SubmitEvent(context.Background(), "t1", "hi")
	require.NoError(t, err, "a failed thread is a state, not a call error")
	assert.Equal(t, core.StageFailed, st.Stage)
	assert.Contains(t, st.FailureReason, "unrecoverable")

	// All prior checkpoints survive.
	assert.Equal(t, 2, rig.checkpointCount(t, "t1"))

	_, err = rig.engine.SubmitEvent(context.Background(), "t1", "again")
	assert.ErrorIs(t, err, core.ErrTerminalStage)
}

func TestEngine_UnregisteredWorkerFailsThread(t *testing.T) {
	rules := []router.Rule{router.OnStage(core.StageIntake, "ghost", core.StageTriage, "")}
	rig := newRig(t, pipelineSchema(), rules)

	st, err := rig.engine.SubmitEvent(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StageFailed, st.Stage)
	assert.Contains(t, st.FailureReason, "ghost")
}

func TestEngine_StepBudgetGuardsRoutingCycles(t *testing.T) {
	schema := pipelineSchema()
	spinner := worker.NewFuncWorker("spinner", "support", nil, []string{"notes"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			return worker.Delta(core.Delta{"notes": "spin"}), nil
		})

	// The rule always routes back to the same worker.
	rules := []router.Rule{
		router.When(func(_ *core.StateView) bool { return true }, "spinner", core.StageDelegate, "loop"),
	}
	rig := newRig(t, schema, rules, spinner)

	st, err := rig.engine.SubmitEvent(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StageFailed, st.Stage)
	assert.Contains(t, st.FailureReason, "step budget")
}

func TestEngine_AmbiguousRoutingParksInClarify(t *testing.T) {
	// No rules and no classifier: the submit records a clarify decision
	// instead of failing or guessing.
	rig := newRig(t, pipelineSchema(), nil, pipelineWorkers()...)

	st, err := rig.engine.SubmitEvent(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StageClarify, st.Stage)
	assert.Equal(t, 1, rig.checkpointCount(t, "t1"))
}

func TestEngine_Resume_ReexecutesCommittedDecision(t *testing.T) {
	schema := pipelineSchema()
	var invoked atomic.Int32
	w := worker.NewFuncWorker("triage", "support", nil, []string{"category"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			invoked.Add(1)
			return worker.Delta(core.Delta{"category": "ok"}), nil
		})
	rules := []router.Rule{
		router.OnStage(core.StageIntake, "triage", core.StageTriage, ""),
		router.Finish(func(v *core.StateView) bool { return v.Stage() == core.StageTriage }, core.StageDone, ""),
	}
	rig := newRig(t, schema, rules, w)
	ctx := context.Background()

	// Simulate a crash between "decided" and "executed": the decision
	// checkpoint is durable but the worker never ran.
	_, err := rig.store.CreateThread(ctx, "t1", "")
	require.NoError(t, err)
	decided := core.NewCheckpoint("t1", "", mustApply(t, schema, core.NewSnapshot(), core.Delta{
		core.ChannelInputs:   "hello",
		core.ChannelDecision: core.Decision{Worker: "triage", Stage: core.StageTriage},
		core.ChannelStage:    string(core.StageTriage),
	}), core.GroupRouter)
	_, err = rig.store.Put(ctx, decided)
	require.NoError(t, err)

	st, err := rig.engine.Resume(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, st.Stage)
	assert.Equal(t, int32(1), invoked.Load())

	// A second resume is a no-op: the thread is already up to date.
	st2, err := rig.engine.Resume(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, st.CheckpointID, st2.CheckpointID)
	assert.Equal(t, int32(1), invoked.Load())
}

func TestEngine_Travel_ForkDivergesWithoutTouchingSource(t *testing.T) {
	rig := newRig(t, pipelineSchema(), pipelineRules(), pipelineWorkers()...)
	ctx := context.Background()

	_, err := rig.engine.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)

	// Fork from the root checkpoint (oldest in history).
	var rootID string
	h := rig.engine.History(ctx, "t1")
	for h.Next() {
		rootID = h.Checkpoint().ID
	}
	require.NoError(t, h.Err())

	forkID, err := rig.engine.Travel(ctx, "t1", rootID)
	require.NoError(t, err)
	assert.NotEqual(t, "t1", forkID)

	// Fork status derives from the origin before any new checkpoint.
	st, err := rig.engine.GetStatus(ctx, forkID)
	require.NoError(t, err)
	assert.Equal(t, rootID, st.CheckpointID)

	sourceBefore, err := rig.store.Get(ctx, "t1", core.Latest)
	require.NoError(t, err)

	// The fork replays from the decision stored in the origin checkpoint.
	stf, err := rig.engine.Resume(ctx, forkID)
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, stf.Stage)

	sourceAfter, err := rig.store.Get(ctx, "t1", core.Latest)
	require.NoError(t, err)
	assert.Equal(t, sourceBefore.ID, sourceAfter.ID, "source thread latest unchanged")

	// Forking the same point twice still works, under a derived id.
	fork2, err := rig.engine.Travel(ctx, "t1", rootID)
	require.NoError(t, err)
	assert.NotEqual(t, forkID, fork2)
}

func TestEngine_RetireThread(t *testing.T) {
	rig := newRig(t, pipelineSchema(), pipelineRules(), pipelineWorkers()...)
	ctx := context.Background()

	_, err := rig.engine.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)
	require.NoError(t, rig.engine.RetireThread(ctx, "t1"))

	// History remains readable after retirement.
	assert.Equal(t, 3, rig.checkpointCount(t, "t1"))
}

func TestEngine_NilResultTreatedAsEmptyDelta(t *testing.T) {
	schema := pipelineSchema()
	w := worker.NewFuncWorker("noop", "support", nil, nil,
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			return nil, nil
		})
	rules := []router.Rule{
		router.OnStage(core.StageIntake, "noop", core.StageTriage, ""),
		router.Finish(func(v *core.StateView) bool { return v.Stage() == core.StageTriage }, core.StageDone, ""),
	}
	rig := newRig(t, schema, rules, w)

	st, err := rig.engine.SubmitEvent(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, st.Stage)
}

func mustApply(t *testing.T, schema *core.Schema, snap *core.Snapshot, delta core.Delta) *core.Snapshot {
	t.Helper()
	next, err := schema.Apply(snap, delta)
	require.NoError(t, err)
	return next
}
