package threadmesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/threadmesh/classify"
	"github.com/hupe1980/threadmesh/core"
	"github.com/hupe1980/threadmesh/engine"
	"github.com/hupe1980/threadmesh/router"
	"github.com/hupe1980/threadmesh/worker"
)

func demoSchema() *core.Schema {
	return core.MustSchema(
		core.ChannelSpec{Name: "reply", Policy: core.MergeOverwrite, Owner: "support"},
	)
}

func demoWorker(name string) core.Worker {
	return worker.NewFuncWorker(name, "support", nil, []string{"reply"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			return worker.Delta(core.Delta{"reply": "from " + name}), nil
		})
}

func TestThreadMesh_EndToEnd(t *testing.T) {
	rules := []router.Rule{
		router.OnStage(core.StageIntake, "responder", core.StageClosing, "new input"),
		router.Finish(func(v *core.StateView) bool { return v.Stage() == core.StageClosing }, core.StageDone, "replied"),
	}
	mesh := New(demoSchema(), rules)
	mesh.MustRegisterWorker(demoWorker("responder"))

	ctx := context.Background()
	st, err := mesh.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, st.Stage)

	got, err := mesh.GetStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, st.CheckpointID, got.CheckpointID)

	n := 0
	h := mesh.History(ctx, "t1")
	for h.Next() {
		n++
	}
	require.NoError(t, h.Err())
	assert.Equal(t, 2, n)
}

func TestThreadMesh_RegisterWorkerFeedsClassifierCandidates(t *testing.T) {
	mock := classify.NewMockClassifier()
	mock.AddResponse("billing question", "billing")

	// No stage rules: picking the worker is left to the classifier fallback.
	rules := []router.Rule{
		router.Finish(func(v *core.StateView) bool { return v.GetString("reply") != "" }, core.StageDone, "replied"),
	}
	mesh := New(demoSchema(), rules, func(o *Options) { o.Classifier = mock })

	billing := worker.NewFuncWorker("billing", "support", nil, []string{"reply"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			return worker.Delta(core.Delta{"reply": "invoice attached"}), nil
		})
	require.NoError(t, mesh.RegisterWorker(billing))
	mesh.MustRegisterWorker(demoWorker("general"))

	st, err := mesh.SubmitEvent(context.Background(), "t1", "billing question")
	require.NoError(t, err)
	assert.NotEqual(t, core.StageClarify, st.Stage)

	latest, err := mesh.Store().Get(context.Background(), "t1", core.Latest)
	require.NoError(t, err)
	v, _ := latest.Snapshot.Get("reply")
	assert.Equal(t, "invoice attached", v)
}

func TestThreadMesh_RegisterWorkerRejectsBadContract(t *testing.T) {
	mesh := New(demoSchema(), nil)

	bad := worker.NewFuncWorker("bad", "support", nil, []string{"missing"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) { return nil, nil })
	assert.Error(t, mesh.RegisterWorker(bad))

	assert.Panics(t, func() { mesh.MustRegisterWorker(bad) })
}

func TestThreadMesh_DecideDelegates(t *testing.T) {
	rules := []router.Rule{
		router.OnStage(core.StageIntake, "gate", core.StageDelegate, "needs approval"),
		router.Finish(func(v *core.StateView) bool {
			return v.GetString("reply") != ""
		}, core.StageDone, "approved"),
	}
	mesh := New(demoSchema(), rules)
	mesh.MustRegisterWorker(worker.NewFuncWorker("gate", "support", nil, []string{"reply"},
		func(_ context.Context, _ *core.StateView) (*core.Result, error) {
			return worker.Suspend("sign-off required", core.Delta{"reply": "approved text"}), nil
		}))

	ctx := context.Background()
	st, err := mesh.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)
	require.True(t, st.PendingApproval)

	final, err := mesh.Decide(ctx, "t1", st.CheckpointID, engine.Review{Action: engine.Approve})
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, final.Stage)
}

func TestThreadMesh_TravelAndResume(t *testing.T) {
	rules := []router.Rule{
		router.OnStage(core.StageIntake, "responder", core.StageClosing, "new input"),
		router.Finish(func(v *core.StateView) bool { return v.Stage() == core.StageClosing }, core.StageDone, "replied"),
	}
	mesh := New(demoSchema(), rules)
	mesh.MustRegisterWorker(demoWorker("responder"))

	ctx := context.Background()
	_, err := mesh.SubmitEvent(ctx, "t1", "hello")
	require.NoError(t, err)

	var rootID string
	h := mesh.History(ctx, "t1")
	for h.Next() {
		rootID = h.Checkpoint().ID
	}
	require.NoError(t, h.Err())

	forkID, err := mesh.Travel(ctx, "t1", rootID)
	require.NoError(t, err)

	st, err := mesh.Resume(ctx, forkID)
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, st.Stage)
}
