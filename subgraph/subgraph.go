// Package subgraph wraps a cohesive set of workers as one opaque node. The
// parent router sees a single worker producing a summary and a completion
// flag; internally the wrapper runs its own schema, registry and router on
// a derived sub-thread, with its own checkpoints in the shared store. The
// parent never reads or writes the subgraph's private channels, and one
// subgraph invocation yields exactly one parent-level checkpoint no matter
// how many internal ones are created.
package subgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/threadmesh/core"
	"github.com/hupe1980/threadmesh/engine"
	"github.com/hupe1980/threadmesh/logging"
	"github.com/hupe1980/threadmesh/router"
	"github.com/hupe1980/threadmesh/worker"
)

// TranslateIn converts the parent-visible state view into the subgraph's
// input event.
type TranslateIn func(view *core.StateView) any

// TranslateOut converts the subgraph's final private state into the summary
// value exposed to the parent.
type TranslateOut func(view *core.StateView) any

// Options configures a Subgraph node.
type Options struct {
	// Reads are the parent channels the node may observe.
	Reads []string
	// Description is shown to the parent's routing classifier.
	Description string
	// Engine configuration for the internal step loop.
	Config engine.Config
	// Logger defaults to the no-op logger.
	Logger logging.Logger
}

// Subgraph is a core.Worker whose Invoke runs a nested state machine to
// completion or suspension. Internal suspensions propagate to the parent;
// the parent's Decide is forwarded back in (engine.Forwardable).
type Subgraph struct {
	name         string
	group        string
	summaryChan  string
	doneChan     string
	reads        []string
	description  string
	translateIn  TranslateIn
	translateOut TranslateOut
	inner        *engine.Engine
	logger       logging.Logger
}

// New builds a subgraph node named name, writing its parent-visible result
// to summaryChan and doneChan (both must be owned by group in the parent
// schema). schema, registry and rules define the private state machine;
// store is shared with the parent so internal checkpoints survive restarts
// alongside parent ones.
func New(
	name, group string,
	summaryChan, doneChan string,
	schema *core.Schema,
	registry *worker.Registry,
	rules []router.Rule,
	store core.CheckpointStore,
	translateIn TranslateIn,
	translateOut TranslateOut,
	optFns ...func(o *Options),
) *Subgraph {
	opts := Options{Config: engine.DefaultConfig, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	rt := router.New(rules, func(o *router.Options) { o.Logger = opts.Logger })
	inner := engine.New(schema, registry, rt, store,
		func(o *engine.Options) {
			o.Config = opts.Config
			o.Logger = opts.Logger
			o.Writer = name
		},
	)

	return &Subgraph{
		name:         name,
		group:        group,
		summaryChan:  summaryChan,
		doneChan:     doneChan,
		reads:        opts.Reads,
		description:  opts.Description,
		translateIn:  translateIn,
		translateOut: translateOut,
		inner:        inner,
		logger:       opts.Logger,
	}
}

// Registration implements core.Worker. The node owns exactly the summary
// and completion channels at the parent level.
func (s *Subgraph) Registration() core.Registration {
	return core.Registration{
		Name:        s.name,
		Group:       s.group,
		Reads:       s.reads,
		Writes:      []string{s.summaryChan, s.doneChan},
		Description: s.description,
	}
}

// subThreadID derives the internal thread id from the parent thread and the
// deciding parent checkpoint, so a re-invoked parent step (crash recovery)
// deterministically resumes the same internal thread instead of starting a
// second one.
func (s *Subgraph) subThreadID(view *core.StateView) string {
	return fmt.Sprintf("%s:%s:%s", view.ThreadID(), s.name, view.CheckpointID())
}

// Invoke implements core.Worker: it feeds the translated parent request
// into the internal thread and runs it to completion or suspension.
// Re-invocation against the same parent checkpoint resumes rather than
// resubmits, keeping the step idempotent.
func (s *Subgraph) Invoke(ctx context.Context, view *core.StateView) (*core.Result, error) {
	subID := s.subThreadID(view)

	var st *engine.Status
	_, err := s.inner.Store().GetThread(ctx, subID)
	switch {
	case errors.Is(err, core.ErrThreadNotFound):
		st, err = s.inner.SubmitEvent(ctx, subID, s.translateIn(view))
	case err == nil:
		st, err = s.inner.Resume(ctx, subID)
	}
	if err != nil {
		// A concurrent re-invocation may have driven the internal thread to
		// suspension or completion already; report that state instead.
		if errors.Is(err, core.ErrSuspended) || errors.Is(err, core.ErrTerminalStage) {
			if st, gerr := s.inner.GetStatus(ctx, subID); gerr == nil {
				return s.resultFor(ctx, subID, st)
			}
		}
		return nil, core.Permanent(s.name, err)
	}
	return s.resultFor(ctx, subID, st)
}

// Forward implements engine.Forwardable: the parent's approval decision is
// applied to the internal pending checkpoint first, then the internal run
// continues and its outcome is projected back to the parent.
func (s *Subgraph) Forward(ctx context.Context, view *core.StateView, review engine.Review) (*core.Result, error) {
	subID := s.subThreadID(view)
	pending, err := s.inner.Store().Get(ctx, subID, core.Latest)
	if err != nil {
		return nil, core.Permanent(s.name, err)
	}
	if !pending.IsPending() {
		// Decision already applied on a previous attempt; just continue.
		st, err := s.inner.Resume(ctx, subID)
		if err != nil {
			return nil, core.Permanent(s.name, err)
		}
		return s.resultFor(ctx, subID, st)
	}
	st, err := s.inner.Decide(ctx, subID, pending.ID, review)
	if err != nil {
		return nil, core.Permanent(s.name, err)
	}
	return s.resultFor(ctx, subID, st)
}

// resultFor maps an internal status onto the parent-level result: a nested
// suspension propagates upward, a failure aborts the parent step, a
// terminal stage projects the summary. An internal run parked in a
// non-terminal stage (ambiguous routing, or waiting for input after a
// rejected step) has not completed and suspends the parent instead.
func (s *Subgraph) resultFor(ctx context.Context, subID string, st *engine.Status) (*core.Result, error) {
	switch {
	case st.PendingApproval:
		s.logger.Info("subgraph suspended", "subgraph", s.name, "sub_thread_id", subID, "reason", st.PendingReason)
		return &core.Result{Suspend: &core.SuspendRequest{
			Reason: fmt.Sprintf("%s: %s", s.name, st.PendingReason),
		}}, nil
	case st.Stage == core.StageFailed:
		return nil, core.Permanent(s.name, fmt.Errorf("subgraph failed: %s", st.FailureReason))
	case st.Stage.Terminal():
		return s.project(ctx, subID)
	default:
		s.logger.Info("subgraph parked", "subgraph", s.name, "sub_thread_id", subID, "stage", st.Stage)
		return &core.Result{Suspend: &core.SuspendRequest{
			Reason: fmt.Sprintf("%s: awaiting input (stage %s)", s.name, st.Stage),
		}}, nil
	}
}

// project translates the internal final state into the one or two channels
// the parent is permitted to see.
func (s *Subgraph) project(ctx context.Context, subID string) (*core.Result, error) {
	final, err := s.inner.Store().Get(ctx, subID, core.Latest)
	if err != nil {
		return nil, core.Permanent(s.name, err)
	}
	view := core.NewStateView(final.Snapshot, nil, subID, final.ID)
	return &core.Result{Delta: core.Delta{
		s.summaryChan: s.translateOut(view),
		s.doneChan:    true,
	}}, nil
}
