package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/threadmesh/core"
	"github.com/hupe1980/threadmesh/logging"
	"github.com/hupe1980/threadmesh/router"
	"github.com/hupe1980/threadmesh/worker"
)

// Config defines tuning parameters for the engine's step loop.
type Config struct {
	// MaxTransientRetries bounds re-invocations of a worker step after a
	// transient failure. Workers must tolerate re-invocation.
	MaxTransientRetries int

	// RetryBackoff is the initial backoff before a transient retry; it
	// doubles per attempt.
	RetryBackoff time.Duration

	// MaxCommitRetries bounds re-commits of a completed worker result
	// against the store. The worker is never re-invoked for a failed
	// commit.
	MaxCommitRetries int

	// CommitBackoff is the initial backoff before a commit retry.
	CommitBackoff time.Duration

	// MaxStepsPerEvent caps the number of worker steps a single submitted
	// event may trigger, guarding against routing cycles.
	MaxStepsPerEvent int
}

// DefaultConfig provides conservative defaults safe for tests and small
// deployments.
var DefaultConfig = Config{
	MaxTransientRetries: 3,
	RetryBackoff:        100 * time.Millisecond,
	MaxCommitRetries:    3,
	CommitBackoff:       50 * time.Millisecond,
	MaxStepsPerEvent:    32,
}

// Options configures an Engine instance.
type Options struct {
	// Config contains operational parameters for the step loop.
	Config Config
	// Logger defaults to the no-op logger.
	Logger logging.Logger
	// Writer identifies engine-authored checkpoints in metadata.
	Writer string
}

// Status is the externally visible summary of a thread's state.
type Status struct {
	ThreadID        string     `json:"thread_id"`
	CheckpointID    string     `json:"checkpoint_id,omitempty"`
	Stage           core.Stage `json:"stage"`
	PendingApproval bool       `json:"pending_approval"`
	PendingReason   string     `json:"pending_reason,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
}

// Engine drives the checkpointed state machine for all threads sharing one
// schema, registry and router. It is safe for concurrent use across
// distinct thread ids; steps of a single thread are serialized by the
// store's compare-and-swap.
type Engine struct {
	schema   *core.Schema
	registry *worker.Registry
	router   *router.Router
	store    core.CheckpointStore
	config   Config
	logger   logging.Logger
	writer   string
}

// New creates an Engine over the given schema, worker registry, router and
// checkpoint store.
func New(schema *core.Schema, registry *worker.Registry, rt *router.Router, store core.CheckpointStore, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Writer: core.GroupRouter,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		schema:   schema,
		registry: registry,
		router:   rt,
		store:    store,
		config:   opts.Config,
		logger:   opts.Logger,
		writer:   opts.Writer,
	}
}

// Store exposes the engine's checkpoint store for history inspection.
func (e *Engine) Store() core.CheckpointStore { return e.store }

// SubmitEvent feeds external input into a thread, creating it on first
// contact, and advances the state machine until a terminal stage or a
// suspension. The routing decision for the first worker is committed before
// that worker executes.
//
// A CAS loss against a concurrent submit on the same thread surfaces as
// ErrStaleParent: exactly one call commits, the other must reload and
// retry.
func (e *Engine) SubmitEvent(ctx context.Context, threadID string, input any) (*Status, error) {
	thread, err := e.store.GetThread(ctx, threadID)
	if errors.Is(err, core.ErrThreadNotFound) {
		thread, err = e.store.CreateThread(ctx, threadID, "")
		if errors.Is(err, core.ErrThreadExists) {
			// Lost the creation race; the thread now exists.
			thread, err = e.store.GetThread(ctx, threadID)
		}
	}
	if err != nil {
		return nil, err
	}

	snap, parentID, err := e.base(ctx, thread)
	if err != nil {
		return nil, err
	}

	delta := core.Delta{core.ChannelInputs: input}
	merged, err := e.schema.Apply(snap, delta)
	if err != nil {
		return nil, err
	}

	decision, routeErr := e.route(ctx, threadID, parentID, merged)
	if routeErr != nil {
		return nil, routeErr
	}
	delta[core.ChannelDecision] = decision
	delta[core.ChannelStage] = string(decision.Stage)

	next, err := e.schema.Apply(snap, delta)
	if err != nil {
		return nil, err
	}

	cp := core.NewCheckpoint(threadID, parentID, next, e.writer)
	if _, err := e.put(ctx, cp); err != nil {
		return nil, err
	}
	e.logger.Debug("event committed", "thread_id", threadID, "checkpoint_id", cp.ID, "worker", decision.Worker, "stage", decision.Stage)

	return e.runSteps(ctx, threadID, cp)
}

// GetStatus reports the thread's stage and whether it awaits an approval.
func (e *Engine) GetStatus(ctx context.Context, threadID string) (*Status, error) {
	thread, err := e.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	cp, err := e.store.Get(ctx, threadID, core.Latest)
	if errors.Is(err, core.ErrCheckpointNotFound) {
		// Fresh thread: status derives from the fork origin, or is empty.
		if thread.Origin == "" {
			return &Status{ThreadID: threadID, Stage: core.StageIntake}, nil
		}
		origin, oerr := e.store.Resolve(ctx, thread.Origin)
		if oerr != nil {
			return nil, oerr
		}
		return &Status{ThreadID: threadID, CheckpointID: origin.ID, Stage: origin.Stage()}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.status(threadID, cp), nil
}

// History returns a lazy cursor over the thread's lineage, newest first.
func (e *Engine) History(ctx context.Context, threadID string) *core.History {
	return core.NewHistory(ctx, e.store, threadID)
}

// RetireThread applies the retention policy: the thread stops accepting
// checkpoints while its history remains readable.
func (e *Engine) RetireThread(ctx context.Context, threadID string) error {
	return e.store.RetireThread(ctx, threadID)
}

// base resolves the snapshot and parent id the next checkpoint builds on:
// the thread's latest, its fork origin, or an empty root.
func (e *Engine) base(ctx context.Context, thread *core.Thread) (*core.Snapshot, string, error) {
	latest, err := e.store.Get(ctx, thread.ID, core.Latest)
	if errors.Is(err, core.ErrCheckpointNotFound) {
		if thread.Origin == "" {
			return core.NewSnapshot(), "", nil
		}
		origin, oerr := e.store.Resolve(ctx, thread.Origin)
		if oerr != nil {
			return nil, "", oerr
		}
		return origin.Snapshot, origin.ID, nil
	}
	if err != nil {
		return nil, "", err
	}
	if latest.IsPending() {
		return nil, "", core.ErrSuspended
	}
	if latest.Stage().Terminal() {
		return nil, "", core.ErrTerminalStage
	}
	return latest.Snapshot, latest.ID, nil
}

// route asks the router for the next decision over the merged state. An
// unresolved ambiguity is not a thread failure: the clarify decision is
// recorded and the thread waits for clarifying input.
func (e *Engine) route(ctx context.Context, threadID, checkpointID string, snap *core.Snapshot) (core.Decision, error) {
	view := core.NewStateView(snap, nil, threadID, checkpointID)
	decision, err := e.router.Route(ctx, view)
	if err != nil {
		if router.IsAmbiguous(err) {
			e.logger.Warn("routing ambiguous, entering clarify", "thread_id", threadID)
			return decision, nil
		}
		return core.Decision{}, err
	}
	return decision, nil
}

// runSteps executes the decision recorded in cp and keeps stepping until a
// terminal stage, a suspension, or a decision without a worker.
// Cancellation is cooperative: it is checked between steps and never
// interrupts an in-flight worker invocation.
func (e *Engine) runSteps(ctx context.Context, threadID string, cp *core.Checkpoint) (*Status, error) {
	for i := 0; i < e.config.MaxStepsPerEvent; i++ {
		if err := ctx.Err(); err != nil {
			return e.status(threadID, cp), err
		}
		if cp.Stage().Terminal() || cp.IsPending() {
			return e.status(threadID, cp), nil
		}
		decision, ok := cp.Decision()
		if !ok || decision.Worker == "" {
			return e.status(threadID, cp), nil
		}

		w, ok := e.registry.Get(decision.Worker)
		if !ok {
			return e.failStep(ctx, threadID, cp, fmt.Sprintf("worker %s not registered", decision.Worker))
		}

		reg := w.Registration()
		view := core.NewStateView(cp.Snapshot, reg.Reads, threadID, cp.ID)

		result, err := e.invoke(ctx, w, view)
		if err != nil {
			if ctx.Err() != nil {
				return e.status(threadID, cp), ctx.Err()
			}
			e.logger.Error("worker failed", "worker", reg.Name, "thread_id", threadID, "error", err)
			return e.failStep(ctx, threadID, cp, err.Error())
		}

		next, err := e.commitResult(ctx, threadID, cp, reg, result)
		if err != nil {
			return e.status(threadID, cp), err
		}
		cp = next
	}
	return e.failStep(ctx, threadID, cp, fmt.Sprintf("step budget exhausted after %d steps", e.config.MaxStepsPerEvent))
}

// invoke runs one worker step, retrying transient failures with doubling
// backoff. Permanent failures and exhausted retries return the last error.
func (e *Engine) invoke(ctx context.Context, w core.Worker, view *core.StateView) (*core.Result, error) {
	backoff := e.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxTransientRetries; attempt++ {
		if attempt > 0 {
			e.logger.Debug("retrying worker step", "worker", w.Registration().Name, "attempt", attempt)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		result, err := w.Invoke(ctx, view)
		if err == nil {
			if result == nil || (result.Delta == nil && result.Suspend == nil) {
				return &core.Result{Delta: core.Delta{}}, nil
			}
			return result, nil
		}
		lastErr = err
		if !core.IsTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transient retries exhausted: %w", lastErr)
}

// commitResult persists a worker outcome: a suspension keeps the channel
// values of cp and carries the proposed delta; a plain delta is merged,
// the next routing decision recorded, and both committed as one checkpoint.
func (e *Engine) commitResult(ctx context.Context, threadID string, cp *core.Checkpoint, reg core.Registration, result *core.Result) (*core.Checkpoint, error) {
	if result.Suspend != nil {
		if err := e.schema.ValidateDelta(result.Suspend.Proposed, reg.Name, reg.Group); err != nil {
			return nil, err
		}
		next := core.NewCheckpoint(threadID, cp.ID, cp.Snapshot.Clone(), reg.Name)
		next.Pending = &core.PendingApproval{
			Worker:   reg.Name,
			Reason:   result.Suspend.Reason,
			Proposed: result.Suspend.Proposed.Clone(),
		}
		if _, err := e.put(ctx, next); err != nil {
			return nil, err
		}
		e.logger.Info("step suspended", "thread_id", threadID, "worker", reg.Name, "reason", result.Suspend.Reason)
		return next, nil
	}

	if err := e.schema.ValidateDelta(result.Delta, reg.Name, reg.Group); err != nil {
		return nil, err
	}

	merged, err := e.schema.Apply(cp.Snapshot, result.Delta)
	if err != nil {
		return nil, err
	}
	decision, err := e.route(ctx, threadID, cp.ID, merged)
	if err != nil {
		return nil, err
	}

	full := result.Delta.Clone()
	if full == nil {
		full = core.Delta{}
	}
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
	e.logger.Debug("step committed", "thread_id", threadID, "checkpoint_id", next.ID, "worker", reg.Name, "next_worker", decision.Worker, "stage", decision.Stage)
	return next, nil
}

// failStep transitions the thread to the failed stage, preserving all prior
// checkpoints and recording a human-readable reason. The failure is not
// propagated to the caller; it is visible through GetStatus.
func (e *Engine) failStep(ctx context.Context, threadID string, cp *core.Checkpoint, reason string) (*Status, error) {
	delta := core.Delta{
		core.ChannelStage:    string(core.StageFailed),
		core.ChannelFailure:  reason,
		core.ChannelDecision: core.Decision{Stage: core.StageFailed, Reason: reason},
	}
	snap, err := e.schema.Apply(cp.Snapshot, delta)
	if err != nil {
		return nil, err
	}
	next := core.NewCheckpoint(threadID, cp.ID, snap, e.writer)
	if _, err := e.put(ctx, next); err != nil {
		return nil, err
	}
	return e.status(threadID, next), nil
}

// put commits a checkpoint, retrying only the commit on non-CAS
// persistence failures. A completed worker result is never dropped because
// of a flaky store, and never re-invoked because of one either.
func (e *Engine) put(ctx context.Context, cp *core.Checkpoint) (string, error) {
	backoff := e.config.CommitBackoff
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxCommitRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, backoff); err != nil {
				return "", err
			}
			backoff *= 2
		}
		id, err := e.store.Put(ctx, cp)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !retriablePut(err) {
			return "", err
		}
		e.logger.Warn("checkpoint commit failed, retrying", "thread_id", cp.ThreadID, "attempt", attempt, "error", err)
	}
	return "", lastErr
}

// retriablePut reports whether a Put failure may be retried: CAS losses and
// domain rejections must surface immediately, transport-level persistence
// errors may be re-attempted.
func retriablePut(err error) bool {
	switch {
	case errors.Is(err, core.ErrStaleParent),
		errors.Is(err, core.ErrThreadRetired),
		errors.Is(err, core.ErrThreadNotFound):
		return false
	}
	return core.IsPersistence(err)
}

func (e *Engine) status(threadID string, cp *core.Checkpoint) *Status {
	st := &Status{
		ThreadID:     threadID,
		CheckpointID: cp.ID,
		Stage:        cp.Stage(),
	}
	if cp.IsPending() {
		st.PendingApproval = true
		st.PendingReason = cp.Pending.Reason
	}
	if v, ok := cp.Snapshot.Get(core.ChannelFailure); ok {
		if s, ok := v.(string); ok {
			st.FailureReason = s
		}
	}
	return st
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
