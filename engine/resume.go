package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/threadmesh/core"
)

// Resume re-enters the state machine at the thread's latest checkpoint with
// zero side effects beyond what the snapshot already encodes. A checkpoint
// whose recorded decision was never executed (crash between "decided" and
// "executed") has its worker re-invoked; an up-to-date thread produces no
// new checkpoint.
func (e *Engine) Resume(ctx context.Context, threadID string) (*Status, error) {
	cp, err := e.store.Get(ctx, threadID, core.Latest)
	if errors.Is(err, core.ErrCheckpointNotFound) {
		// A fork without own checkpoints resumes from its origin: the
		// decision recorded there is replayed onto the new thread.
		thread, terr := e.store.GetThread(ctx, threadID)
		if terr != nil {
			return nil, terr
		}
		if thread.Origin == "" {
			return &Status{ThreadID: threadID, Stage: core.StageIntake}, nil
		}
		cp, err = e.store.Resolve(ctx, thread.Origin)
	}
	if err != nil {
		return nil, err
	}
	if cp.IsPending() || cp.Stage().Terminal() {
		return e.status(threadID, cp), nil
	}
	if d, ok := cp.Decision(); !ok || d.Worker == "" {
		return e.status(threadID, cp), nil
	}
	e.logger.Info("resuming thread", "thread_id", threadID, "checkpoint_id", cp.ID)
	return e.runSteps(ctx, threadID, cp)
}

// Travel forks a new thread whose root parent is an arbitrary historical
// checkpoint of threadID. The source thread and checkpoint are never
// touched; this is the only supported mechanism for "going back".
func (e *Engine) Travel(ctx context.Context, threadID, checkpointID string) (string, error) {
	cp, err := e.store.Get(ctx, threadID, checkpointID)
	if err != nil {
		return "", err
	}
	forkID := fmt.Sprintf("%s~%s", threadID, shortID(cp.ID))
	if _, err := e.store.CreateThread(ctx, forkID, cp.ID); err != nil {
		if errors.Is(err, core.ErrThreadExists) {
			// Same fork point twice: derive a fresh id instead of failing.
			forkID = fmt.Sprintf("%s~%s", threadID, shortID(core.NewID()))
			if _, err := e.store.CreateThread(ctx, forkID, cp.ID); err != nil {
				return "", err
			}
			return forkID, nil
		}
		return "", err
	}
	e.logger.Info("thread forked", "thread_id", threadID, "fork_id", forkID, "checkpoint_id", cp.ID)
	return forkID, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
