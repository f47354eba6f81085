package worker

import (
	"context"

	"github.com/hupe1980/threadmesh/core"
)

// BaseWorker bundles the registration plumbing shared by concrete worker
// implementations. Embed it and supply an Invoke method to satisfy
// core.Worker.
type BaseWorker struct {
	reg core.Registration
}

// NewBaseWorker constructs a BaseWorker with the given contract.
func NewBaseWorker(name, group string, reads, writes []string) BaseWorker {
	return BaseWorker{reg: core.Registration{Name: name, Group: group, Reads: reads, Writes: writes}}
}

// Registration returns the worker's channel contract.
func (b *BaseWorker) Registration() core.Registration { return b.reg }

// SetDescription updates the description shown to the routing classifier.
func (b *BaseWorker) SetDescription(desc string) { b.reg.Description = desc }

// FuncWorker adapts a plain Go function into a core.Worker. It has no
// internal mutable state after construction and is safe for concurrent use.
// The wrapped function inherits the idempotency obligation of the Worker
// contract.
type FuncWorker struct {
	BaseWorker
	fn func(ctx context.Context, view *core.StateView) (*core.Result, error)
}

// NewFuncWorker wraps fn as a worker with the given channel contract.
func NewFuncWorker(name, group string, reads, writes []string, fn func(ctx context.Context, view *core.StateView) (*core.Result, error)) *FuncWorker {
	return &FuncWorker{BaseWorker: NewBaseWorker(name, group, reads, writes), fn: fn}
}

// Invoke implements core.Worker.
func (w *FuncWorker) Invoke(ctx context.Context, view *core.StateView) (*core.Result, error) {
	return w.fn(ctx, view)
}

// Delta is a convenience constructor for a plain delta result.
func Delta(d core.Delta) *core.Result { return &core.Result{Delta: d} }

// Suspend is a convenience constructor for a suspension result carrying the
// proposed delta and a reason for the approver.
func Suspend(reason string, proposed core.Delta) *core.Result {
	return &core.Result{Suspend: &core.SuspendRequest{Reason: reason, Proposed: proposed}}
}
