// Package threadmesh provides a high-level façade over the checkpointed
// conversation engine. Most applications interact with this package by:
//  1. Creating a ThreadMesh via New() with a channel schema and routing rules
//     (optionally overriding the default in-memory checkpoint store)
//  2. Registering workers and subgraph nodes
//  3. Submitting external events (SubmitEvent), answering approval gates
//     (Decide) and recovering after restarts (Resume)
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a durable checkpoint
// store and a structured logger.
package threadmesh

import (
	"context"

	"github.com/hupe1980/threadmesh/checkpoint"
	"github.com/hupe1980/threadmesh/classify"
	"github.com/hupe1980/threadmesh/core"
	"github.com/hupe1980/threadmesh/engine"
	"github.com/hupe1980/threadmesh/logging"
	"github.com/hupe1980/threadmesh/router"
	"github.com/hupe1980/threadmesh/worker"
)

// Options configures the ThreadMesh instance.
type Options struct {
	// Engine configuration (retry limits, backoff, step budget).
	EngineConfig engine.Config

	// Store holds threads and checkpoints (defaults to in-memory).
	Store core.CheckpointStore

	// Classifier breaks routing ties when more than one rule matches. Nil
	// disables the fallback; ambiguous routes then park the thread in the
	// clarify stage.
	Classifier classify.Classifier

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ThreadMesh is the high-level façade aggregating the schema, worker
// registry, router and engine behind a small thread-oriented API.
type ThreadMesh struct {
	opts     Options
	schema   *core.Schema
	registry *worker.Registry
	router   *router.Router
	engine   *engine.Engine
}

// New creates a ThreadMesh for the given channel schema and routing rules.
// Any unset service is initialized with an in-memory implementation.
func New(schema *core.Schema, rules []router.Rule, optFns ...func(o *Options)) *ThreadMesh {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Store:        checkpoint.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	registry := worker.NewRegistry(schema)
	rt := router.New(rules, func(o *router.Options) {
		o.Classifier = opts.Classifier
		o.Logger = opts.Logger
	})
	eng := engine.New(schema, registry, rt, opts.Store, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Logger = opts.Logger
	})

	return &ThreadMesh{
		opts:     opts,
		schema:   schema,
		registry: registry,
		router:   rt,
		engine:   eng,
	}
}

// RegisterWorker adds a worker to the registry and announces it to the
// routing classifier under its registration description.
func (m *ThreadMesh) RegisterWorker(w core.Worker) error {
	if err := m.registry.Register(w); err != nil {
		return err
	}
	reg := w.Registration()
	m.router.AddCandidate(reg.Name, reg.Description)
	return nil
}

// MustRegisterWorker is RegisterWorker panicking on error, for static
// wiring at startup.
func (m *ThreadMesh) MustRegisterWorker(w core.Worker) {
	if err := m.RegisterWorker(w); err != nil {
		panic(err)
	}
}

// SubmitEvent appends an external input to the thread (creating it on first
// use) and drives the state machine until it parks. Exactly one of any set
// of concurrent submissions against the same thread wins; the rest fail
// with core.ErrStaleParent.
func (m *ThreadMesh) SubmitEvent(ctx context.Context, threadID string, input any) (*engine.Status, error) {
	return m.engine.SubmitEvent(ctx, threadID, input)
}

// GetStatus reports the thread's current stage and any pending approval.
func (m *ThreadMesh) GetStatus(ctx context.Context, threadID string) (*engine.Status, error) {
	return m.engine.GetStatus(ctx, threadID)
}

// Resume re-enters a thread after a crash or restart. Safe to call on an
// up-to-date thread; it then changes nothing.
func (m *ThreadMesh) Resume(ctx context.Context, threadID string) (*engine.Status, error) {
	return m.engine.Resume(ctx, threadID)
}

// Decide answers the approval gate identified by checkpointID and, unless
// rejected, continues the run.
func (m *ThreadMesh) Decide(ctx context.Context, threadID, checkpointID string, review engine.Review) (*engine.Status, error) {
	return m.engine.Decide(ctx, threadID, checkpointID, review)
}

// Travel forks a new thread rooted at a historical checkpoint and returns
// the fork's thread id. The source thread is left untouched.
func (m *ThreadMesh) Travel(ctx context.Context, threadID, checkpointID string) (string, error) {
	return m.engine.Travel(ctx, threadID, checkpointID)
}

// History returns a newest-first cursor over the thread's checkpoint chain.
func (m *ThreadMesh) History(ctx context.Context, threadID string) *core.History {
	return m.engine.History(ctx, threadID)
}

// RetireThread marks the thread read-only. History stays queryable.
func (m *ThreadMesh) RetireThread(ctx context.Context, threadID string) error {
	return m.engine.RetireThread(ctx, threadID)
}

// Schema exposes the channel schema the mesh was built with.
func (m *ThreadMesh) Schema() *core.Schema { return m.schema }

// Store exposes the underlying checkpoint store, mainly for subgraph nodes
// that persist their internal threads alongside the parent's.
func (m *ThreadMesh) Store() core.CheckpointStore { return m.opts.Store }
