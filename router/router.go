// Package router implements the coordinator state machine: a deterministic
// rule pass over the current state view picks the next worker (fast path,
// no external call), and only when the rules are ambiguous a classifier
// fallback is consulted. The chosen decision is recorded in the state delta
// before the worker executes; the router itself never invokes workers.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/threadmesh/classify"
	"github.com/hupe1980/threadmesh/core"
	"github.com/hupe1980/threadmesh/logging"
)

// Rule is one deterministic routing rule. It inspects the read-only state
// view and either claims the step by returning a decision and true, or
// passes. Rules must be pure: recovery replays them against the same view.
type Rule func(view *core.StateView) (core.Decision, bool)

// OnStage builds a rule that fires while the thread occupies the given
// stage, routing to worker and advancing to next.
func OnStage(stage core.Stage, workerName string, next core.Stage, reason string) Rule {
	return func(view *core.StateView) (core.Decision, bool) {
		if view.Stage() != stage {
			return core.Decision{}, false
		}
		return core.Decision{Worker: workerName, Stage: next, Reason: reason}, true
	}
}

// When builds a rule from an arbitrary predicate over the state view.
func When(pred func(view *core.StateView) bool, workerName string, next core.Stage, reason string) Rule {
	return func(view *core.StateView) (core.Decision, bool) {
		if !pred(view) {
			return core.Decision{}, false
		}
		return core.Decision{Worker: workerName, Stage: next, Reason: reason}, true
	}
}

// Finish builds a rule that moves the thread to a terminal stage with no
// further worker.
func Finish(pred func(view *core.StateView) bool, terminal core.Stage, reason string) Rule {
	return func(view *core.StateView) (core.Decision, bool) {
		if !pred(view) {
			return core.Decision{}, false
		}
		return core.Decision{Stage: terminal, Reason: reason}, true
	}
}

// Options configures a Router.
type Options struct {
	// Classifier is consulted when zero or multiple rules fire. Optional;
	// without it ambiguity resolves to the clarify stage.
	Classifier classify.Classifier
	// Logger defaults to the no-op logger.
	Logger logging.Logger
}

// Router selects the next worker (or terminal stage) for a thread. It is
// immutable after construction and safe for concurrent use across threads.
type Router struct {
	rules      []Rule
	candidates []classify.Candidate
	classifier classify.Classifier
	logger     logging.Logger
}

// New constructs a Router over the given rules.
func New(rules []Rule, optFns ...func(o *Options)) *Router {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		rules:      rules,
		classifier: opts.Classifier,
		logger:     opts.Logger,
	}
}

// AddCandidate registers a worker as routable by the classifier fallback.
func (r *Router) AddCandidate(name, description string) {
	r.candidates = append(r.candidates, classify.Candidate{Name: name, Description: description})
}

// Route decides the next step for the state in view. Exactly one firing
// rule wins directly. Zero or multiple firings fall back to the classifier;
// a missing or failing classifier yields ErrAmbiguousRoute together with a
// clarify-stage decision the engine records instead of guessing a worker.
func (r *Router) Route(ctx context.Context, view *core.StateView) (core.Decision, error) {
	if view.Stage().Terminal() {
		return core.Decision{}, core.ErrTerminalStage
	}

	var matches []core.Decision
	for _, rule := range r.rules {
		if d, ok := rule(view); ok {
			matches = append(matches, d)
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}

	r.logger.Debug("rule pass ambiguous", "matches", len(matches), "thread_id", view.ThreadID())
	return r.fallback(ctx, view, matches)
}

// fallback resolves an ambiguous rule pass through the classifier. The
// candidate set is narrowed to the conflicting rule targets when multiple
// rules fired, and widened to all registered candidates when none did.
func (r *Router) fallback(ctx context.Context, view *core.StateView, matches []core.Decision) (core.Decision, error) {
	clarify := core.Decision{Stage: core.StageClarify, Reason: "routing ambiguous, awaiting clarification", Fallback: true}

	if r.classifier == nil {
		return clarify, core.ErrAmbiguousRoute
	}

	candidates := r.candidates
	byName := map[string]core.Decision{}
	if len(matches) > 1 {
		candidates = nil
		for _, m := range matches {
			if m.Worker == "" {
				continue
			}
			candidates = append(candidates, classify.Candidate{Name: m.Worker, Description: m.Reason})
			byName[m.Worker] = m
		}
	}
	if len(candidates) == 0 {
		return clarify, core.ErrAmbiguousRoute
	}

	choice, err := r.classifier.Classify(ctx, classify.Request{
		Input:      classificationInput(view),
		Candidates: candidates,
	})
	if err != nil {
		r.logger.Warn("classifier fallback failed", "error", err, "thread_id", view.ThreadID())
		return clarify, fmt.Errorf("%w: %w", core.ErrAmbiguousRoute, err)
	}

	if d, ok := byName[choice]; ok {
		d.Fallback = true
		return d, nil
	}
	return core.Decision{
		Worker:   choice,
		Stage:    core.StageDelegate,
		Reason:   "classifier fallback",
		Fallback: true,
	}, nil
}

// classificationInput renders the latest external input for the classifier.
func classificationInput(view *core.StateView) string {
	v, ok := view.Get(core.ChannelInputs)
	if !ok {
		return ""
	}
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%v", list[len(list)-1])
}

// IsAmbiguous reports whether err stems from an unresolved routing
// ambiguity.
func IsAmbiguous(err error) bool { return errors.Is(err, core.ErrAmbiguousRoute) }
