package worker

import (
	"context"
	"fmt"

	"github.com/hupe1980/threadmesh/core"
)

// RetrievalOptions configures a RetrievalWorker.
type RetrievalOptions struct {
	// Limit caps the number of snippets written per step.
	Limit int
	// QueryChannel selects the channel holding the search query. Empty
	// means the latest external input is used.
	QueryChannel string
}

// RetrievalWorker grounds a thread in reference material: it searches a
// core.Retriever with the latest input (or a designated query channel) and
// writes the matching snippets to its output channel. Search is read-only
// against the retriever, so re-invocation after a crash is naturally
// idempotent.
type RetrievalWorker struct {
	BaseWorker
	retriever core.Retriever
	out       string
	opts      RetrievalOptions
}

// NewRetrievalWorker builds a retrieval worker writing snippets to the out
// channel, which must be owned by group.
func NewRetrievalWorker(name, group, out string, retriever core.Retriever, optFns ...func(o *RetrievalOptions)) *RetrievalWorker {
	opts := RetrievalOptions{Limit: 5}
	for _, fn := range optFns {
		fn(&opts)
	}
	reads := []string{}
	if opts.QueryChannel != "" {
		reads = append(reads, opts.QueryChannel)
	}
	return &RetrievalWorker{
		BaseWorker: NewBaseWorker(name, group, reads, []string{out}),
		retriever:  retriever,
		out:        out,
		opts:       opts,
	}
}

// Invoke implements core.Worker.
func (w *RetrievalWorker) Invoke(ctx context.Context, view *core.StateView) (*core.Result, error) {
	query := w.query(view)
	snippets, err := w.retriever.Search(ctx, query, w.opts.Limit)
	if err != nil {
		return nil, core.Transient(w.Registration().Name, err)
	}
	return Delta(core.Delta{w.out: snippets}), nil
}

func (w *RetrievalWorker) query(view *core.StateView) string {
	if w.opts.QueryChannel != "" {
		return view.GetString(w.opts.QueryChannel)
	}
	v, ok := view.Get(core.ChannelInputs)
	if !ok {
		return ""
	}
	if list, ok := v.([]any); ok && len(list) > 0 {
		v = list[len(list)-1]
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
