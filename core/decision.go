package core

import "encoding/json"

// Stage is one of the closed set of router states a thread can occupy.
type Stage string

const (
	// StageIntake is the entry stage for a fresh thread.
	StageIntake Stage = "intake"
	// StageTriage classifies the conversation and picks a work path.
	StageTriage Stage = "triage"
	// StageDelegate hands the thread to a specialized worker or subgraph.
	StageDelegate Stage = "delegate"
	// StageClarify asks for external clarification after ambiguous routing.
	StageClarify Stage = "clarify"
	// StageClosing wraps up a conversation heading to completion.
	StageClosing Stage = "closing"
	// StageNurture parks a deferred conversation. Terminal.
	StageNurture Stage = "nurture"
	// StageDone marks successful completion. Terminal.
	StageDone Stage = "done"
	// StageFailed marks a permanently failed thread. Terminal. All prior
	// checkpoints stay intact and readable.
	StageFailed Stage = "failed"
)

// Terminal reports whether the stage has no outgoing transitions. The only
// way out of a terminal stage is an explicit Travel fork creating a new
// derived thread.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageNurture || s == StageFailed
}

// Decision is the routing choice recorded in a state delta before the
// chosen worker runs, so a crash between "decided" and "executed" is
// recovered by re-invoking the same worker rather than re-deciding.
type Decision struct {
	// Worker names the next worker to invoke. Empty means the step has no
	// follow-up work (the stage alone advanced).
	Worker string `json:"worker,omitempty"`
	// Stage the thread enters with this decision.
	Stage Stage `json:"stage"`
	// Reason is a short human-readable account of why this route was taken.
	Reason string `json:"reason,omitempty"`
	// Fallback marks decisions produced by the classifier fallback rather
	// than the deterministic rule pass.
	Fallback bool `json:"fallback,omitempty"`
}

// DecodeDecision reconstructs a Decision from an arbitrary channel value.
// In-process snapshots hold Decision structs directly; snapshots restored
// from external stores hold the generic JSON shape.
func DecodeDecision(v any) (Decision, bool) {
	switch d := v.(type) {
	case Decision:
		return d, true
	case *Decision:
		if d == nil {
			return Decision{}, false
		}
		return *d, true
	case map[string]any:
		raw, err := json.Marshal(d)
		if err != nil {
			return Decision{}, false
		}
		var dec Decision
		if err := json.Unmarshal(raw, &dec); err != nil {
			return Decision{}, false
		}
		return dec, true
	default:
		return Decision{}, false
	}
}

// DecodeStage reconstructs a Stage from a channel value, defaulting to
// StageIntake for unset values.
func DecodeStage(v any) Stage {
	switch s := v.(type) {
	case Stage:
		return s
	case string:
		if s == "" {
			return StageIntake
		}
		return Stage(s)
	default:
		return StageIntake
	}
}
