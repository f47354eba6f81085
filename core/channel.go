package core

import "fmt"

// MergePolicy declares how a channel combines an incoming delta value with
// its current value.
type MergePolicy int

const (
	// MergeOverwrite replaces the current value with the incoming one.
	MergeOverwrite MergePolicy = iota
	// MergeAppend treats the channel as an ordered list and appends the
	// incoming value (or values, if a slice is supplied).
	MergeAppend
	// MergeReduce delegates to the channel's custom Reducer.
	MergeReduce
)

// String returns the string representation of the merge policy.
func (p MergePolicy) String() string {
	switch p {
	case MergeOverwrite:
		return "overwrite"
	case MergeAppend:
		return "append"
	case MergeReduce:
		return "reduce"
	default:
		return "unknown"
	}
}

// ReducerFunc combines the current channel value with an incoming delta
// value and returns the merged result. Reducers must be pure: identical
// inputs always yield identical outputs, because crash recovery replays the
// same merge.
type ReducerFunc func(current, incoming any) any

// ChannelSpec declares a single named state channel: its merge policy and
// the worker group that owns writes to it. A delta touching a channel is
// rejected before persistence unless the writer's group matches Owner.
type ChannelSpec struct {
	Name    string
	Policy  MergePolicy
	Reducer ReducerFunc // required iff Policy == MergeReduce
	Owner   string      // owning worker group
}

// GroupRouter is the reserved worker group owning the orchestration
// channels (stage, decision, inputs, failure, review). Only the engine
// writes them.
const GroupRouter = "router"

// Reserved orchestration channel names. They are appended to every schema
// and may not be declared by callers.
const (
	ChannelStage    = "stage"    // current Stage (overwrite)
	ChannelDecision = "decision" // last routing Decision (overwrite)
	ChannelInputs   = "inputs"   // external inputs log (append)
	ChannelFailure  = "failure"  // human-readable failure reason (overwrite)
	ChannelReview   = "review"   // last approval decision record (overwrite)
)

func reservedSpecs() []ChannelSpec {
	return []ChannelSpec{
		{Name: ChannelStage, Policy: MergeOverwrite, Owner: GroupRouter},
		{Name: ChannelDecision, Policy: MergeOverwrite, Owner: GroupRouter},
		{Name: ChannelInputs, Policy: MergeAppend, Owner: GroupRouter},
		{Name: ChannelFailure, Policy: MergeOverwrite, Owner: GroupRouter},
		{Name: ChannelReview, Policy: MergeOverwrite, Owner: GroupRouter},
	}
}

// Schema is the ordered set of channel declarations for one graph (or one
// subgraph). Declaration order defines snapshot iteration and serialization
// order. A Schema is immutable after construction and safe for concurrent
// use.
type Schema struct {
	specs  []ChannelSpec
	byName map[string]int
}

// NewSchema builds a schema from the given channel declarations and appends
// the reserved orchestration channels. Duplicate names, reserved names and
// reduce channels without a reducer are rejected.
func NewSchema(specs ...ChannelSpec) (*Schema, error) {
	s := &Schema{byName: map[string]int{}}

	reserved := map[string]bool{}
	for _, rs := range reservedSpecs() {
		reserved[rs.Name] = true
	}

	for _, spec := range specs {
		if reserved[spec.Name] {
			return nil, fmt.Errorf("channel %q is reserved", spec.Name)
		}
		if err := s.add(spec); err != nil {
			return nil, err
		}
	}

	for _, rs := range reservedSpecs() {
		if err := s.add(rs); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// MustSchema is NewSchema panicking on error; intended for package level
// declarations and tests.
func MustSchema(specs ...ChannelSpec) *Schema {
	s, err := NewSchema(specs...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) add(spec ChannelSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("channel name must not be empty")
	}
	if _, ok := s.byName[spec.Name]; ok {
		return fmt.Errorf("duplicate channel %q", spec.Name)
	}
	if spec.Policy == MergeReduce && spec.Reducer == nil {
		return fmt.Errorf("channel %q declares reduce policy without reducer", spec.Name)
	}
	s.byName[spec.Name] = len(s.specs)
	s.specs = append(s.specs, spec)
	return nil
}

// Spec returns the declaration for a channel name.
func (s *Schema) Spec(name string) (ChannelSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return ChannelSpec{}, false
	}
	return s.specs[i], true
}

// Names returns all channel names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// ValidateDelta rejects a delta before persistence when it references an
// unknown channel or one the writer's group does not own. Writer identity
// is the group name; GroupRouter may write only the reserved channels.
func (s *Schema) ValidateDelta(delta Delta, writer string, group string) error {
	for name := range delta {
		spec, ok := s.Spec(name)
		if !ok {
			return &UnknownChannelError{Channel: name}
		}
		if spec.Owner != group {
			return &OwnershipError{Writer: writer, Channel: name}
		}
	}
	return nil
}

// Apply merges a delta into a snapshot clone per channel merge policies and
// returns the merged snapshot. The input snapshot is never mutated. Channels
// are merged in declaration order so the result is deterministic.
func (s *Schema) Apply(snap *Snapshot, delta Delta) (*Snapshot, error) {
	next := snap.Clone()
	for _, spec := range s.specs {
		incoming, ok := delta[spec.Name]
		if !ok {
			continue
		}
		current, _ := next.Get(spec.Name)
		switch spec.Policy {
		case MergeOverwrite:
			next.Set(spec.Name, incoming)
		case MergeAppend:
			next.Set(spec.Name, appendValue(current, incoming))
		case MergeReduce:
			next.Set(spec.Name, spec.Reducer(current, incoming))
		default:
			return nil, fmt.Errorf("channel %q: unknown merge policy %d", spec.Name, spec.Policy)
		}
	}
	for name := range delta {
		if _, ok := s.Spec(name); !ok {
			return nil, &UnknownChannelError{Channel: name}
		}
	}
	return next, nil
}

// appendValue implements the MergeAppend policy. The current value is
// normalized to a []any list; an incoming slice is flattened into it.
func appendValue(current, incoming any) any {
	var list []any
	switch cur := current.(type) {
	case nil:
	case []any:
		list = append(list, cur...)
	default:
		list = append(list, cur)
	}
	switch in := incoming.(type) {
	case []any:
		list = append(list, in...)
	default:
		list = append(list, in)
	}
	return list
}
