package core

import "encoding/json"

// Delta is a set of proposed channel writes keyed by channel name. How a
// value combines with the current channel value is decided by the channel's
// merge policy, not by the writer.
type Delta map[string]any

// Clone returns a shallow copy of the delta map.
func (d Delta) Clone() Delta {
	if d == nil {
		return nil
	}
	c := make(Delta, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// ChannelValue is one named channel entry of a snapshot.
type ChannelValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Snapshot is the ordered channel map captured by a checkpoint. Order is
// insertion order, which for engine-produced snapshots equals schema
// declaration order. A Snapshot is treated as immutable once attached to a
// checkpoint; mutation always goes through Clone.
//
// The zero-length snapshot is valid and produces a legitimate root
// checkpoint.
type Snapshot struct {
	channels []ChannelValue
	index    map[string]int
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{index: map[string]int{}}
}

// Get returns the value and existence flag for a channel.
func (s *Snapshot) Get(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.channels[i].Value, true
}

// Set writes a channel value, preserving the position of an existing entry
// and appending a new one otherwise.
func (s *Snapshot) Set(name string, value any) {
	if s.index == nil {
		s.index = map[string]int{}
	}
	if i, ok := s.index[name]; ok {
		s.channels[i].Value = value
		return
	}
	s.index[name] = len(s.channels)
	s.channels = append(s.channels, ChannelValue{Name: name, Value: value})
}

// Len returns the number of populated channels.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.channels)
}

// Channels returns a defensive copy of the ordered channel entries.
func (s *Snapshot) Channels() []ChannelValue {
	if s == nil {
		return nil
	}
	out := make([]ChannelValue, len(s.channels))
	copy(out, s.channels)
	return out
}

// Clone returns an independent copy of the snapshot. Channel values are
// copied by reference; values must be treated as immutable by workers.
func (s *Snapshot) Clone() *Snapshot {
	c := NewSnapshot()
	if s == nil {
		return c
	}
	c.channels = make([]ChannelValue, len(s.channels))
	copy(c.channels, s.channels)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

// MarshalJSON serializes the snapshot as an ordered array of channel
// entries so order survives round-trips through external stores.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.channels)
}

// UnmarshalJSON restores a snapshot from its ordered array form.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var channels []ChannelValue
	if err := json.Unmarshal(data, &channels); err != nil {
		return err
	}
	s.channels = channels
	s.index = make(map[string]int, len(channels))
	for i, cv := range channels {
		s.index[cv.Name] = i
	}
	return nil
}
