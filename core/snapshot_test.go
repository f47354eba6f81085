package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_SetGet(t *testing.T) {
	snap := NewSnapshot()

	_, ok := snap.Get("ticket")
	assert.False(t, ok)

	snap.Set("ticket", "t-1")
	snap.Set("notes", []any{"a"})
	snap.Set("ticket", "t-2") // overwrite keeps position

	v, ok := snap.Get("ticket")
	require.True(t, ok)
	assert.Equal(t, "t-2", v)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, "ticket", snap.Channels()[0].Name)
}

func TestSnapshot_CloneIsolation(t *testing.T) {
	snap := NewSnapshot()
	snap.Set("ticket", "t-1")

	clone := snap.Clone()
	clone.Set("ticket", "t-2")
	clone.Set("extra", true)

	v, _ := snap.Get("ticket")
	assert.Equal(t, "t-1", v)
	_, ok := snap.Get("extra")
	assert.False(t, ok)
}

func TestSnapshot_JSONRoundTripPreservesOrder(t *testing.T) {
	snap := NewSnapshot()
	snap.Set("zeta", 1)
	snap.Set("alpha", "x")
	snap.Set("mid", []any{"a", "b"})

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var restored Snapshot
	require.NoError(t, json.Unmarshal(data, &restored))

	require.Equal(t, 3, restored.Len())
	assert.Equal(t, "zeta", restored.Channels()[0].Name)
	assert.Equal(t, "alpha", restored.Channels()[1].Name)
	assert.Equal(t, "mid", restored.Channels()[2].Name)

	v, ok := restored.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestDelta_Clone(t *testing.T) {
	var nilDelta Delta
	assert.Nil(t, nilDelta.Clone())

	d := Delta{"a": 1}
	c := d.Clone()
	c["a"] = 2
	assert.Equal(t, 1, d["a"])
}
