package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "uuid is truncated", id: "1b9a04c2-77f1-4c6e-9f0f-2a4d5e6f7a8b", want: "1b9a04c2"},
		{name: "short id is kept whole", id: "cp-abc", want: "cp-abc"},
		{name: "empty id", id: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shortID(tt.id))
		})
	}
}
