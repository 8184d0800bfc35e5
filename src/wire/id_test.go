package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversationIDIsValidAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewConversationID()
		require.True(t, IsValidConversationID(id), "generated id %q is invalid", id)
		_, dup := seen[id]
		require.False(t, dup, "generated id %q twice", id)
		seen[id] = struct{}{}
	}
}

func TestIsValidConversationID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{name: "minimal", id: "conv-abc", valid: true},
		{name: "mixed charset", id: "conv-aZ0_-9", valid: true},
		{name: "max suffix", id: "conv-" + strings.Repeat("a", 250), valid: true},
		{name: "empty", id: "", valid: false},
		{name: "missing prefix", id: "abc-123456", valid: false},
		{name: "suffix too short", id: "conv-ab", valid: false},
		{name: "suffix too long", id: "conv-" + strings.Repeat("a", 251), valid: false},
		{name: "illegal characters", id: "conv-abc!", valid: false},
		{name: "whitespace", id: "conv-abc def", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidConversationID(tt.id))

			err := ValidateConversationID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				var idErr *InvalidIDError
				require.ErrorAs(t, err, &idErr)
				assert.Equal(t, tt.id, idErr.ID)
			}
		})
	}
}
