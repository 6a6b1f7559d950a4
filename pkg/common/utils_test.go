package common

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMergeVars(t *testing.T) {
	tests := []struct {
		name     string
		explicit map[string]interface{}
		fallback map[string]interface{}
		expected map[string]interface{}
	}{
		{
			name:     "both empty",
			expected: map[string]interface{}{},
		},
		{
			name:     "explicit wins on collision",
			explicit: map[string]interface{}{"env": "staging"},
			fallback: map[string]interface{}{"env": "prod"},
			expected: map[string]interface{}{"env": "staging"},
		},
		{
			name:     "non-colliding keys from both sides",
			explicit: map[string]interface{}{"release": "v2"},
			fallback: map[string]interface{}{"region": "eu"},
			expected: map[string]interface{}{"release": "v2", "region": "eu"},
		},
		{
			name:     "explicit nil value still wins",
			explicit: map[string]interface{}{"token": nil},
			fallback: map[string]interface{}{"token": "secret"},
			expected: map[string]interface{}{"token": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeVars(tt.explicit, tt.fallback)
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("MergeVars() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeVarsDoesNotMutateInputs(t *testing.T) {
	explicit := map[string]interface{}{"a": 1}
	fallback := map[string]interface{}{"b": 2}

	merged := MergeVars(explicit, fallback)
	merged["c"] = 3

	assert.Equal(t, map[string]interface{}{"a": 1}, explicit)
	assert.Equal(t, map[string]interface{}{"b": 2}, fallback)
}

func TestCopyMap(t *testing.T) {
	assert.Nil(t, CopyMap(nil))

	original := map[string]interface{}{"key": "value"}
	copied := CopyMap(original)
	copied["key"] = "changed"
	assert.Equal(t, "value", original["key"])
}

func TestIsConfigurationError(t *testing.T) {
	err := NewConfigurationError("no task named %q", "deploy")
	assert.True(t, IsConfigurationError(err))
	assert.True(t, IsConfigurationError(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsConfigurationError(fmt.Errorf("plain")))
	assert.EqualError(t, err, `configuration error: no task named "deploy"`)
}
