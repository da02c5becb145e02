package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideSync(t *testing.T) {
	tests := []struct {
		name       string
		existsInDB bool
		appManaged bool
		force      bool
		expected   syncDecision
	}{
		{
			name:     "absent row is inserted",
			expected: syncInsert,
		},
		{
			name:     "absent row is inserted even with force",
			force:    true,
			expected: syncInsert,
		},
		{
			name:       "unmanaged row is updated",
			existsInDB: true,
			expected:   syncUpdate,
		},
		{
			name:       "operator-edited row is skipped",
			existsInDB: true,
			appManaged: true,
			expected:   syncSkip,
		},
		{
			name:       "force overrides operator edit",
			existsInDB: true,
			appManaged: true,
			force:      true,
			expected:   syncUpdate,
		},
		{
			name:       "force on unmanaged row still updates",
			existsInDB: true,
			force:      true,
			expected:   syncUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, decideSync(tt.existsInDB, tt.appManaged, tt.force))
		})
	}
}
