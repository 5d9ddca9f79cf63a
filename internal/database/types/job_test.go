package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trackwatch/trackwatch/internal/database/types"
)

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    types.JobStatus
		to      types.JobStatus
		allowed bool
	}{
		{types.JobStatusPending, types.JobStatusProcessing, true},
		{types.JobStatusProcessing, types.JobStatusCompleted, true},
		{types.JobStatusProcessing, types.JobStatusFailed, true},
		{types.JobStatusPending, types.JobStatusCompleted, false},
		{types.JobStatusPending, types.JobStatusFailed, false},
		{types.JobStatusProcessing, types.JobStatusPending, false},
		{types.JobStatusCompleted, types.JobStatusProcessing, false},
		{types.JobStatusCompleted, types.JobStatusFailed, false},
		{types.JobStatusFailed, types.JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+" to "+string(tt.to), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, types.JobStatusPending.IsTerminal())
	assert.False(t, types.JobStatusProcessing.IsTerminal())
	assert.True(t, types.JobStatusCompleted.IsTerminal())
	assert.True(t, types.JobStatusFailed.IsTerminal())
}
