package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RunStatus
		to      RunStatus
		wantErr bool
	}{
		{name: "created to active", from: RunStatusCreated, to: RunStatusActive, wantErr: false},
		{name: "created straight to finished", from: RunStatusCreated, to: RunStatusFinished, wantErr: false},
		{name: "created straight to failed", from: RunStatusCreated, to: RunStatusFailed, wantErr: false},
		{name: "active to finished", from: RunStatusActive, to: RunStatusFinished, wantErr: false},
		{name: "active to finished with issues", from: RunStatusActive, to: RunStatusFinishedWithIssues, wantErr: false},
		{name: "active to failed", from: RunStatusActive, to: RunStatusFailed, wantErr: false},
		{name: "active cannot go back to created", from: RunStatusActive, to: RunStatusCreated, wantErr: true},
		{name: "finished is terminal", from: RunStatusFinished, to: RunStatusActive, wantErr: true},
		{name: "failed is terminal", from: RunStatusFailed, to: RunStatusFinished, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseRunStatus(t *testing.T) {
	status, err := ParseRunStatus("ACTIVE")
	assert.NoError(t, err)
	assert.Equal(t, RunStatusActive, status)

	_, err = ParseRunStatus("bogus")
	assert.Error(t, err)
}

func TestRunResultJobStatus(t *testing.T) {
	assert.Equal(t, JobStatusFinished, Success().JobStatus())
	assert.Equal(t, JobStatusFinishedWithIssues, FinishedWithIssues().JobStatus())
	assert.Equal(t, JobStatusFailed, Failedf("worker crashed").JobStatus())
	assert.Equal(t, JobStatus(""), Ignored().JobStatus())

	failed := Failed(assert.AnError)
	assert.True(t, failed.IsFailure())
	assert.ErrorIs(t, failed.Cause(), assert.AnError)
	assert.False(t, Success().IsFailure())
	assert.Nil(t, Success().Cause())
}
