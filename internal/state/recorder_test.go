package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrfs-ci/autoci/internal/expt"
)

func TestRecorder_MirrorsEvents(t *testing.T) {
	db := setupTestDB(t)
	rec, err := NewRecorder(db, "/expt_dirs", expt.Options{Interval: time.Minute, MaxIterations: 5}, nil)
	require.NoError(t, err)

	rec.OnEvent(expt.Event{Kind: expt.EventIteration, Iteration: 1})
	rec.OnEvent(expt.Event{Kind: expt.EventDiscovered, Iteration: 1, Name: "a"})
	rec.OnEvent(expt.Event{Kind: expt.EventDiscovered, Iteration: 1, Name: "b"})
	rec.OnEvent(expt.Event{Kind: expt.EventIteration, Iteration: 2})
	rec.OnEvent(expt.Event{Kind: expt.EventCompleted, Iteration: 2, Name: "a", Line: "This cycle is complete"})
	rec.OnEvent(expt.Event{Kind: expt.EventReadError, Iteration: 2, Name: "b", Err: errors.New("EIO")})

	got, err := db.GetPollSession(rec.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Iterations)
	assert.Equal(t, SessionRunning, got.Status)

	exps, err := db.ListExperiments(rec.SessionID())
	require.NoError(t, err)
	require.Len(t, exps, 2)
	assert.Equal(t, "completed", exps[0].State)
	assert.Equal(t, "This cycle is complete", exps[0].LastLine)
	assert.Equal(t, "pending", exps[1].State)

	sum := &expt.Summary{Root: "/expt_dirs", Completed: 1, Total: 2, Iterations: 5, TimedOut: true}
	require.NoError(t, rec.Finish(sum, nil))

	got, err = db.GetPollSession(rec.SessionID())
	require.NoError(t, err)
	assert.Equal(t, SessionTimedOut, got.Status)
	assert.Equal(t, 5, got.Iterations)
	assert.Equal(t, 1, got.Completed)
	assert.True(t, got.TimedOut)
}

func TestSessionStatus(t *testing.T) {
	listErr := &expt.DirectoryListError{Root: "/r", Err: errors.New("EACCES")}
	tests := []struct {
		name string
		sum  *expt.Summary
		err  error
		want SessionStatus
	}{
		{"all done", &expt.Summary{Completed: 2, Total: 2}, nil, SessionCompleted},
		{"timed out", &expt.Summary{TimedOut: true}, nil, SessionTimedOut},
		{"canceled", nil, context.Canceled, SessionCanceled},
		{"listing failed", nil, listErr, SessionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sessionStatus(tt.sum, tt.err))
		})
	}
}

func TestRecorder_FinishWithError(t *testing.T) {
	db := setupTestDB(t)
	rec, err := NewRecorder(db, "/gone", expt.Options{}, nil)
	require.NoError(t, err)

	runErr := &expt.DirectoryListError{Root: "/gone", Err: errors.New("no such file or directory")}
	require.NoError(t, rec.Finish(nil, runErr))

	got, err := db.GetPollSession(rec.SessionID())
	require.NoError(t, err)
	assert.Equal(t, SessionFailed, got.Status)
	assert.Contains(t, got.Error, "/gone")
}
