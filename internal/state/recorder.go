package state

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/rrfs-ci/autoci/internal/expt"
	"github.com/rrfs-ci/autoci/internal/logging"
)

// sessionRecorder is the subset of the store a Recorder writes to.
type sessionRecorder interface {
	SessionStore
	ExperimentStore
}

// Recorder mirrors a poll session into the history database. Write
// failures are logged and never interrupt polling.
type Recorder struct {
	store   sessionRecorder
	logger  *log.Logger
	session PollSession
}

// NewRecorder creates the session row for a poll of root.
func NewRecorder(store sessionRecorder, root string, opts expt.Options, logger *log.Logger) (*Recorder, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		session: PollSession{
			ID:            uuid.New().String(),
			OutputRoot:    root,
			Interval:      opts.Interval,
			MaxIterations: opts.MaxIterations,
			Status:        SessionRunning,
			StartedAt:     time.Now(),
		},
	}
	if err := store.CreatePollSession(&r.session); err != nil {
		return nil, err
	}
	return r, nil
}

// SessionID returns the id of the recorded session.
func (r *Recorder) SessionID() string {
	return r.session.ID
}

// OnEvent is registered with expt.Poller.OnEvent.
func (r *Recorder) OnEvent(ev expt.Event) {
	if ev.Kind == expt.EventIteration {
		if err := r.store.UpdateIterations(r.session.ID, ev.Iteration); err != nil {
			r.logger.Warn("record iteration", "err", err)
		}
		return
	}
	st, ok := ev.State()
	if !ok {
		return
	}
	rec := &ExperimentRecord{
		SessionID: r.session.ID,
		Name:      ev.Name,
		State:     st.String(),
		LastLine:  ev.Line,
	}
	if err := r.store.RecordExperiment(rec); err != nil {
		r.logger.Warn("record experiment", "name", ev.Name, "err", err)
	}
}

// Finish stores the outcome of Poller.Run.
func (r *Recorder) Finish(sum *expt.Summary, runErr error) error {
	s := &r.session
	if sum != nil {
		s.Iterations = sum.Iterations
		s.Completed = sum.Completed
		s.Failed = sum.Failed
		s.Total = sum.Total
		s.TimedOut = sum.TimedOut
	}
	s.Status = sessionStatus(sum, runErr)
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return r.store.FinishPollSession(s)
}

func sessionStatus(sum *expt.Summary, runErr error) SessionStatus {
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		return SessionCanceled
	case runErr != nil:
		return SessionFailed
	case sum != nil && sum.TimedOut:
		return SessionTimedOut
	default:
		return SessionCompleted
	}
}
