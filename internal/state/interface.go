package state

import "io"

// SessionStore handles poll session persistence.
type SessionStore interface {
	CreatePollSession(s *PollSession) error
	UpdateIterations(id string, iterations int) error
	FinishPollSession(s *PollSession) error
	RecentPollSessions(limit int) ([]PollSession, error)
}

// ExperimentStore handles per-session experiment persistence.
type ExperimentStore interface {
	RecordExperiment(e *ExperimentRecord) error
	ListExperiments(sessionID string) ([]ExperimentRecord, error)
}

// JobStore handles CI job run persistence.
type JobStore interface {
	CreateJobRun(j *JobRun) error
	FinishJobRun(j *JobRun) error
	RecentJobRuns(limit int) ([]JobRun, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store composes everything the CLI needs from the history database.
type Store interface {
	io.Closer
	Migrator
	SessionStore
	ExperimentStore
	JobStore
}

var (
	_ Store           = (*DB)(nil)
	_ SessionStore    = (*DB)(nil)
	_ ExperimentStore = (*DB)(nil)
	_ JobStore        = (*DB)(nil)
)
