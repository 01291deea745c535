package state

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionStatus represents the status of a poll session.
type SessionStatus string

const (
	SessionRunning     SessionStatus = "running"
	SessionCompleted   SessionStatus = "completed"
	SessionTimedOut    SessionStatus = "timed_out"
	SessionFailed      SessionStatus = "failed"
	SessionCanceled    SessionStatus = "canceled"
	SessionInterrupted SessionStatus = "interrupted"
)

// PollSession is one run of the experiment poller over an output root.
type PollSession struct {
	ID            string        `json:"id"`
	OutputRoot    string        `json:"output_root"`
	Interval      time.Duration `json:"interval"`
	MaxIterations int           `json:"max_iterations"`
	Iterations    int           `json:"iterations"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Total         int           `json:"total"`
	TimedOut      bool          `json:"timed_out"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at"`
	Error         string        `json:"error"`
}

// ExperimentRecord is the last known state of one experiment in a session.
type ExperimentRecord struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	LastLine  string    `json:"last_line"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreatePollSession inserts a new session in the running state.
func (db *DB) CreatePollSession(s *PollSession) error {
	if s.Status == "" {
		s.Status = SessionRunning
	}
	_, err := db.Exec(`
		INSERT INTO poll_sessions (id, output_root, interval_ms, max_iterations, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.OutputRoot, s.Interval.Milliseconds(), s.MaxIterations, string(s.Status), formatTime(s.StartedAt))
	if err != nil {
		return fmt.Errorf("create poll session: %w", err)
	}
	return nil
}

// UpdateIterations records progress for a running session.
func (db *DB) UpdateIterations(id string, iterations int) error {
	_, err := db.Exec("UPDATE poll_sessions SET iterations = ? WHERE id = ?", iterations, id)
	if err != nil {
		return fmt.Errorf("update iterations: %w", err)
	}
	return nil
}

// FinishPollSession stores the outcome counts and final status.
func (db *DB) FinishPollSession(s *PollSession) error {
	finished := time.Now()
	if s.FinishedAt != nil {
		finished = *s.FinishedAt
	}
	res, err := db.Exec(`
		UPDATE poll_sessions
		SET iterations = ?, completed = ?, failed = ?, total = ?, timed_out = ?,
			status = ?, finished_at = ?, error = ?
		WHERE id = ?
	`, s.Iterations, s.Completed, s.Failed, s.Total, s.TimedOut,
		string(s.Status), formatTime(finished), nullString(s.Error), s.ID)
	if err != nil {
		return fmt.Errorf("finish poll session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish poll session: no session %q", s.ID)
	}
	return nil
}

// GetPollSession retrieves a session by ID. It returns nil, nil when the
// session does not exist.
func (db *DB) GetPollSession(id string) (*PollSession, error) {
	rows, err := db.Query(pollSessionSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get poll session: %w", err)
	}
	sessions, err := scanPollSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("get poll session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// RecentPollSessions lists the newest sessions first.
func (db *DB) RecentPollSessions(limit int) ([]PollSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(pollSessionSelect+" ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list poll sessions: %w", err)
	}
	sessions, err := scanPollSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("list poll sessions: %w", err)
	}
	return sessions, nil
}

// MarkInterrupted flags sessions still marked running, left behind by a
// process that exited without finishing them. It returns their IDs.
func (db *DB) MarkInterrupted() ([]string, error) {
	rows, err := db.Query("SELECT id FROM poll_sessions WHERE status = ?", string(SessionRunning))
	if err != nil {
		return nil, fmt.Errorf("find running sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := db.Exec(`
			UPDATE poll_sessions SET status = ?, finished_at = ? WHERE id = ?
		`, string(SessionInterrupted), formatTime(time.Now()), id); err != nil {
			return nil, fmt.Errorf("mark session interrupted: %w", err)
		}
	}
	return ids, nil
}

const pollSessionSelect = `
	SELECT id, output_root, interval_ms, max_iterations, iterations, completed, failed,
		total, timed_out, status, started_at, finished_at, error
	FROM poll_sessions`

func scanPollSessions(rows *sql.Rows) ([]PollSession, error) {
	defer rows.Close()

	var sessions []PollSession
	for rows.Next() {
		var s PollSession
		var intervalMS int64
		var startedAt string
		var finishedAt, errText sql.NullString
		if err := rows.Scan(&s.ID, &s.OutputRoot, &intervalMS, &s.MaxIterations, &s.Iterations,
			&s.Completed, &s.Failed, &s.Total, &s.TimedOut, &s.Status, &startedAt,
			&finishedAt, &errText); err != nil {
			return nil, err
		}
		s.Interval = time.Duration(intervalMS) * time.Millisecond
		s.StartedAt, _ = parseTime(startedAt)
		s.FinishedAt = parseNullableTime(finishedAt)
		s.Error = errText.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RecordExperiment inserts or updates the experiment row for a session.
func (db *DB) RecordExperiment(e *ExperimentRecord) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO experiments (session_id, name, state, last_line, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET
			state = excluded.state,
			last_line = COALESCE(excluded.last_line, experiments.last_line),
			updated_at = excluded.updated_at
	`, e.SessionID, e.Name, e.State, nullString(e.LastLine), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("record experiment: %w", err)
	}
	return nil
}

// ListExperiments returns the experiments of a session ordered by name.
func (db *DB) ListExperiments(sessionID string) ([]ExperimentRecord, error) {
	rows, err := db.Query(`
		SELECT session_id, name, state, last_line, updated_at
		FROM experiments WHERE session_id = ? ORDER BY name
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []ExperimentRecord
	for rows.Next() {
		var e ExperimentRecord
		var lastLine sql.NullString
		var updatedAt string
		if err := rows.Scan(&e.SessionID, &e.Name, &e.State, &lastLine, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		e.LastLine = lastLine.String
		e.UpdatedAt, _ = parseTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
