package state

import (
	"database/sql"
	"fmt"
	"time"
)

// JobStatus represents the outcome of a CI job run.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobPassed  JobStatus = "passed"
	JobFailed  JobStatus = "failed"
)

// JobRun is one dispatched CI action for a pull request.
type JobRun struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"`
	Machine    string     `json:"machine"`
	Compiler   string     `json:"compiler"`
	PRNumber   int        `json:"pr_number"`
	Status     JobStatus  `json:"status"`
	CommentID  string     `json:"comment_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Error      string     `json:"error"`
}

// CreateJobRun inserts a job run in the running state.
func (db *DB) CreateJobRun(j *JobRun) error {
	if j.Status == "" {
		j.Status = JobRunning
	}
	_, err := db.Exec(`
		INSERT INTO job_runs (id, action, machine, compiler, pr_number, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Action, j.Machine, nullString(j.Compiler), j.PRNumber, string(j.Status), formatTime(j.StartedAt))
	if err != nil {
		return fmt.Errorf("create job run: %w", err)
	}
	return nil
}

// FinishJobRun stores the final status, comment id, and error text.
func (db *DB) FinishJobRun(j *JobRun) error {
	finished := time.Now()
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}
	_, err := db.Exec(`
		UPDATE job_runs SET status = ?, comment_id = ?, finished_at = ?, error = ?
		WHERE id = ?
	`, string(j.Status), nullString(j.CommentID), formatTime(finished), nullString(j.Error), j.ID)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	return nil
}

// RecentJobRuns lists the newest job runs first.
func (db *DB) RecentJobRuns(limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, action, machine, compiler, pr_number, status, comment_id,
			started_at, finished_at, error
		FROM job_runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var j JobRun
		var compiler, commentID, finishedAt, errText sql.NullString
		var startedAt string
		if err := rows.Scan(&j.ID, &j.Action, &j.Machine, &compiler, &j.PRNumber, &j.Status,
			&commentID, &startedAt, &finishedAt, &errText); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		j.Compiler = compiler.String
		j.CommentID = commentID.String
		j.StartedAt, _ = parseTime(startedAt)
		j.FinishedAt = parseNullableTime(finishedAt)
		j.Error = errText.String
		out = append(out, j)
	}
	return out, rows.Err()
}
