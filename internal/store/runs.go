package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a fine-tuning run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunPreparing RunStatus = "preparing"
	RunTraining  RunStatus = "training"
	RunEvaluated RunStatus = "evaluated"
	RunPublished RunStatus = "published"
	RunFailed    RunStatus = "failed"
)

// Run is one fine-tuning run.
type Run struct {
	ID             string
	Status         RunStatus
	ConfigJSON     string
	OutputDir      string
	RepoID         string
	BestCheckpoint string
	BestWER        *float64
	ErrorMessage   string
	FailureKind    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Evaluation is one WER measurement reported by the runtime.
type Evaluation struct {
	ID         int64
	RunID      string
	Step       int
	WER        float64
	Checkpoint string
	CreatedAt  time.Time
}

// Publication records a pushed hub commit.
type Publication struct {
	ID        int64
	RunID     string
	RepoID    string
	CommitURL string
	CreatedAt time.Time
}

const runColumns = "id, status, config_json, output_dir, repo_id, best_checkpoint, best_wer, error_message, failure_kind, created_at, updated_at"

// CreateRun inserts a new run in the pending state.
func (s *Store) CreateRun(ctx context.Context, id, configJSON, outputDir, repoID string) (*Run, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, config_json, output_dir, repo_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, RunPending, configJSON, outputDir, nullableString(repoID), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// GetRun fetches a run by id. A missing run yields nil without error.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// FindRun resolves a full id or a unique id prefix.
func (s *Store) FindRun(ctx context.Context, prefix string) (*Run, error) {
	if exact, err := s.GetRun(ctx, prefix); err != nil || exact != nil {
		return exact, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id LIKE ? ORDER BY created_at DESC, rowid DESC LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, nil
	case 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", prefix)
	}
}

// LatestRun returns the most recently created run, or nil.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// ListRuns returns runs newest first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// SetRunStatus moves a run to status.
func (s *Store) SetRunStatus(ctx context.Context, id string, status RunStatus) error {
	return s.execRunUpdate(ctx, id, `UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, status, formatTime(time.Now()), id)
}

// FailRun marks a run failed with the error message and failure kind.
func (s *Store) FailRun(ctx context.Context, id, message, kind string) error {
	return s.execRunUpdate(ctx, id,
		`UPDATE runs SET status = ?, error_message = ?, failure_kind = ?, updated_at = ? WHERE id = ?`,
		RunFailed, nullableString(message), nullableString(kind), formatTime(time.Now()), id,
	)
}

// RecordRunError stores an error against a run without changing its
// status. Used when a step after training fails and can be retried.
func (s *Store) RecordRunError(ctx context.Context, id, message, kind string) error {
	return s.execRunUpdate(ctx, id,
		`UPDATE runs SET error_message = ?, failure_kind = ?, updated_at = ? WHERE id = ?`,
		nullableString(message), nullableString(kind), formatTime(time.Now()), id,
	)
}

// SetBest records the selected checkpoint and its WER.
func (s *Store) SetBest(ctx context.Context, id, checkpoint string, wer float64) error {
	return s.execRunUpdate(ctx, id,
		`UPDATE runs SET best_checkpoint = ?, best_wer = ?, updated_at = ? WHERE id = ?`,
		nullableString(checkpoint), wer, formatTime(time.Now()), id,
	)
}

func (s *Store) execRunUpdate(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// AddEvaluation stores one evaluation result.
func (s *Store) AddEvaluation(ctx context.Context, eval Evaluation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (run_id, step, wer, checkpoint, created_at) VALUES (?, ?, ?, ?, ?)`,
		eval.RunID, eval.Step, eval.WER, nullableString(eval.Checkpoint), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// ListEvaluations returns a run's evaluations in step order.
func (s *Store) ListEvaluations(ctx context.Context, runID string) ([]Evaluation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, wer, checkpoint, created_at FROM evaluations WHERE run_id = ? ORDER BY step, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var (
			eval       Evaluation
			checkpoint sql.NullString
			created    string
		)
		if err := rows.Scan(&eval.ID, &eval.RunID, &eval.Step, &eval.WER, &checkpoint, &created); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		eval.Checkpoint = checkpoint.String
		eval.CreatedAt = parseTime(created)
		out = append(out, eval)
	}
	return out, rows.Err()
}

// AddPublication records a pushed commit and marks the run published.
func (s *Store) AddPublication(ctx context.Context, pub Publication) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publication tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO publications (run_id, repo_id, commit_url, created_at) VALUES (?, ?, ?, ?)`,
		pub.RunID, pub.RepoID, nullableString(pub.CommitURL), now,
	); err != nil {
		return fmt.Errorf("insert publication: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, repo_id = ?, error_message = NULL, failure_kind = NULL, updated_at = ? WHERE id = ?`,
		RunPublished, pub.RepoID, now, pub.RunID,
	); err != nil {
		return fmt.Errorf("mark run published: %w", err)
	}
	return tx.Commit()
}

// ListPublications returns a run's publications oldest first.
func (s *Store) ListPublications(ctx context.Context, runID string) ([]Publication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, repo_id, commit_url, created_at FROM publications WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()

	var out []Publication
	for rows.Next() {
		var (
			pub       Publication
			commitURL sql.NullString
			created   string
		)
		if err := rows.Scan(&pub.ID, &pub.RunID, &pub.RepoID, &commitURL, &created); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		pub.CommitURL = commitURL.String
		pub.CreatedAt = parseTime(created)
		out = append(out, pub)
	}
	return out, rows.Err()
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run            Run
		status         string
		repoID         sql.NullString
		bestCheckpoint sql.NullString
		bestWER        sql.NullFloat64
		errorMessage   sql.NullString
		failureKind    sql.NullString
		created        string
		updated        string
	)
	if err := scanner.Scan(
		&run.ID,
		&status,
		&run.ConfigJSON,
		&run.OutputDir,
		&repoID,
		&bestCheckpoint,
		&bestWER,
		&errorMessage,
		&failureKind,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.RepoID = repoID.String
	run.BestCheckpoint = bestCheckpoint.String
	if bestWER.Valid {
		v := bestWER.Float64
		run.BestWER = &v
	}
	run.ErrorMessage = errorMessage.String
	run.FailureKind = failureKind.String
	run.CreatedAt = parseTime(created)
	run.UpdatedAt = parseTime(updated)
	return &run, nil
}
