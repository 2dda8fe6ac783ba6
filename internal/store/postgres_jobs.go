package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/job"
)

const jobColumns = `id, identifier, description, notebook_s3_key, result_visibility, size,
	interval_in_hours, job_timeout, start_date, end_date, is_enabled, emr_release,
	created_by, created_at, modified_at`

const runColumns = `id, job_id, jobflow_id, emr_release_version, status,
	scheduled_date, run_date, terminated_date, created_at, modified_at`

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

func (p *Postgres) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO atmo_spark_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID, j.Identifier, j.Description, j.NotebookKey, string(j.Visibility), j.Size,
		j.IntervalHours, j.TimeoutHours, j.StartDate, j.EndDate, j.Enabled, j.Release,
		j.CreatedBy, j.CreatedAt, j.ModifiedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return job.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("inserting spark job: %w", err)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return p.getJob(ctx, `id`, id)
}

func (p *Postgres) GetJobByIdentifier(ctx context.Context, identifier string) (*job.Job, error) {
	return p.getJob(ctx, `identifier`, identifier)
}

func (p *Postgres) getJob(ctx context.Context, column, value string) (*job.Job, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM atmo_spark_jobs WHERE `+column+` = $1`, value)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting spark job %s: %w", value, err)
	}
	return j, nil
}

func (p *Postgres) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := p.pool.Exec(ctx, `UPDATE atmo_spark_jobs SET
			description = $2,
			notebook_s3_key = $3,
			result_visibility = $4,
			size = $5,
			interval_in_hours = $6,
			job_timeout = $7,
			start_date = $8,
			end_date = $9,
			is_enabled = $10,
			emr_release = $11,
			modified_at = $12
		WHERE id = $1`,
		j.ID, j.Description, j.NotebookKey, string(j.Visibility), j.Size,
		j.IntervalHours, j.TimeoutHours, j.StartDate, j.EndDate, j.Enabled, j.Release, j.ModifiedAt)
	if err != nil {
		return fmt.Errorf("updating spark job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

// DeleteJob relies on ON DELETE CASCADE for runs and alerts.
func (p *Postgres) DeleteJob(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM atmo_spark_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting spark job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListJobs(ctx context.Context) ([]*job.Job, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+jobColumns+` FROM atmo_spark_jobs ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("listing spark jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning spark job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateRun(ctx context.Context, r *job.Run) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO atmo_spark_job_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.JobID, r.JobFlowID, r.Release, string(r.Status),
		r.ScheduledDate, r.RunDate, r.TerminatedDate, r.CreatedAt, r.ModifiedAt)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateRun(ctx context.Context, r *job.Run) error {
	tag, err := p.pool.Exec(ctx, `UPDATE atmo_spark_job_runs SET
			status = $2,
			run_date = $3,
			terminated_date = $4,
			modified_at = $5
		WHERE id = $1`,
		r.ID, string(r.Status), r.RunDate, r.TerminatedDate, r.ModifiedAt)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", r.ID, job.ErrNotFound)
	}
	return nil
}

func (p *Postgres) LatestRun(ctx context.Context, jobID string) (*job.Run, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM atmo_spark_job_runs
		WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`, jobID)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting latest run: %w", err)
	}
	return r, nil
}

func (p *Postgres) ListRuns(ctx context.Context, jobID string) ([]*job.Run, error) {
	return p.queryRuns(ctx, `SELECT `+runColumns+` FROM atmo_spark_job_runs
		WHERE job_id = $1 ORDER BY created_at DESC`, jobID)
}

func (p *Postgres) ListRunsByStatus(ctx context.Context, statuses ...cluster.Status) ([]*job.Run, error) {
	sql := `SELECT ` + runColumns + ` FROM atmo_spark_job_runs`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		sql += ` WHERE status = ANY($1)`
		args = append(args, names)
	}
	return p.queryRuns(ctx, sql+` ORDER BY created_at`, args...)
}

func (p *Postgres) queryRuns(ctx context.Context, sql string, args ...any) ([]*job.Run, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*job.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateAlert(ctx context.Context, a *job.Alert) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO atmo_spark_job_run_alerts
			(run_id, reason_code, reason_message, mail_sent_date, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			reason_code = EXCLUDED.reason_code,
			reason_message = EXCLUDED.reason_message`,
		a.RunID, string(a.ReasonCode), a.ReasonMessage, a.MailSentDate, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting run alert: %w", err)
	}
	return nil
}

func (p *Postgres) ListAlerts(ctx context.Context) ([]*job.Alert, error) {
	rows, err := p.pool.Query(ctx, `SELECT run_id, reason_code, reason_message, mail_sent_date, created_at
		FROM atmo_spark_job_run_alerts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing run alerts: %w", err)
	}
	defer rows.Close()

	var out []*job.Alert
	for rows.Next() {
		var (
			a      job.Alert
			reason string
		)
		if err := rows.Scan(&a.RunID, &reason, &a.ReasonMessage, &a.MailSentDate, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run alert: %w", err)
		}
		a.ReasonCode = cluster.StateChangeReason(reason)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		visibility string
	)
	err := row.Scan(&j.ID, &j.Identifier, &j.Description, &j.NotebookKey, &visibility, &j.Size,
		&j.IntervalHours, &j.TimeoutHours, &j.StartDate, &j.EndDate, &j.Enabled, &j.Release,
		&j.CreatedBy, &j.CreatedAt, &j.ModifiedAt)
	if err != nil {
		return nil, err
	}
	j.Visibility = job.Visibility(visibility)
	return &j, nil
}

func scanRun(row pgx.Row) (*job.Run, error) {
	var (
		r      job.Run
		status string
	)
	err := row.Scan(&r.ID, &r.JobID, &r.JobFlowID, &r.Release, &status,
		&r.ScheduledDate, &r.RunDate, &r.TerminatedDate, &r.CreatedAt, &r.ModifiedAt)
	if err != nil {
		return nil, err
	}
	r.Status = cluster.Status(status)
	return &r, nil
}
