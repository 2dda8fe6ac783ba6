package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/release"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS atmo_emr_releases (
	version       TEXT PRIMARY KEY,
	changelog_url TEXT NOT NULL DEFAULT '',
	help_text     TEXT NOT NULL DEFAULT '',
	is_experimental BOOLEAN NOT NULL DEFAULT FALSE,
	is_deprecated   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS atmo_clusters (
	id                   TEXT PRIMARY KEY,
	identifier           TEXT NOT NULL,
	size                 INTEGER NOT NULL CHECK (size > 0),
	emr_release          TEXT NOT NULL REFERENCES atmo_emr_releases (version),
	owner_email          TEXT NOT NULL,
	public_key           TEXT NOT NULL,
	most_recent_status   TEXT NOT NULL DEFAULT '',
	state_change_reason  TEXT NOT NULL DEFAULT '',
	state_change_message TEXT NOT NULL DEFAULT '',
	master_address       TEXT NOT NULL DEFAULT '',
	jobflow_id           TEXT NOT NULL DEFAULT '',
	launching            BOOLEAN NOT NULL DEFAULT FALSE,
	start_date           TIMESTAMPTZ NOT NULL,
	end_date             TIMESTAMPTZ NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	modified_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS atmo_clusters_status_idx ON atmo_clusters (most_recent_status);

CREATE TABLE IF NOT EXISTS atmo_spark_jobs (
	id                TEXT PRIMARY KEY,
	identifier        TEXT NOT NULL UNIQUE,
	description       TEXT NOT NULL DEFAULT '',
	notebook_s3_key   TEXT NOT NULL,
	result_visibility TEXT NOT NULL DEFAULT 'private',
	size              INTEGER NOT NULL CHECK (size > 0),
	interval_in_hours INTEGER NOT NULL,
	job_timeout       INTEGER NOT NULL,
	start_date        TIMESTAMPTZ NOT NULL,
	end_date          TIMESTAMPTZ,
	is_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	emr_release       TEXT NOT NULL REFERENCES atmo_emr_releases (version),
	created_by        TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	modified_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS atmo_spark_job_runs (
	id                  TEXT PRIMARY KEY,
	job_id              TEXT NOT NULL REFERENCES atmo_spark_jobs (id) ON DELETE CASCADE,
	jobflow_id          TEXT NOT NULL DEFAULT '',
	emr_release_version TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT '',
	scheduled_date      TIMESTAMPTZ,
	run_date            TIMESTAMPTZ,
	terminated_date     TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	modified_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS atmo_spark_job_runs_job_idx ON atmo_spark_job_runs (job_id, created_at);
CREATE INDEX IF NOT EXISTS atmo_spark_job_runs_status_idx ON atmo_spark_job_runs (status);

CREATE TABLE IF NOT EXISTS atmo_spark_job_run_alerts (
	run_id         TEXT PRIMARY KEY REFERENCES atmo_spark_job_runs (id) ON DELETE CASCADE,
	reason_code    TEXT NOT NULL DEFAULT '',
	reason_message TEXT NOT NULL DEFAULT '',
	mail_sent_date TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL
);
`

const clusterColumns = `id, identifier, size, emr_release, owner_email, public_key,
	most_recent_status, state_change_reason, state_change_message, master_address,
	jobflow_id, launching, start_date, end_date, created_at, modified_at`

// Postgres implements Store on PostgreSQL using pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL and ensures the atmo tables exist.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the atmo tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close(_ context.Context) error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateCluster(ctx context.Context, c *cluster.Cluster) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO atmo_clusters (`+clusterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.Identifier, c.Size, c.Release, c.OwnerEmail, c.PublicKey,
		string(c.Status), string(c.StateChangeReason), c.StateChangeMessage, c.MasterAddress,
		c.JobFlowID, c.Launching, c.StartDate, c.EndDate, c.CreatedAt, c.ModifiedAt)
	if err != nil {
		return fmt.Errorf("inserting cluster: %w", err)
	}
	return nil
}

func (p *Postgres) GetCluster(ctx context.Context, id string) (*cluster.Cluster, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+clusterColumns+` FROM atmo_clusters WHERE id = $1`, id)
	c, err := scanCluster(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cluster.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting cluster %s: %w", id, err)
	}
	return c, nil
}

// UpdateCluster writes the mutable fields. The job flow ID only moves from
// empty to set, never back.
func (p *Postgres) UpdateCluster(ctx context.Context, c *cluster.Cluster) error {
	tag, err := p.pool.Exec(ctx, `UPDATE atmo_clusters SET
			most_recent_status = $2,
			state_change_reason = $3,
			state_change_message = $4,
			master_address = $5,
			jobflow_id = CASE WHEN jobflow_id = '' THEN $6 ELSE jobflow_id END,
			launching = $7,
			start_date = $8,
			end_date = $9,
			modified_at = $10
		WHERE id = $1`,
		c.ID, string(c.Status), string(c.StateChangeReason), c.StateChangeMessage, c.MasterAddress,
		c.JobFlowID, c.Launching, c.StartDate, c.EndDate, c.ModifiedAt)
	if err != nil {
		return fmt.Errorf("updating cluster: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cluster.ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateClusterStatus(ctx context.Context, c *cluster.Cluster) error {
	tag, err := p.pool.Exec(ctx, `UPDATE atmo_clusters SET
			most_recent_status = $2,
			state_change_reason = $3,
			state_change_message = $4,
			modified_at = $5
		WHERE id = $1`,
		c.ID, string(c.Status), string(c.StateChangeReason), c.StateChangeMessage, c.ModifiedAt)
	if err != nil {
		return fmt.Errorf("updating cluster status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cluster.ErrNotFound
	}
	return nil
}

func (p *Postgres) ListClusters(ctx context.Context, statuses ...cluster.Status) ([]*cluster.Cluster, error) {
	sql := `SELECT ` + clusterColumns + ` FROM atmo_clusters`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		sql += ` WHERE most_recent_status = ANY($1)`
		args = append(args, names)
	}
	sql += ` ORDER BY start_date`

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	defer rows.Close()

	var out []*cluster.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) ClaimLaunch(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE atmo_clusters SET launching = TRUE
		WHERE id = $1 AND jobflow_id = '' AND NOT launching`, id)
	if err != nil {
		return false, fmt.Errorf("claiming launch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ReleaseLaunch(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `UPDATE atmo_clusters SET launching = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("releasing launch: %w", err)
	}
	return nil
}

func (p *Postgres) ListReleases(ctx context.Context) ([]release.Release, error) {
	rows, err := p.pool.Query(ctx, `SELECT version, changelog_url, help_text, is_experimental, is_deprecated
		FROM atmo_emr_releases`)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	defer rows.Close()

	var out []release.Release
	for rows.Next() {
		var r release.Release
		if err := rows.Scan(&r.Version, &r.ChangelogURL, &r.HelpText, &r.Experimental, &r.Deprecated); err != nil {
			return nil, fmt.Errorf("scanning release: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) GetRelease(ctx context.Context, version string) (*release.Release, error) {
	var r release.Release
	err := p.pool.QueryRow(ctx, `SELECT version, changelog_url, help_text, is_experimental, is_deprecated
		FROM atmo_emr_releases WHERE version = $1`, version).
		Scan(&r.Version, &r.ChangelogURL, &r.HelpText, &r.Experimental, &r.Deprecated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, release.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting release %s: %w", version, err)
	}
	return &r, nil
}

func (p *Postgres) PutRelease(ctx context.Context, r release.Release) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO atmo_emr_releases
			(version, changelog_url, help_text, is_experimental, is_deprecated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (version) DO UPDATE SET
			changelog_url = EXCLUDED.changelog_url,
			help_text = EXCLUDED.help_text,
			is_experimental = EXCLUDED.is_experimental,
			is_deprecated = EXCLUDED.is_deprecated`,
		r.Version, r.ChangelogURL, r.HelpText, r.Experimental, r.Deprecated)
	if err != nil {
		return fmt.Errorf("upserting release: %w", err)
	}
	return nil
}

func scanCluster(row pgx.Row) (*cluster.Cluster, error) {
	var (
		c              cluster.Cluster
		status, reason string
	)
	err := row.Scan(&c.ID, &c.Identifier, &c.Size, &c.Release, &c.OwnerEmail, &c.PublicKey,
		&status, &reason, &c.StateChangeMessage, &c.MasterAddress,
		&c.JobFlowID, &c.Launching, &c.StartDate, &c.EndDate, &c.CreatedAt, &c.ModifiedAt)
	if err != nil {
		return nil, err
	}
	c.Status = cluster.Status(status)
	c.StateChangeReason = cluster.StateChangeReason(reason)
	return &c, nil
}
