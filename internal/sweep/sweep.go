package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/job"
	"github.com/atmo/atmo/internal/lock"
)

const defaultInterval = 10 * time.Minute

// Sweeper runs the periodic maintenance over active clusters: syncing their
// state from the provisioner and terminating the expired ones. With a job
// scheduler attached it also starts due Spark jobs.
type Sweeper struct {
	lifecycle   *cluster.Lifecycle
	provisioner aws.Provisioner
	jobs        *job.Scheduler
	logger      *slog.Logger
	window      time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithExpiringWindow changes how far ahead ExpiringSoon looks.
func WithExpiringWindow(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithJobs makes every pass run the scheduled Spark jobs as well.
func WithJobs(js *job.Scheduler) Option {
	return func(s *Sweeper) { s.jobs = js }
}

// New creates a Sweeper.
func New(lc *cluster.Lifecycle, prov aws.Provisioner, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		lifecycle:   lc,
		provisioner: prov,
		logger:      logger,
		window:      cluster.ExpiringWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeactivateExpired terminates every active cluster whose end date has
// passed. A failure on one cluster does not stop the others.
func (s *Sweeper) DeactivateExpired(ctx context.Context) ([]*cluster.Cluster, error) {
	active, err := s.lifecycle.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := s.lifecycle.Now()
	var deactivated []*cluster.Cluster
	var errs []error
	for _, c := range active {
		if c.EndDate.After(now) {
			continue
		}
		s.logger.Info("cluster expired, deactivating", "id", c.ID, "identifier", c.Identifier)
		if err := s.lifecycle.Terminate(ctx, c); err != nil {
			s.logger.Error("deactivating cluster", "id", c.ID, "error", err)
			errs = append(errs, fmt.Errorf("deactivating %s: %w", c.ID, err))
			continue
		}
		deactivated = append(deactivated, c)
	}
	return deactivated, errors.Join(errs...)
}

// UpdateClusters syncs the state of active clusters from a single provisioner
// listing and returns the identifiers of the clusters that changed.
func (s *Sweeper) UpdateClusters(ctx context.Context) ([]string, error) {
	active, err := s.lifecycle.Active(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	// Truncate to the day to absorb clock differences with EMR.
	oldest := active[0].StartDate
	for _, c := range active[1:] {
		if c.StartDate.Before(oldest) {
			oldest = c.StartDate
		}
	}
	y, m, d := oldest.UTC().Date()
	createdAfter := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	summaries, err := s.provisioner.List(ctx, createdAfter)
	if err != nil {
		return nil, &cluster.ProvisionerError{Op: "list", Err: err}
	}
	byJobFlow := make(map[string]aws.ClusterSummary, len(summaries))
	for _, sum := range summaries {
		byJobFlow[sum.JobFlowID] = sum
	}

	var updated []string
	var errs []error
	for _, c := range active {
		sum, ok := byJobFlow[c.JobFlowID]
		if !ok {
			s.logger.Debug("cluster missing from provisioner listing", "id", c.ID, "jobflow_id", c.JobFlowID)
			continue
		}
		status, err := cluster.ParseStatus(sum.State)
		if err != nil {
			s.logger.Warn("skipping cluster", "id", c.ID, "error", err)
			continue
		}
		if status == c.Status {
			continue
		}

		c.Status = status
		c.StateChangeReason = cluster.StateChangeReason(sum.StateChangeReasonCode)
		c.StateChangeMessage = sum.StateChangeReasonMessage
		if err := s.lifecycle.SaveStatus(ctx, c); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("cluster status changed", "id", c.ID, "identifier", c.Identifier, "status", status)
		updated = append(updated, c.Identifier)

		if c.MasterAddress == "" && c.IsReady() {
			if err := s.UpdateMasterAddress(ctx, c.ID, false); err != nil {
				s.logger.Warn("updating master address", "id", c.ID, "error", err)
				errs = append(errs, err)
			}
		}
	}
	return updated, errors.Join(errs...)
}

// UpdateMasterAddress fetches the public DNS name of the cluster's master
// node. Clusters that already have one are left alone unless force is set.
// An empty address from the provisioner is never stored.
func (s *Sweeper) UpdateMasterAddress(ctx context.Context, id string, force bool) error {
	c, err := s.lifecycle.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.MasterAddress != "" && !force {
		return nil
	}
	if c.JobFlowID == "" {
		return cluster.ErrNotLaunched
	}

	info, err := s.provisioner.Info(ctx, c.JobFlowID)
	if err != nil {
		return &cluster.ProvisionerError{Op: "info", Err: err}
	}
	if info == nil || info.PublicDNS == nil || *info.PublicDNS == "" {
		return nil
	}
	c.MasterAddress = *info.PublicDNS
	return s.lifecycle.Save(ctx, c)
}

// ExpiringSoon lists the active clusters that end within the expiring window.
func (s *Sweeper) ExpiringSoon(ctx context.Context) ([]*cluster.Cluster, error) {
	active, err := s.lifecycle.Active(ctx)
	if err != nil {
		return nil, err
	}
	deadline := s.lifecycle.Now().Add(s.window)
	var out []*cluster.Cluster
	for _, c := range active {
		if !c.EndDate.After(deadline) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Once runs a single maintenance pass.
func (s *Sweeper) Once(ctx context.Context) error {
	var errs []error

	updated, err := s.UpdateClusters(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	deactivated, err := s.DeactivateExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	expiring, err := s.ExpiringSoon(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, c := range expiring {
		s.logger.Info("cluster expiring soon", "id", c.ID, "identifier", c.Identifier, "end_date", c.EndDate)
	}
	var started []string
	if s.jobs != nil {
		started, err = s.jobs.RunDue(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("sweep complete",
		"updated", len(updated),
		"deactivated", len(deactivated),
		"expiring", len(expiring),
		"jobs_started", len(started))
	return errors.Join(errs...)
}

// OnceLocked runs a single pass while holding the lock file, so it never
// overlaps with a running sweeper.
func (s *Sweeper) OnceLocked(ctx context.Context, lockPath string) error {
	if err := lock.Acquire(lockPath); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(lockPath); err != nil {
			s.logger.Warn("releasing sweep lock", "error", err)
		}
	}()
	return s.Once(ctx)
}

// Run sweeps every interval until ctx is cancelled. Only one sweeper may run
// per lock file.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, lockPath string) error {
	if interval <= 0 {
		interval = defaultInterval
	}
	if err := lock.Acquire(lockPath); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(lockPath); err != nil {
			s.logger.Warn("releasing sweep lock", "error", err)
		}
	}()

	s.logger.Info("sweeper started", "interval", interval)
	for {
		if err := s.Once(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("sweep failed", "error", err)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}
