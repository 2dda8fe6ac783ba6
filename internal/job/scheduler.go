package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/release"
)

// Store persists jobs, their runs and run alerts.
type Store interface {
	// CreateJob returns ErrDuplicate when the identifier is taken.
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetJobByIdentifier(ctx context.Context, identifier string) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
	// DeleteJob removes the job along with its runs and alerts.
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]*Job, error)

	CreateRun(ctx context.Context, r *Run) error
	UpdateRun(ctx context.Context, r *Run) error
	// LatestRun returns the most recently created run, or nil if there is none.
	LatestRun(ctx context.Context, jobID string) (*Run, error)
	// ListRuns returns the runs of a job, newest first.
	ListRuns(ctx context.Context, jobID string) ([]*Run, error)
	ListRunsByStatus(ctx context.Context, statuses ...cluster.Status) ([]*Run, error)

	CreateAlert(ctx context.Context, a *Alert) error
	ListAlerts(ctx context.Context) ([]*Alert, error)
}

// NewJob is a request to schedule a notebook.
type NewJob struct {
	Identifier    string
	Description   string
	NotebookName  string
	Notebook      []byte
	Visibility    Visibility
	Size          int
	IntervalHours int
	TimeoutHours  int
	StartDate     time.Time
	EndDate       *time.Time
	Release       string
	CreatedBy     string
}

// Scheduler creates Spark jobs and starts, tracks and stops their runs.
type Scheduler struct {
	store       Store
	provisioner aws.Provisioner
	runner      aws.JobRunner
	notebooks   aws.Notebooks
	releases    *release.Catalog

	maxSize int
	now     func() time.Time
	logger  *slog.Logger

	// mu serializes starting runs so a job never gets two in flight.
	mu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxSize caps the number of workers a job may request.
func WithMaxSize(n int) Option {
	return func(s *Scheduler) { s.maxSize = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger used for scheduling decisions.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a Scheduler. The provisioner stops and lists job
// flows; the runner starts them.
func NewScheduler(store Store, prov aws.Provisioner, runner aws.JobRunner, notebooks aws.Notebooks, releases *release.Catalog, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		provisioner: prov,
		runner:      runner,
		notebooks:   notebooks,
		releases:    releases,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the job, uploads its notebook and saves it.
func (s *Scheduler) Create(ctx context.Context, req NewJob) (*Job, error) {
	now := s.now()
	j := &Job{
		ID:            uuid.NewString(),
		Identifier:    req.Identifier,
		Description:   req.Description,
		Visibility:    req.Visibility,
		Size:          req.Size,
		IntervalHours: req.IntervalHours,
		TimeoutHours:  req.TimeoutHours,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Enabled:       true,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	if j.Visibility == "" {
		j.Visibility = VisibilityPrivate
	}
	if j.StartDate.IsZero() {
		j.StartDate = now
	}
	if err := j.Validate(s.maxSize); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(req.NotebookName, ".ipynb") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNotebook, req.NotebookName)
	}
	rel, err := s.releases.Resolve(ctx, req.Release)
	if err != nil {
		return nil, err
	}
	j.Release = rel.Version

	if _, err := s.store.GetJobByIdentifier(ctx, j.Identifier); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, j.Identifier)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking identifier %s: %w", j.Identifier, err)
	}

	key, err := s.notebooks.Add(ctx, j.Identifier, req.NotebookName, req.Notebook)
	if err != nil {
		return nil, &cluster.ProvisionerError{Op: "upload notebook", Err: err}
	}
	j.NotebookKey = key

	if err := s.store.CreateJob(ctx, j); err != nil {
		if rmErr := s.notebooks.Remove(ctx, key); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("removing notebook: %w", rmErr))
		}
		return nil, fmt.Errorf("saving spark job %s: %w", j.Identifier, err)
	}
	s.logger.Info("spark job created", "identifier", j.Identifier, "interval_hours", j.IntervalHours)
	return j, nil
}

// Get loads a job by identifier.
func (s *Scheduler) Get(ctx context.Context, identifier string) (*Job, error) {
	j, err := s.store.GetJobByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("loading spark job %s: %w", identifier, err)
	}
	return j, nil
}

// List returns every job.
func (s *Scheduler) List(ctx context.Context) ([]*Job, error) {
	js, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing spark jobs: %w", err)
	}
	return js, nil
}

// LatestRun returns the job's newest run, or nil if it never ran.
func (s *Scheduler) LatestRun(ctx context.Context, j *Job) (*Run, error) {
	r, err := s.store.LatestRun(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("loading latest run of %s: %w", j.Identifier, err)
	}
	return r, nil
}

// Runs returns the job's runs, newest first.
func (s *Scheduler) Runs(ctx context.Context, j *Job) ([]*Run, error) {
	rs, err := s.store.ListRuns(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("listing runs of %s: %w", j.Identifier, err)
	}
	return rs, nil
}

// Alerts returns every recorded run alert.
func (s *Scheduler) Alerts(ctx context.Context) ([]*Alert, error) {
	as, err := s.store.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing run alerts: %w", err)
	}
	return as, nil
}

// SetEnabled turns scheduling of the job on or off.
func (s *Scheduler) SetEnabled(ctx context.Context, j *Job, enabled bool) error {
	j.Enabled = enabled
	j.ModifiedAt = s.now()
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("saving spark job %s: %w", j.Identifier, err)
	}
	return nil
}

// Run starts a new run of the job now, regardless of its schedule. It fails
// with ErrRunInProgress while the latest run is still going.
func (s *Scheduler) Run(ctx context.Context, j *Job) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.LatestRun(ctx, j)
	if err != nil {
		return nil, err
	}
	if !j.IsRunnable(latest) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, j.Identifier)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *Job) (*Run, error) {
	jobFlowID, err := s.runner.Run(ctx, aws.RunRequest{
		OwnerEmail:  j.CreatedBy,
		Identifier:  j.Identifier,
		Release:     j.Release,
		Size:        j.Size,
		NotebookKey: j.NotebookKey,
		Public:      j.IsPublic(),
		Timeout:     j.Timeout(),
	})
	if err != nil {
		return nil, &cluster.ProvisionerError{Op: "run", Err: err}
	}

	now := s.now()
	r := &Run{
		ID:            uuid.NewString(),
		JobID:         j.ID,
		JobFlowID:     jobFlowID,
		Release:       j.Release,
		ScheduledDate: &now,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	// EMR's initial state. A failed status fetch below must not make the job
	// look like it never ran.
	r.Status = cluster.StatusStarting
	if err := s.store.CreateRun(ctx, r); err != nil {
		return nil, fmt.Errorf("saving run of %s: %w", j.Identifier, err)
	}
	s.logger.Info("spark job started", "identifier", j.Identifier, "jobflow_id", jobFlowID)

	info, err := s.provisioner.Info(ctx, jobFlowID)
	if err != nil {
		return r, &cluster.ProvisionerError{Op: "info", Err: err}
	}
	if err := s.applyInfo(ctx, r, info); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Scheduler) applyInfo(ctx context.Context, r *Run, info *aws.ClusterInfo) error {
	changed, alert, err := r.ApplyInfo(info, s.now())
	if err != nil || !changed {
		return err
	}
	return s.saveRun(ctx, r, alert)
}

func (s *Scheduler) saveRun(ctx context.Context, r *Run, alert *Alert) error {
	r.ModifiedAt = s.now()
	if err := s.store.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("saving run %s: %w", r.ID, err)
	}
	if alert != nil {
		if err := s.store.CreateAlert(ctx, alert); err != nil {
			return fmt.Errorf("saving alert for run %s: %w", r.ID, err)
		}
		s.logger.Warn("spark job run failed", "run", r.ID, "jobflow_id", r.JobFlowID,
			"reason", alert.ReasonCode, "message", alert.ReasonMessage)
	}
	return nil
}

// Terminate stops the job's latest run if it outlived its timeout, and
// reports whether it did.
func (s *Scheduler) Terminate(ctx context.Context, j *Job) (bool, error) {
	latest, err := s.LatestRun(ctx, j)
	if err != nil {
		return false, err
	}
	if latest == nil || !j.IsExpired(latest, s.now()) {
		return false, nil
	}
	return true, s.stop(ctx, j, latest)
}

func (s *Scheduler) stop(ctx context.Context, j *Job, r *Run) error {
	if err := s.provisioner.Stop(ctx, r.JobFlowID); err != nil {
		return &cluster.ProvisionerError{Op: "stop", Err: err}
	}
	s.logger.Info("spark job run stopped", "identifier", j.Identifier, "jobflow_id", r.JobFlowID)
	return nil
}

// Delete stops the job's run if one is in flight, removes its notebook and
// deletes the job with its history.
func (s *Scheduler) Delete(ctx context.Context, j *Job) error {
	latest, err := s.LatestRun(ctx, j)
	if err != nil {
		return err
	}
	if latest != nil && latest.JobFlowID != "" && !j.IsRunnable(latest) {
		if err := s.stop(ctx, j, latest); err != nil {
			return err
		}
	}
	if err := s.notebooks.Remove(ctx, j.NotebookKey); err != nil {
		return &cluster.ProvisionerError{Op: "remove notebook", Err: err}
	}
	if err := s.store.DeleteJob(ctx, j.ID); err != nil {
		return fmt.Errorf("deleting spark job %s: %w", j.Identifier, err)
	}
	s.logger.Info("spark job deleted", "identifier", j.Identifier)
	return nil
}

// Notebook downloads the job's notebook.
func (s *Scheduler) Notebook(ctx context.Context, j *Job) ([]byte, error) {
	body, err := s.notebooks.Get(ctx, j.NotebookKey)
	if err != nil {
		return nil, &cluster.ProvisionerError{Op: "download notebook", Err: err}
	}
	return body, nil
}

// Results lists the data and log files the job's runs produced.
func (s *Scheduler) Results(ctx context.Context, j *Job) (*aws.JobResults, error) {
	res, err := s.notebooks.Results(ctx, j.Identifier, j.IsPublic())
	if err != nil {
		return nil, &cluster.ProvisionerError{Op: "results", Err: err}
	}
	return res, nil
}

// UpdateRuns syncs the state of active runs from a single provisioner
// listing and returns the IDs of the runs that changed.
func (s *Scheduler) UpdateRuns(ctx context.Context) ([]string, error) {
	active, err := s.store.ListRunsByStatus(ctx, cluster.ActiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("listing active runs: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	oldest := active[0].CreatedAt
	for _, r := range active[1:] {
		if r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
	}
	y, m, d := oldest.UTC().Date()
	summaries, err := s.provisioner.List(ctx, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, &cluster.ProvisionerError{Op: "list", Err: err}
	}
	byJobFlow := make(map[string]aws.ClusterSummary, len(summaries))
	for _, sum := range summaries {
		byJobFlow[sum.JobFlowID] = sum
	}

	var updated []string
	var errs []error
	for _, r := range active {
		sum, ok := byJobFlow[r.JobFlowID]
		if !ok {
			continue
		}
		changed, alert, err := r.ApplyState(sum.State, sum.StateChangeReasonCode, sum.StateChangeReasonMessage, s.now())
		if err != nil {
			s.logger.Warn("skipping run", "run", r.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		if err := s.saveRun(ctx, r, alert); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("spark job run status changed", "run", r.ID, "jobflow_id", r.JobFlowID, "status", r.Status)
		updated = append(updated, r.ID)
	}
	return updated, errors.Join(errs...)
}

// RunDue updates active runs, then starts every job that should run and
// stops every run past its timeout. It returns the identifiers of the jobs
// it started. A failure on one job does not stop the others.
func (s *Scheduler) RunDue(ctx context.Context) ([]string, error) {
	var errs []error
	if _, err := s.UpdateRuns(ctx); err != nil {
		errs = append(errs, err)
	}

	jobs, err := s.List(ctx)
	if err != nil {
		return nil, errors.Join(append(errs, err)...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var started []string
	for _, j := range jobs {
		latest, err := s.LatestRun(ctx, j)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		now := s.now()
		if j.ShouldRun(latest, now) {
			r, err := s.run(ctx, j)
			if err != nil {
				s.logger.Error("starting spark job", "identifier", j.Identifier, "error", err)
				errs = append(errs, fmt.Errorf("running %s: %w", j.Identifier, err))
			}
			if r == nil {
				continue
			}
			started = append(started, j.Identifier)
			latest = r
		}
		if j.IsExpired(latest, now) {
			s.logger.Info("spark job run expired", "identifier", j.Identifier, "jobflow_id", latest.JobFlowID)
			if err := s.stop(ctx, j, latest); err != nil {
				errs = append(errs, fmt.Errorf("stopping %s: %w", j.Identifier, err))
			}
		}
	}
	return started, errors.Join(errs...)
}
