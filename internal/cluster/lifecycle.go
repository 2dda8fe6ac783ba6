package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/release"
)

// Store persists clusters. Implementations must make ClaimLaunch atomic: of
// any number of concurrent callers for the same cluster, at most one wins
// while the job flow is unset.
type Store interface {
	CreateCluster(ctx context.Context, c *Cluster) error
	GetCluster(ctx context.Context, id string) (*Cluster, error)
	UpdateCluster(ctx context.Context, c *Cluster) error
	// UpdateClusterStatus writes only the status, the state change reason
	// and message, and the modification time.
	UpdateClusterStatus(ctx context.Context, c *Cluster) error
	ListClusters(ctx context.Context, statuses ...Status) ([]*Cluster, error)

	// ClaimLaunch marks the cluster as launching if it has no job flow and
	// no launch in flight, and reports whether this caller won the claim.
	ClaimLaunch(ctx context.Context, id string) (bool, error)
	// ReleaseLaunch clears a claim after a failed start.
	ReleaseLaunch(ctx context.Context, id string) error
}

// NewCluster is a request to create and launch a cluster.
type NewCluster struct {
	Identifier string
	Size       int
	Release    string
	OwnerEmail string
	PublicKey  string
}

// Lifecycle creates, launches, refreshes and terminates clusters. It mirrors
// whatever state the provisioner reports and never decides transitions itself.
type Lifecycle struct {
	store       Store
	provisioner aws.Provisioner
	releases    *release.Catalog

	lifetime time.Duration
	maxSize  int
	now      func() time.Time

	locks keyedMutex
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLifetime overrides the default 24h cluster lifetime.
func WithLifetime(d time.Duration) Option {
	return func(l *Lifecycle) { l.lifetime = d }
}

// WithMaxSize caps the number of workers a new cluster may request.
func WithMaxSize(n int) Option {
	return func(l *Lifecycle) { l.maxSize = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(store Store, provisioner aws.Provisioner, releases *release.Catalog, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:       store,
		provisioner: provisioner,
		releases:    releases,
		lifetime:    DefaultLifetime,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the lifecycle's notion of the current time.
func (l *Lifecycle) Now() time.Time {
	return l.now()
}

// Create validates and persists a new cluster, then launches it.
func (l *Lifecycle) Create(ctx context.Context, req NewCluster) (*Cluster, error) {
	c := &Cluster{
		ID:         uuid.NewString(),
		Identifier: req.Identifier,
		Size:       req.Size,
		OwnerEmail: req.OwnerEmail,
		PublicKey:  req.PublicKey,
	}
	if err := c.Validate(l.maxSize); err != nil {
		return nil, err
	}
	rel, err := l.releases.Resolve(ctx, req.Release)
	if err != nil {
		return nil, err
	}
	c.Release = rel.Version

	now := l.now()
	c.ApplyDefaults(now, l.lifetime)
	c.ModifiedAt = now
	if err := l.store.CreateCluster(ctx, c); err != nil {
		return nil, fmt.Errorf("saving cluster %s: %w", c.Identifier, err)
	}

	if _, err := l.Launch(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

// Launch starts the cluster on the provisioner exactly once. Later calls, and
// callers that lose a concurrent race, get the already assigned job flow ID.
func (l *Lifecycle) Launch(ctx context.Context, c *Cluster) (string, error) {
	unlock := l.locks.lock(c.ID)
	defer unlock()

	if c.JobFlowID != "" {
		return c.JobFlowID, nil
	}

	claimed, err := l.store.ClaimLaunch(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("claiming launch of %s: %w", c.ID, err)
	}
	if !claimed {
		current, err := l.store.GetCluster(ctx, c.ID)
		if err != nil {
			return "", fmt.Errorf("reloading cluster %s: %w", c.ID, err)
		}
		*c = *current
		if c.JobFlowID == "" {
			return "", ErrLaunchInProgress
		}
		return c.JobFlowID, nil
	}

	jobFlowID, err := l.provisioner.Start(ctx, aws.StartRequest{
		OwnerEmail: c.OwnerEmail,
		Identifier: c.Identifier,
		Release:    c.Release,
		Size:       c.Size,
		PublicKey:  c.PublicKey,
	})
	if err != nil {
		if relErr := l.store.ReleaseLaunch(ctx, c.ID); relErr != nil {
			err = errors.Join(err, fmt.Errorf("releasing launch claim: %w", relErr))
		}
		return "", &ProvisionerError{Op: "start", Err: err}
	}

	c.JobFlowID = jobFlowID
	c.Launching = false
	// EMR's initial state. Keeps the cluster visible to Active even when
	// the status fetch below fails.
	c.Status = StatusStarting
	c.ApplyDefaults(l.now(), l.lifetime)

	// The job flow ID is persisted even when the first status fetch fails,
	// otherwise a retry would start a second cluster.
	refreshErr := l.refresh(ctx, c)
	if err := l.save(ctx, c); err != nil {
		return jobFlowID, err
	}
	if refreshErr != nil {
		return jobFlowID, refreshErr
	}
	return jobFlowID, nil
}

// RefreshStatus mirrors a provisioner snapshot onto the cluster in memory.
func RefreshStatus(c *Cluster, info *aws.ClusterInfo) error {
	return c.ApplyInfo(info)
}

// Refresh fetches the cluster's current state from the provisioner and
// persists it.
func (l *Lifecycle) Refresh(ctx context.Context, c *Cluster) error {
	unlock := l.locks.lock(c.ID)
	defer unlock()

	if err := l.refresh(ctx, c); err != nil {
		return err
	}
	return l.save(ctx, c)
}

// Terminate stops an active cluster and records the resulting state. It is a
// no-op for clusters that are not active.
func (l *Lifecycle) Terminate(ctx context.Context, c *Cluster) error {
	unlock := l.locks.lock(c.ID)
	defer unlock()

	if !c.IsActive() {
		return nil
	}
	if c.JobFlowID == "" {
		return ErrNotLaunched
	}
	if err := l.provisioner.Stop(ctx, c.JobFlowID); err != nil {
		return &ProvisionerError{Op: "stop", Err: err}
	}
	if err := l.refresh(ctx, c); err != nil {
		return err
	}
	return l.save(ctx, c)
}

// Get loads a cluster by ID.
func (l *Lifecycle) Get(ctx context.Context, id string) (*Cluster, error) {
	c, err := l.store.GetCluster(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading cluster %s: %w", id, err)
	}
	return c, nil
}

// Active returns every cluster in an active status.
func (l *Lifecycle) Active(ctx context.Context) ([]*Cluster, error) {
	cs, err := l.store.ListClusters(ctx, ActiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("listing active clusters: %w", err)
	}
	return cs, nil
}

// Save persists changes made to a cluster outside the lifecycle methods,
// e.g. by the sweeper.
func (l *Lifecycle) Save(ctx context.Context, c *Cluster) error {
	unlock := l.locks.lock(c.ID)
	defer unlock()
	return l.save(ctx, c)
}

// SaveStatus persists only the status fields of c, leaving the master address
// and dates as currently stored.
func (l *Lifecycle) SaveStatus(ctx context.Context, c *Cluster) error {
	unlock := l.locks.lock(c.ID)
	defer unlock()

	c.ModifiedAt = l.now()
	if err := l.store.UpdateClusterStatus(ctx, c); err != nil {
		return fmt.Errorf("saving status of cluster %s: %w", c.ID, err)
	}
	return nil
}

func (l *Lifecycle) refresh(ctx context.Context, c *Cluster) error {
	if c.JobFlowID == "" {
		return ErrNotLaunched
	}
	info, err := l.provisioner.Info(ctx, c.JobFlowID)
	if err != nil {
		return &ProvisionerError{Op: "info", Err: err}
	}
	return RefreshStatus(c, info)
}

func (l *Lifecycle) save(ctx context.Context, c *Cluster) error {
	c.ModifiedAt = l.now()
	if err := l.store.UpdateCluster(ctx, c); err != nil {
		return fmt.Errorf("saving cluster %s: %w", c.ID, err)
	}
	return nil
}

// keyedMutex serializes work per cluster ID within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
