package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/job"
	"github.com/atmo/atmo/internal/release"
)

// Memory is an in-process Store, used for tests and `store.type: memory`.
type Memory struct {
	mu       sync.Mutex
	clusters map[string]cluster.Cluster
	releases map[string]release.Release
	jobs     map[string]job.Job
	runs     []job.Run // in creation order
	alerts   map[string]job.Alert
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		clusters: make(map[string]cluster.Cluster),
		releases: make(map[string]release.Release),
		jobs:     make(map[string]job.Job),
		alerts:   make(map[string]job.Alert),
	}
}

func (m *Memory) CreateCluster(_ context.Context, c *cluster.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clusters[c.ID]; ok {
		return fmt.Errorf("cluster %s already exists", c.ID)
	}
	m.clusters[c.ID] = *c
	return nil
}

func (m *Memory) GetCluster(_ context.Context, id string) (*cluster.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, cluster.ErrNotFound
	}
	return &c, nil
}

func (m *Memory) UpdateCluster(_ context.Context, c *cluster.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.clusters[c.ID]
	if !ok {
		return cluster.ErrNotFound
	}
	next := *c
	if stored.JobFlowID != "" {
		next.JobFlowID = stored.JobFlowID
	}
	m.clusters[c.ID] = next
	return nil
}

func (m *Memory) UpdateClusterStatus(_ context.Context, c *cluster.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.clusters[c.ID]
	if !ok {
		return cluster.ErrNotFound
	}
	stored.Status = c.Status
	stored.StateChangeReason = c.StateChangeReason
	stored.StateChangeMessage = c.StateChangeMessage
	stored.ModifiedAt = c.ModifiedAt
	m.clusters[c.ID] = stored
	return nil
}

func (m *Memory) ListClusters(_ context.Context, statuses ...cluster.Status) ([]*cluster.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[cluster.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*cluster.Cluster
	for _, c := range m.clusters {
		if len(want) > 0 && !want[c.Status] {
			continue
		}
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (m *Memory) ClaimLaunch(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return false, cluster.ErrNotFound
	}
	if c.JobFlowID != "" || c.Launching {
		return false, nil
	}
	c.Launching = true
	m.clusters[id] = c
	return true, nil
}

func (m *Memory) ReleaseLaunch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return cluster.ErrNotFound
	}
	c.Launching = false
	m.clusters[id] = c
	return nil
}

func (m *Memory) ListReleases(_ context.Context) ([]release.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]release.Release, 0, len(m.releases))
	for _, r := range m.releases {
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) GetRelease(_ context.Context, version string) (*release.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.releases[version]
	if !ok {
		return nil, release.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) PutRelease(_ context.Context, r release.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[r.Version] = r
	return nil
}

func (m *Memory) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return fmt.Errorf("spark job %s already exists", j.ID)
	}
	for _, other := range m.jobs {
		if other.Identifier == j.Identifier {
			return job.ErrDuplicate
		}
	}
	m.jobs[j.ID] = *j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return &j, nil
}

func (m *Memory) GetJobByIdentifier(_ context.Context, identifier string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Identifier == identifier {
			return &j, nil
		}
	}
	return nil, job.ErrNotFound
}

func (m *Memory) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return job.ErrNotFound
	}
	m.jobs[j.ID] = *j
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return job.ErrNotFound
	}
	delete(m.jobs, id)
	kept := m.runs[:0]
	for _, r := range m.runs {
		if r.JobID == id {
			delete(m.alerts, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return nil
}

func (m *Memory) ListJobs(_ context.Context) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		j := j
		out = append(out, &j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Identifier < out[k].Identifier })
	return out, nil
}

func (m *Memory) CreateRun(_ context.Context, r *job.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[r.JobID]; !ok {
		return job.ErrNotFound
	}
	m.runs = append(m.runs, *r)
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, r *job.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = *r
			return nil
		}
	}
	return fmt.Errorf("run %s: %w", r.ID, job.ErrNotFound)
}

func (m *Memory) LatestRun(_ context.Context, jobID string) (*job.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *job.Run
	for i := range m.runs {
		r := m.runs[i]
		if r.JobID != jobID {
			continue
		}
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = &r
		}
	}
	return latest, nil
}

func (m *Memory) ListRuns(_ context.Context, jobID string) ([]*job.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if r := m.runs[i]; r.JobID == jobID {
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (m *Memory) ListRunsByStatus(_ context.Context, statuses ...cluster.Status) ([]*job.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[cluster.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*job.Run
	for _, r := range m.runs {
		if len(want) > 0 && !want[r.Status] {
			continue
		}
		r := r
		out = append(out, &r)
	}
	return out, nil
}

func (m *Memory) CreateAlert(_ context.Context, a *job.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.RunID] = *a
	return nil
}

func (m *Memory) ListAlerts(_ context.Context) ([]*job.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*job.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (m *Memory) Close(_ context.Context) error { return nil }
