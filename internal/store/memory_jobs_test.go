package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/job"
)

func TestMemory_Jobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.CreateJob(ctx, &job.Job{ID: "j1", Identifier: "daily-report"}); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateJob(ctx, &job.Job{ID: "j2", Identifier: "daily-report"}); !errors.Is(err, job.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if err := m.CreateJob(ctx, &job.Job{ID: "j0", Identifier: "a-first"}); err != nil {
		t.Fatal(err)
	}

	j, err := m.GetJobByIdentifier(ctx, "daily-report")
	if err != nil || j.ID != "j1" {
		t.Fatalf("GetJobByIdentifier = %+v, %v", j, err)
	}
	j.Enabled = true
	if err := m.UpdateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.GetJob(ctx, "j1"); !got.Enabled {
		t.Error("UpdateJob not persisted")
	}
	if err := m.UpdateJob(ctx, &job.Job{ID: "missing"}); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	js, _ := m.ListJobs(ctx)
	if len(js) != 2 || js[0].Identifier != "a-first" {
		t.Errorf("ListJobs = %v, want sorted by identifier", js)
	}
}

func TestMemory_Runs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2017, 2, 3, 0, 0, 0, 0, time.UTC)

	if err := m.CreateRun(ctx, &job.Run{ID: "orphan", JobID: "missing"}); !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := m.CreateJob(ctx, &job.Job{ID: "j1", Identifier: "daily-report"}); err != nil {
		t.Fatal(err)
	}
	if r, err := m.LatestRun(ctx, "j1"); r != nil || err != nil {
		t.Fatalf("LatestRun without runs = %+v, %v", r, err)
	}

	for i, id := range []string{"r1", "r2", "r3"} {
		r := &job.Run{ID: id, JobID: "j1", Status: cluster.StatusTerminated, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := m.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	r3, _ := m.LatestRun(ctx, "j1")
	if r3.ID != "r3" {
		t.Errorf("LatestRun = %s, want r3", r3.ID)
	}
	r3.Status = cluster.StatusRunning
	if err := m.UpdateRun(ctx, r3); err != nil {
		t.Fatal(err)
	}

	runs, _ := m.ListRuns(ctx, "j1")
	if len(runs) != 3 || runs[0].ID != "r3" || runs[2].ID != "r1" {
		t.Errorf("ListRuns order = %v", runs)
	}
	active, _ := m.ListRunsByStatus(ctx, cluster.ActiveStatuses...)
	if len(active) != 1 || active[0].ID != "r3" {
		t.Errorf("ListRunsByStatus = %v, want [r3]", active)
	}
}

func TestMemory_DeleteJobCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, j := range []*job.Job{{ID: "j1", Identifier: "one"}, {ID: "j2", Identifier: "two"}} {
		if err := m.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.CreateRun(ctx, &job.Run{ID: "r1", JobID: "j1"})
	_ = m.CreateRun(ctx, &job.Run{ID: "r2", JobID: "j2"})
	_ = m.CreateAlert(ctx, &job.Alert{RunID: "r1"})
	_ = m.CreateAlert(ctx, &job.Alert{RunID: "r2"})

	if err := m.DeleteJob(ctx, "j1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetJob(ctx, "j1"); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("job still stored: %v", err)
	}
	if r, _ := m.LatestRun(ctx, "j1"); r != nil {
		t.Errorf("run r1 survived: %+v", r)
	}
	alerts, _ := m.ListAlerts(ctx)
	if len(alerts) != 1 || alerts[0].RunID != "r2" {
		t.Errorf("alerts = %v, want only r2", alerts)
	}
	if r, _ := m.LatestRun(ctx, "j2"); r == nil {
		t.Error("run of another job was deleted")
	}
	if err := m.DeleteJob(ctx, "j1"); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}
