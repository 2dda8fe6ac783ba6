package cluster_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atmo/atmo/internal/aws"
	"github.com/atmo/atmo/internal/cluster"
	"github.com/atmo/atmo/internal/release"
	"github.com/atmo/atmo/internal/store"
)

var fixedNow = time.Date(2017, 2, 3, 13, 48, 9, 0, time.UTC)

func strPtr(s string) *string { return &s }

type fixture struct {
	store *store.Memory
	prov  *aws.MockProvisioner
	life  *cluster.Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	for _, r := range []release.Release{
		{Version: "5.3.0"},
		{Version: "5.0.0", Deprecated: true},
	} {
		if err := st.PutRelease(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	prov := &aws.MockProvisioner{
		StartResult: "12345",
		InfoResult: &aws.ClusterInfo{
			State:     "BOOTSTRAPPING",
			PublicDNS: strPtr("master.public.dns.name"),
		},
	}
	life := cluster.NewLifecycle(st, prov, release.NewCatalog(st),
		cluster.WithMaxSize(30),
		cluster.WithClock(func() time.Time { return fixedNow }),
	)
	return &fixture{store: st, prov: prov, life: life}
}

func validRequest() cluster.NewCluster {
	return cluster.NewCluster{
		Identifier: "test-cluster",
		Size:       5,
		Release:    "5.3.0",
		OwnerEmail: "owner@example.com",
		PublicKey:  "ssh-rsa AAAAB3",
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.life.Create(ctx, validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.prov.StartCalls != 1 {
		t.Fatalf("StartCalls = %d, want 1", f.prov.StartCalls)
	}
	req := f.prov.StartedWith[0]
	if req.OwnerEmail != "owner@example.com" || req.Identifier != "test-cluster" ||
		req.Release != "5.3.0" || req.Size != 5 || req.PublicKey != "ssh-rsa AAAAB3" {
		t.Errorf("unexpected start request: %+v", req)
	}

	if c.JobFlowID != "12345" {
		t.Errorf("JobFlowID = %q, want 12345", c.JobFlowID)
	}
	if c.Status != cluster.StatusBootstrapping {
		t.Errorf("Status = %q, want BOOTSTRAPPING", c.Status)
	}
	if c.MasterAddress != "master.public.dns.name" {
		t.Errorf("MasterAddress = %q", c.MasterAddress)
	}
	if !c.StartDate.Equal(fixedNow) || !c.EndDate.Equal(fixedNow.Add(24*time.Hour)) {
		t.Errorf("dates = %v .. %v", c.StartDate, c.EndDate)
	}

	stored, err := f.store.GetCluster(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.JobFlowID != "12345" || stored.Status != cluster.StatusBootstrapping {
		t.Errorf("stored cluster not updated: %+v", stored)
	}
	if stored.Launching {
		t.Error("launch claim should be cleared after a successful start")
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*cluster.NewCluster)
		wantErr error
	}{
		{"bad identifier", func(r *cluster.NewCluster) { r.Identifier = "Bad_Name" }, cluster.ErrInvalidCluster},
		{"size too large", func(r *cluster.NewCluster) { r.Size = 31 }, cluster.ErrInvalidCluster},
		{"size zero", func(r *cluster.NewCluster) { r.Size = 0 }, cluster.ErrInvalidCluster},
		{"unknown release", func(r *cluster.NewCluster) { r.Release = "9.9.9" }, release.ErrInvalidRelease},
		{"empty release", func(r *cluster.NewCluster) { r.Release = "" }, release.ErrInvalidRelease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			tt.mutate(&req)

			_, err := f.life.Create(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if f.prov.StartCalls != 0 {
				t.Errorf("StartCalls = %d, want 0", f.prov.StartCalls)
			}
			all, _ := f.store.ListClusters(context.Background())
			if len(all) != 0 {
				t.Errorf("%d clusters persisted, want 0", len(all))
			}
		})
	}
}

func TestLaunchTwiceStartsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.life.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	id, err := f.life.Launch(ctx, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "12345" {
		t.Errorf("Launch = %q, want 12345", id)
	}
	if f.prov.StartCalls != 1 {
		t.Errorf("StartCalls = %d, want 1", f.prov.StartCalls)
	}
}

func TestLaunchStaleCopyStartsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.life.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	// A copy loaded before the launch completed still has no job flow.
	stale := *c
	stale.JobFlowID = ""
	id, err := f.life.Launch(ctx, &stale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "12345" || stale.JobFlowID != "12345" {
		t.Errorf("Launch = %q (cluster has %q), want 12345", id, stale.JobFlowID)
	}
	if f.prov.StartCalls != 1 {
		t.Errorf("StartCalls = %d, want 1", f.prov.StartCalls)
	}
}

func TestConcurrentLaunchStartsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := &cluster.Cluster{
		ID:         "c1",
		Identifier: "race",
		Size:       1,
		Release:    "5.3.0",
		OwnerEmail: "owner@example.com",
		PublicKey:  "ssh-rsa AAAAB3",
	}
	if err := f.store.CreateCluster(ctx, c); err != nil {
		t.Fatal(err)
	}
	f.prov.StartHook = func() { time.Sleep(20 * time.Millisecond) }

	const n = 10
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			own, err := f.store.GetCluster(ctx, "c1")
			if err != nil {
				errs[i] = err
				return
			}
			ids[i], errs[i] = f.life.Launch(ctx, own)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("launch %d: %v", i, errs[i])
		}
		if ids[i] != "12345" {
			t.Errorf("launch %d returned %q, want 12345", i, ids[i])
		}
	}
	if f.prov.StartCalls != 1 {
		t.Errorf("StartCalls = %d, want 1", f.prov.StartCalls)
	}
}

func TestLaunchConcurrentAcrossLifecycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := &cluster.Cluster{ID: "c1", Identifier: "race", Size: 1, Release: "5.3.0"}
	if err := f.store.CreateCluster(ctx, c); err != nil {
		t.Fatal(err)
	}
	// A second process shares the store but not the in-process locks.
	other := cluster.NewLifecycle(f.store, f.prov, release.NewCatalog(f.store))

	started := make(chan struct{})
	unblock := make(chan struct{})
	f.prov.StartHook = func() {
		close(started)
		<-unblock
	}

	done := make(chan error, 1)
	go func() {
		own, _ := f.store.GetCluster(ctx, "c1")
		_, err := f.life.Launch(ctx, own)
		done <- err
	}()
	<-started

	own, _ := f.store.GetCluster(ctx, "c1")
	if _, err := other.Launch(ctx, own); !errors.Is(err, cluster.ErrLaunchInProgress) {
		t.Errorf("err = %v, want ErrLaunchInProgress", err)
	}
	close(unblock)

	if err := <-done; err != nil {
		t.Fatalf("first launch: %v", err)
	}
	if f.prov.StartCalls != 1 {
		t.Errorf("StartCalls = %d, want 1", f.prov.StartCalls)
	}
}

func TestLaunchStartFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.StartErr = errors.New("throttled")

	c, err := f.life.Create(ctx, validRequest())
	if !errors.Is(err, cluster.ErrProvisionerUnavailable) {
		t.Fatalf("err = %v, want ErrProvisionerUnavailable", err)
	}
	var perr *cluster.ProvisionerError
	if !errors.As(err, &perr) || perr.Op != "start" {
		t.Errorf("err = %#v, want start ProvisionerError", err)
	}
	if c == nil {
		t.Fatal("Create should return the persisted cluster on launch failure")
	}
	if c.JobFlowID != "" {
		t.Errorf("JobFlowID = %q, want empty", c.JobFlowID)
	}

	// The claim is released so a retry can launch.
	f.prov.StartErr = nil
	stored, _ := f.store.GetCluster(ctx, c.ID)
	if stored.Launching {
		t.Fatal("launch claim not released after failure")
	}
	id, err := f.life.Launch(ctx, stored)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if id != "12345" {
		t.Errorf("retry Launch = %q", id)
	}
	if f.prov.StartCalls != 2 {
		t.Errorf("StartCalls = %d, want 2", f.prov.StartCalls)
	}
}

func TestLaunchKeepsJobFlowWhenInfoFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prov.InfoErr = errors.New("timeout")

	c, err := f.life.Create(ctx, validRequest())
	if !errors.Is(err, cluster.ErrProvisionerUnavailable) {
		t.Fatalf("err = %v, want ErrProvisionerUnavailable", err)
	}
	stored, _ := f.store.GetCluster(ctx, c.ID)
	if stored.JobFlowID != "12345" {
		t.Errorf("stored JobFlowID = %q, want 12345", stored.JobFlowID)
	}
	if stored.Status != cluster.StatusStarting {
		t.Errorf("stored Status = %q, want STARTING", stored.Status)
	}
	active, err := f.life.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != c.ID {
		t.Errorf("Active = %v, want the launched cluster", active)
	}

	f.prov.InfoErr = nil
	if _, err := f.life.Launch(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if f.prov.StartCalls != 1 {
		t.Errorf("StartCalls = %d, want 1", f.prov.StartCalls)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.life.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	f.prov.SetInfo(&aws.ClusterInfo{State: "WAITING", PublicDNS: strPtr("other.dns.name")})

	if err := f.life.Refresh(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.IsReady() || c.MasterAddress != "other.dns.name" {
		t.Errorf("cluster = %s %q", c.Status, c.MasterAddress)
	}
	stored, _ := f.store.GetCluster(ctx, c.ID)
	if stored.Status != cluster.StatusWaiting {
		t.Errorf("stored status = %q, want WAITING", stored.Status)
	}
}

func TestRefreshUnknownStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.life.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	f.prov.SetInfo(&aws.ClusterInfo{State: "MELTING"})

	if err := f.life.Refresh(ctx, c); !errors.Is(err, cluster.ErrUnknownStatus) {
		t.Fatalf("err = %v, want ErrUnknownStatus", err)
	}
	if c.Status != cluster.StatusBootstrapping {
		t.Errorf("Status = %q, want unchanged BOOTSTRAPPING", c.Status)
	}
}

func TestRefreshNotLaunched(t *testing.T) {
	f := newFixture(t)
	c := &cluster.Cluster{ID: "c1"}
	if err := f.life.Refresh(context.Background(), c); !errors.Is(err, cluster.ErrNotLaunched) {
		t.Errorf("err = %v, want ErrNotLaunched", err)
	}
	if f.prov.InfoCalls != 0 {
		t.Errorf("InfoCalls = %d, want 0", f.prov.InfoCalls)
	}
}

func TestTerminateActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.life.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	f.prov.SetInfo(&aws.ClusterInfo{State: "TERMINATING", StateChangeReasonCode: "USER_REQUEST"})

	if err := f.life.Terminate(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.prov.StopCalls != 1 || f.prov.StoppedIDs[0] != "12345" {
		t.Errorf("Stop calls = %d %v, want one for 12345", f.prov.StopCalls, f.prov.StoppedIDs)
	}
	if !c.IsTerminating() {
		t.Errorf("Status = %q, want TERMINATING", c.Status)
	}
	if c.MasterAddress != "" {
		t.Errorf("MasterAddress = %q, want empty", c.MasterAddress)
	}
	if c.StateChangeReason != cluster.ReasonUserRequest {
		t.Errorf("StateChangeReason = %q", c.StateChangeReason)
	}
}

func TestTerminateInactiveIsNoop(t *testing.T) {
	for _, s := range []cluster.Status{cluster.StatusTerminated, cluster.StatusTerminatedWithErrors, cluster.StatusUnset} {
		t.Run(string(s), func(t *testing.T) {
			f := newFixture(t)
			c := &cluster.Cluster{ID: "c1", JobFlowID: "12345", Status: s}
			if err := f.life.Terminate(context.Background(), c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.prov.StopCalls != 0 || f.prov.InfoCalls != 0 {
				t.Errorf("provisioner called: stop=%d info=%d", f.prov.StopCalls, f.prov.InfoCalls)
			}
		})
	}
}

func TestTerminateStopFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.life.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	f.prov.StopErr = errors.New("access denied")

	if err := f.life.Terminate(ctx, c); !errors.Is(err, cluster.ErrProvisionerUnavailable) {
		t.Fatalf("err = %v, want ErrProvisionerUnavailable", err)
	}
	if c.Status != cluster.StatusBootstrapping {
		t.Errorf("Status = %q, want unchanged", c.Status)
	}
}

func TestRefreshStatus(t *testing.T) {
	c := &cluster.Cluster{}
	err := cluster.RefreshStatus(c, &aws.ClusterInfo{State: "RUNNING", PublicDNS: strPtr("m")})
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != cluster.StatusRunning || c.MasterAddress != "m" {
		t.Errorf("cluster = %s %q", c.Status, c.MasterAddress)
	}
}

func TestActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, s := range []cluster.Status{cluster.StatusRunning, cluster.StatusTerminated, cluster.StatusStarting} {
		c := &cluster.Cluster{ID: string(rune('a' + i)), Status: s}
		if err := f.store.CreateCluster(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	active, err := f.life.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Errorf("len(active) = %d, want 2", len(active))
	}
}
