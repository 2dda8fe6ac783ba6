package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/atmo/atmo/internal/cluster"
)

func fixedRefresh(c *cluster.Cluster, err error) RefreshFunc {
	return func(context.Context) (*cluster.Cluster, error) { return c, err }
}

func TestWatchModel_Cancel(t *testing.T) {
	m := NewWatchModel(fixedRefresh(nil, nil), time.Second)
	result, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	rm := result.(WatchModel)
	if !rm.Cancelled() {
		t.Error("q should cancel")
	}
}

func TestWatchModel_KeepsPollingWhileBootstrapping(t *testing.T) {
	m := NewWatchModel(nil, time.Second)
	c := &cluster.Cluster{Identifier: "test", Size: 2, Status: cluster.StatusBootstrapping}

	result, cmd := m.Update(refreshedMsg{cluster: c})
	rm := result.(WatchModel)
	if rm.Settled() {
		t.Error("bootstrapping cluster should not settle the watch")
	}
	if cmd == nil {
		t.Error("expected a follow-up poll")
	}
	if !strings.Contains(rm.View(), "BOOTSTRAPPING") {
		t.Error("view should show the status")
	}
}

func TestWatchModel_StopsWhenReady(t *testing.T) {
	m := NewWatchModel(nil, time.Second)
	c := &cluster.Cluster{Identifier: "test", Size: 2, Status: cluster.StatusWaiting, MasterAddress: "master.dns"}

	result, cmd := m.Update(refreshedMsg{cluster: c})
	rm := result.(WatchModel)
	if !rm.Settled() {
		t.Error("waiting cluster should settle the watch")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.Quit")
	}
	v := rm.View()
	if !strings.Contains(v, "master.dns") || !strings.Contains(v, "ready") {
		t.Errorf("view missing ready details:\n%s", v)
	}
}

func TestWatchModel_StopsWhenFailed(t *testing.T) {
	m := NewWatchModel(nil, time.Second)
	c := &cluster.Cluster{
		Identifier:         "test",
		Status:             cluster.StatusTerminatedWithErrors,
		StateChangeReason:  cluster.ReasonBootstrapFailure,
		StateChangeMessage: "bootstrap action 1 failed",
	}
	result, _ := m.Update(refreshedMsg{cluster: c})
	rm := result.(WatchModel)
	if !rm.Settled() {
		t.Error("failed cluster should settle the watch")
	}
	if !strings.Contains(rm.View(), "BOOTSTRAP_FAILURE") {
		t.Error("view should show the failure reason")
	}
}

func TestWatchModel_RefreshErrorKeepsLastCluster(t *testing.T) {
	m := NewWatchModel(nil, time.Second)
	c := &cluster.Cluster{Identifier: "test", Status: cluster.StatusStarting}
	result, _ := m.Update(refreshedMsg{cluster: c})
	result, cmd := result.(WatchModel).Update(refreshedMsg{err: errors.New("throttled")})
	rm := result.(WatchModel)

	if rm.Cluster() != c {
		t.Error("last cluster should be kept on error")
	}
	if rm.Err() == nil || !strings.Contains(rm.View(), "throttled") {
		t.Error("view should show the refresh error")
	}
	if cmd == nil {
		t.Error("expected polling to continue after an error")
	}
}

func TestWatchModel_PollCallsRefresh(t *testing.T) {
	c := &cluster.Cluster{Identifier: "test", Status: cluster.StatusRunning}
	m := NewWatchModel(fixedRefresh(c, nil), time.Second)
	_, cmd := m.Update(pollMsg{})
	msg, ok := cmd().(refreshedMsg)
	if !ok {
		t.Fatalf("unexpected message %T", cmd())
	}
	if msg.cluster != c {
		t.Error("poll should return the refreshed cluster")
	}
}
