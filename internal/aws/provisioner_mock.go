package aws

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvisioner is a test double for the Provisioner and JobRunner
// interfaces. It is safe for concurrent use.
type MockProvisioner struct {
	mu sync.Mutex

	StartResult string
	StartErr    error
	StopErr     error
	InfoResult  *ClusterInfo
	InfoErr     error
	ListResult  []ClusterSummary
	ListErr     error
	RunResult   string
	RunErr      error

	// StartHook runs inside Start before it returns, e.g. to widen a race window.
	StartHook func()
	// ListHook runs inside List before it returns.
	ListHook func()

	// Track calls
	StartCalls  int
	StartedWith []StartRequest
	StopCalls   int
	StoppedIDs  []string
	InfoCalls   int
	InfoIDs     []string
	ListCalls   int
	ListedAfter []time.Time
	RunCalls    int
	RanWith     []RunRequest
}

func (m *MockProvisioner) Start(_ context.Context, req StartRequest) (string, error) {
	m.mu.Lock()
	m.StartCalls++
	m.StartedWith = append(m.StartedWith, req)
	hook := m.StartHook
	result, err := m.StartResult, m.StartErr
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, err
}

func (m *MockProvisioner) Stop(_ context.Context, jobFlowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	m.StoppedIDs = append(m.StoppedIDs, jobFlowID)
	return m.StopErr
}

func (m *MockProvisioner) Info(_ context.Context, jobFlowID string) (*ClusterInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls++
	m.InfoIDs = append(m.InfoIDs, jobFlowID)
	if m.InfoErr != nil {
		return nil, m.InfoErr
	}
	if m.InfoResult == nil {
		return nil, nil
	}
	info := *m.InfoResult
	return &info, nil
}

func (m *MockProvisioner) List(_ context.Context, createdAfter time.Time) ([]ClusterSummary, error) {
	m.mu.Lock()
	m.ListCalls++
	m.ListedAfter = append(m.ListedAfter, createdAfter)
	hook := m.ListHook
	result, err := m.ListResult, m.ListErr
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, err
}

func (m *MockProvisioner) Run(_ context.Context, req RunRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCalls++
	m.RanWith = append(m.RanWith, req)
	return m.RunResult, m.RunErr
}

// SetList replaces the summaries returned by List.
func (m *MockProvisioner) SetList(list []ClusterSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListResult = list
}

// SetInfo replaces the snapshot returned by Info.
func (m *MockProvisioner) SetInfo(info *ClusterInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoResult = info
}

// MockNotebooks is an in-memory Notebooks.
type MockNotebooks struct {
	mu sync.Mutex

	Objects   map[string][]byte
	Result    *JobResults
	PutErr    error
	RemoveErr error

	Removed []string
}

// NewMockNotebooks creates an empty MockNotebooks.
func NewMockNotebooks() *MockNotebooks {
	return &MockNotebooks{Objects: make(map[string][]byte)}
}

func (m *MockNotebooks) Add(_ context.Context, identifier, filename string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return "", m.PutErr
	}
	key := NotebookKey(identifier, filename)
	m.Objects[key] = append([]byte(nil), body...)
	return key, nil
}

func (m *MockNotebooks) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.Objects[key]
	if !ok {
		return nil, fmt.Errorf("notebook %s not found", key)
	}
	return body, nil
}

func (m *MockNotebooks) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.Removed = append(m.Removed, key)
	delete(m.Objects, key)
	return nil
}

func (m *MockNotebooks) Results(_ context.Context, _ string, _ bool) (*JobResults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Result == nil {
		return &JobResults{}, nil
	}
	r := *m.Result
	return &r, nil
}
