// Package executortest provides a scriptable in-memory executor.Executor
// for scheduler unit tests.
package executortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jayporeci/engine/internal/executor"
	"github.com/jayporeci/engine/internal/pipeline"
)

// MockExecutor records every call and lets tests script errors and raw
// container states per run id.
type MockExecutor struct {
	mu sync.Mutex

	SetupErr         error
	CreateNetworkErr error
	RunErr           error // if set, Run fails for every job
	StopErr          error

	states map[string]executor.RawState // run id -> state, mutated by tests between ticks

	run       []string // job names Run was called with, in call order
	stopped   []string // run ids Stop was called with
	setupN    int
	teardownN int
	netN      int
	nextID    int
}

// NewMockExecutor returns a ready-to-use MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{states: make(map[string]executor.RawState)}
}

func (m *MockExecutor) Setup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setupN++
	return m.SetupErr
}

func (m *MockExecutor) CreateNetwork(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.netN++
	return m.CreateNetworkErr
}

func (m *MockExecutor) Run(ctx context.Context, job *pipeline.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RunErr != nil {
		return "", m.RunErr
	}

	m.nextID++
	id := fmt.Sprintf("mock-run-%d", m.nextID)
	m.run = append(m.run, job.Name)
	m.states[id] = executor.RawState{IsRunning: true}
	return id, nil
}

func (m *MockExecutor) GetStatus(ctx context.Context, runID string) (executor.RawState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[runID]
	if !ok {
		return executor.RawState{}, fmt.Errorf("mock executor: unknown run id %q", runID)
	}
	return st, nil
}

func (m *MockExecutor) Stop(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StopErr != nil {
		return m.StopErr
	}
	m.stopped = append(m.stopped, runID)
	st := m.states[runID]
	st.IsRunning = false
	m.states[runID] = st
	return nil
}

func (m *MockExecutor) Teardown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownN++
	for id, st := range m.states {
		st.IsRunning = false
		m.states[id] = st
	}
	return nil
}

// SetState overwrites the raw state returned for runID on subsequent
// GetStatus calls, letting a test drive a job to completion/failure.
func (m *MockExecutor) SetState(runID string, state executor.RawState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[runID] = state
}

// RunCalls returns the job names Run was invoked with, in order.
func (m *MockExecutor) RunCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.run))
	copy(out, m.run)
	return out
}

// StoppedCalls returns the run ids Stop was invoked with, in order.
func (m *MockExecutor) StoppedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.stopped))
	copy(out, m.stopped)
	return out
}

// SetupCount reports how many times Setup was called.
func (m *MockExecutor) SetupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setupN
}

// TeardownCount reports how many times Teardown was called.
func (m *MockExecutor) TeardownCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardownN
}

var _ executor.Executor = (*MockExecutor)(nil)
