package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jayporeci/engine/internal/executor"
	"github.com/jayporeci/engine/internal/executor/executortest"
	"github.com/jayporeci/engine/internal/pipeline"
)

type fakeRepo struct{ sha string }

func (f fakeRepo) SHA() string { return f.sha }

type recordingPlatform struct {
	mu        sync.Mutex
	setupN    int
	teardownN int
	reports   []string
}

func (r *recordingPlatform) Setup(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setupN++
	return nil
}

func (r *recordingPlatform) Teardown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownN++
	return nil
}

func (r *recordingPlatform) Publish(ctx context.Context, report string, status pipeline.ExternalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

// autoPassExecutor extends MockExecutor so Run immediately marks the
// container as exited, with the job's exit code from setExitCode (zero
// unless set), letting tests drive a pipeline to completion without a
// polling loop.
type autoPassExecutor struct {
	*executortest.MockExecutor
	exitCode map[string]int
	mu       sync.Mutex
}

func newAutoPassExecutor() *autoPassExecutor {
	return &autoPassExecutor{MockExecutor: executortest.NewMockExecutor(), exitCode: make(map[string]int)}
}

func (e *autoPassExecutor) Run(ctx context.Context, job *pipeline.Job) (string, error) {
	id, err := e.MockExecutor.Run(ctx, job)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	code := e.exitCode[job.Name]
	e.mu.Unlock()
	e.MockExecutor.SetState(id, executor.RawState{IsRunning: false, ExitCode: code})
	return id, nil
}

func (e *autoPassExecutor) setExitCode(jobName string, code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exitCode[jobName] = code
}

type SchedulerSuite struct {
	suite.Suite
	ctx      context.Context
	exec     *autoPassExecutor
	platform *recordingPlatform
	logger   *slog.Logger
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.exec = newAutoPassExecutor()
	s.platform = &recordingPlatform{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) buildPipeline(configure func(b *pipeline.Builder) error) *pipeline.Pipeline {
	b := pipeline.NewBuilder(fakeRepo{sha: "deadbeef"}, pipeline.Config{PollInterval: 10 * time.Millisecond})
	require.NoError(s.T(), configure(b))
	p, err := b.Build()
	require.NoError(s.T(), err)
	return p
}

func (s *SchedulerSuite) TestLinearChainAllPass() {
	p := s.buildPipeline(func(b *pipeline.Builder) error {
		stage, err := b.Stage("ci", pipeline.JobDefaults{Image: "alpine"})
		if err != nil {
			return err
		}
		if _, err := b.Job(stage, pipeline.JobSpec{Name: "lint", Command: "ok"}); err != nil {
			return err
		}
		_, err = b.Job(stage, pipeline.JobSpec{Name: "test", Command: "ok", After: []string{"lint"}})
		return err
	})

	sched := New(Config{Pipeline: p, Executor: s.exec, Platform: s.platform, Logger: s.logger})
	err := sched.Run(s.ctx)

	require.NoError(s.T(), err)
	assert.Equal(s.T(), pipeline.StatusPassed, p.AggregateStatus())
	assert.Equal(s.T(), []string{"lint", "test"}, s.exec.RunCalls())
	assert.Equal(s.T(), 1, s.platform.setupN)
	assert.Equal(s.T(), 1, s.platform.teardownN)
	assert.NotEmpty(s.T(), s.platform.reports)
}

func (s *SchedulerSuite) TestSkipOnFailure() {
	s.exec.setExitCode("a", 1)

	p := s.buildPipeline(func(b *pipeline.Builder) error {
		stage, err := b.Stage("ci", pipeline.JobDefaults{Image: "alpine"})
		if err != nil {
			return err
		}
		if _, err := b.Job(stage, pipeline.JobSpec{Name: "a", Command: "fail"}); err != nil {
			return err
		}
		_, err = b.Job(stage, pipeline.JobSpec{Name: "b", Command: "ok", After: []string{"a"}})
		return err
	})

	sched := New(Config{Pipeline: p, Executor: s.exec, Platform: s.platform, Logger: s.logger})
	err := sched.Run(s.ctx)

	require.Error(s.T(), err)
	aJob, _ := p.JobByName("a")
	bJob, _ := p.JobByName("b")
	assert.Equal(s.T(), pipeline.StatusFailed, aJob.State.Status)
	assert.Equal(s.T(), pipeline.StatusSkipped, bJob.State.Status)
	assert.Equal(s.T(), pipeline.StatusFailed, p.AggregateStatus())
	assert.Equal(s.T(), []string{"a"}, s.exec.RunCalls(), "b must never be triggered")
}

func (s *SchedulerSuite) TestDiamondRunsParallelBranchesAndJoins() {
	p := s.buildPipeline(func(b *pipeline.Builder) error {
		stage, err := b.Stage("ci", pipeline.JobDefaults{Image: "alpine"})
		if err != nil {
			return err
		}
		if _, err := b.Job(stage, pipeline.JobSpec{Name: "a", Command: "ok"}); err != nil {
			return err
		}
		if _, err := b.Job(stage, pipeline.JobSpec{Name: "b", Command: "ok", After: []string{"a"}}); err != nil {
			return err
		}
		if _, err := b.Job(stage, pipeline.JobSpec{Name: "c", Command: "ok", After: []string{"a"}}); err != nil {
			return err
		}
		_, err = b.Job(stage, pipeline.JobSpec{Name: "d", Command: "ok", After: []string{"b", "c"}})
		return err
	})

	sched := New(Config{Pipeline: p, Executor: s.exec, Platform: s.platform, Logger: s.logger})
	require.NoError(s.T(), sched.Run(s.ctx))

	assert.Equal(s.T(), pipeline.StatusPassed, p.AggregateStatus())
	calls := s.exec.RunCalls()
	require.Len(s.T(), calls, 4)
	assert.Equal(s.T(), "a", calls[0])
	assert.Equal(s.T(), "d", calls[3])
}

func (s *SchedulerSuite) TestCrossStageGateHaltsSubsequentStages() {
	s.exec.setExitCode("x", 1)

	p := s.buildPipeline(func(b *pipeline.Builder) error {
		s1, err := b.Stage("s1", pipeline.JobDefaults{Image: "alpine"})
		if err != nil {
			return err
		}
		if _, err := b.Job(s1, pipeline.JobSpec{Name: "x", Command: "fail"}); err != nil {
			return err
		}
		s2, err := b.Stage("s2", pipeline.JobDefaults{Image: "alpine"})
		if err != nil {
			return err
		}
		_, err = b.Job(s2, pipeline.JobSpec{Name: "y", Command: "ok"})
		return err
	})

	sched := New(Config{Pipeline: p, Executor: s.exec, Platform: s.platform, Logger: s.logger})
	err := sched.Run(s.ctx)

	require.Error(s.T(), err)
	yJob, _ := p.JobByName("y")
	assert.Equal(s.T(), pipeline.StatusPending, yJob.State.Status, "y must never start once x fails")
	assert.NotContains(s.T(), s.exec.RunCalls(), "y")
}

func (s *SchedulerSuite) TestTeardownCalledEvenOnFailure() {
	s.exec.RunErr = assertError{}

	p := s.buildPipeline(func(b *pipeline.Builder) error {
		stage, err := b.Stage("ci", pipeline.JobDefaults{Image: "alpine"})
		if err != nil {
			return err
		}
		_, err = b.Job(stage, pipeline.JobSpec{Name: "a", Command: "ok"})
		return err
	})

	sched := New(Config{Pipeline: p, Executor: s.exec, Platform: s.platform, Logger: s.logger})
	_ = sched.Run(s.ctx)

	assert.Equal(s.T(), 1, s.exec.TeardownCount())
	assert.Equal(s.T(), 1, s.platform.teardownN)
}

func (s *SchedulerSuite) TestJobExceedingTimeoutIsStoppedAndMarkedTimeout() {
	raw := executortest.NewMockExecutor() // container never exits on its own

	p := s.buildPipeline(func(b *pipeline.Builder) error {
		stage, err := b.Stage("ci", pipeline.JobDefaults{Image: "alpine"})
		if err != nil {
			return err
		}
		_, err = b.Job(stage, pipeline.JobSpec{Name: "slow", Command: "ok", Timeout: 20 * time.Millisecond})
		return err
	})

	sched := New(Config{Pipeline: p, Executor: raw, Platform: s.platform, Logger: s.logger})
	err := sched.Run(s.ctx)

	require.Error(s.T(), err)
	job, _ := p.JobByName("slow")
	assert.Equal(s.T(), pipeline.StatusTimeout, job.State.Status)
	assert.NotEmpty(s.T(), job.State.Logs)
	assert.NotEmpty(s.T(), raw.StoppedCalls(), "the timed-out container must be stopped")
	assert.Equal(s.T(), pipeline.StatusFailed, p.AggregateStatus())
}

type assertError struct{}

func (assertError) Error() string { return "forced run failure" }
