// Package scheduler drives a pipeline to completion: it walks each
// stage's job graph, triggers ready jobs through an executor, polls
// their status, propagates skips on upstream failure, enforces
// per-job timeouts, and publishes rendered reports through a
// platform.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jayporeci/engine/internal/executor"
	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/platform"
	"github.com/jayporeci/engine/internal/reporter"
)

// StatusFileName is the file, relative to WorkspacePath, reports are
// mirrored to for out-of-band consumers such as a TUI.
const StatusFileName = "jaypore_ci.status.txt"

// Config holds everything the Scheduler needs beyond the pipeline
// itself.
type Config struct {
	Pipeline      *pipeline.Pipeline
	Executor      executor.Executor
	Platform      platform.Platform
	Logger        *slog.Logger
	WorkspacePath string // directory jaypore_ci.status.txt is written into; empty disables it
	MaxConcurrent int    // bound on concurrent Run/GetStatus calls per tick; defaults to 8
}

// Scheduler runs the single-threaded cooperative tick loop over a
// pipeline's stages.
type Scheduler struct {
	pipeline      *pipeline.Pipeline
	executor      executor.Executor
	platform      platform.Platform
	logger        *slog.Logger
	workspacePath string
	maxConcurrent int

	tracer trace.Tracer
	meter  metric.Meter

	jobsTriggered metric.Int64Counter
	jobsSkipped   metric.Int64Counter
	jobsTimeout   metric.Int64Counter

	mu         sync.Mutex
	runningCnt int
}

// New builds a Scheduler from cfg, applying defaults and registering
// its OpenTelemetry counters and gauges.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 8
	}

	s := &Scheduler{
		pipeline:      cfg.Pipeline,
		executor:      cfg.Executor,
		platform:      cfg.Platform,
		logger:        cfg.Logger,
		workspacePath: cfg.WorkspacePath,
		maxConcurrent: cfg.MaxConcurrent,
		tracer:        otel.Tracer("jayporeci/scheduler"),
		meter:         otel.Meter("jayporeci/scheduler"),
	}

	var err error
	s.jobsTriggered, err = s.meter.Int64Counter(
		"jci.jobs.triggered",
		metric.WithDescription("Total number of jobs triggered via the executor"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create jobsTriggered counter", slog.String("error", err.Error()))
	}

	s.jobsSkipped, err = s.meter.Int64Counter(
		"jci.jobs.skipped",
		metric.WithDescription("Total number of jobs skipped due to an upstream non-PASSED terminal"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create jobsSkipped counter", slog.String("error", err.Error()))
	}

	s.jobsTimeout, err = s.meter.Int64Counter(
		"jci.jobs.timeout",
		metric.WithDescription("Total number of jobs that exceeded their wall-clock budget"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create jobsTimeout counter", slog.String("error", err.Error()))
	}

	_, err = s.meter.Int64ObservableGauge(
		"jci.jobs.running",
		metric.WithDescription("Current number of jobs with a live container"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s.mu.Lock()
			count := s.runningCnt
			s.mu.Unlock()
			o.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create jobs running gauge", slog.String("error", err.Error()))
	}

	return s
}

// Run is the scoped-acquisition entry point: it sets up the executor
// and platform, runs every stage in declaration order, and guarantees
// teardown regardless of error or cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	// Teardown is registered before any setup call: it is idempotent and
	// tolerates partial setup, and must run on every exit path, fatal
	// create-network failures and interrupts included.
	defer func() {
		tdCtx := context.WithoutCancel(ctx)
		if tdErr := s.executor.Teardown(tdCtx); tdErr != nil {
			s.logger.Warn("executor teardown failed", slog.String("error", tdErr.Error()))
		}
		if tdErr := s.platform.Teardown(tdCtx); tdErr != nil {
			s.logger.Warn("platform teardown failed", slog.String("error", tdErr.Error()))
		}
	}()

	if err := s.executor.Setup(ctx); err != nil {
		return fmt.Errorf("executor setup: %w", err)
	}
	if err := s.executor.CreateNetwork(ctx); err != nil {
		return fmt.Errorf("create network: %w", err)
	}
	if err := s.platform.Setup(ctx); err != nil {
		return fmt.Errorf("platform setup: %w", err)
	}

	var runErr error

	for _, stage := range s.pipeline.Stages {
		if err := s.runStage(ctx, stage); err != nil {
			runErr = err
			break
		}
		if !allPassed(stage) {
			s.logger.Info("halting subsequent stages", slog.String("stage", stage.Name))
			break
		}
	}

	s.publish(context.WithoutCancel(ctx))

	if runErr != nil {
		return runErr
	}
	if s.pipeline.AggregateStatus() != pipeline.StatusPassed {
		return fmt.Errorf("pipeline did not pass: %s", s.pipeline.AggregateStatus())
	}
	return nil
}

// RunPipeline is a convenience wrapper for callers that would rather
// build a pipeline inline than manage a Builder and Scheduler
// separately.
func RunPipeline(ctx context.Context, repo pipeline.RepoHandle, cfg pipeline.Config, exec executor.Executor, plat platform.Platform, logger *slog.Logger, build func(*pipeline.Builder) error) error {
	b := pipeline.NewBuilder(repo, cfg)
	if err := build(b); err != nil {
		return err
	}
	p, err := b.Build()
	if err != nil {
		return err
	}
	sched := New(Config{Pipeline: p, Executor: exec, Platform: plat, Logger: logger})
	return sched.Run(ctx)
}

// runStage seeds the frontier with parentless jobs, then loops until
// every job in the stage is terminal.
func (s *Scheduler) runStage(ctx context.Context, stage *pipeline.Stage) error {
	seeds := seedFrontier(stage)
	if err := s.triggerAll(ctx, stage, seeds); err != nil {
		return err
	}

	for !stageDone(stage) {
		if ctx.Err() != nil {
			s.logger.Info("cancellation observed, draining stage without new triggers", slog.String("stage", stage.Name))
			return nil
		}

		ctx, span := s.tracer.Start(ctx, "scheduler.tick")
		span.SetAttributes(attribute.String("stage", stage.Name))

		var toTrigger []*pipeline.Job
		if err := s.refreshAndClassify(ctx, stage, &toTrigger); err != nil {
			span.End()
			return err
		}

		if ctx.Err() == nil && len(toTrigger) > 0 {
			if err := s.triggerAll(ctx, stage, toTrigger); err != nil {
				span.End()
				return err
			}
		}

		s.publish(ctx)
		span.End()

		if stageDone(stage) {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.pipeline.Config.PollInterval):
		}
	}
	return nil
}

// seedFrontier returns the jobs in stage with no declared parents --
// the jobs that can start immediately.
func seedFrontier(stage *pipeline.Stage) []*pipeline.Job {
	var seeds []*pipeline.Job
	for _, j := range stage.Jobs {
		if len(j.Parents) == 0 {
			seeds = append(seeds, j)
		}
	}
	return seeds
}

// refreshAndClassify refreshes status for every non-terminal job in
// stage, applies the skip-on-upstream-failure and timeout rules, and
// appends newly-ready jobs (all parents PASSED) to toTrigger.
func (s *Scheduler) refreshAndClassify(ctx context.Context, stage *pipeline.Stage, toTrigger *[]*pipeline.Job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	var mu sync.Mutex
	for _, job := range stage.Jobs {
		job := job
		if job.State.Status.IsTerminal() {
			continue
		}
		g.Go(func() error {
			return s.refreshOne(gctx, stage, job, &mu, toTrigger)
		})
	}
	return g.Wait()
}

// refreshOne refreshes a single job's state. mu serializes every read
// and write of any job's State within the stage: multiple refreshOne
// calls run concurrently (one per in-flight job), but a child's
// parent-status check must never race a parent's own status update in
// the same tick.
func (s *Scheduler) refreshOne(ctx context.Context, stage *pipeline.Stage, job *pipeline.Job, mu *sync.Mutex, toTrigger *[]*pipeline.Job) error {
	mu.Lock()
	running := job.State.IsRunning()
	runID := job.State.RunID
	mu.Unlock()

	if running {
		raw, err := s.executor.GetStatus(ctx, runID)
		if err != nil {
			var transient *pipeline.InspectTransient
			if errors.As(err, &transient) {
				s.logger.Debug("transient inspect error, retrying next tick", slog.String("job", job.Name), slog.String("error", err.Error()))
				return nil
			}
			return err
		}
		mu.Lock()
		job.State.Status = executor.DeriveStatus(raw, job.IsService)
		job.State.ExitCode = raw.ExitCode
		job.State.FinishedAt = raw.FinishedAt
		job.State.Logs = raw.Logs
		becameTerminal := job.State.Status.IsTerminal()
		mu.Unlock()
		if becameTerminal {
			s.decRunning()
		}
	}

	mu.Lock()
	terminal := job.State.Status.IsTerminal()
	mu.Unlock()
	if terminal {
		return nil
	}

	mu.Lock()
	stillRunning := job.State.IsRunning()
	startedAt := job.State.StartedAt
	runID = job.State.RunID
	mu.Unlock()
	if stillRunning {
		if job.Timeout > 0 && startedAt != nil && time.Since(*startedAt) > job.Timeout {
			elapsed := time.Since(*startedAt)
			if stopErr := s.executor.Stop(ctx, runID); stopErr != nil {
				s.logger.Warn("timeout stop failed", slog.String("job", job.Name), slog.String("error", stopErr.Error()))
			}
			timeoutErr := &pipeline.TimeoutError{Job: job.Name, Elapsed: elapsed.String()}
			mu.Lock()
			job.State.Status = pipeline.StatusTimeout
			if job.State.Logs != "" {
				job.State.Logs += "\n"
			}
			job.State.Logs += timeoutErr.Error()
			mu.Unlock()
			s.decRunning()
			s.recordTimeout(ctx, job.Name)
		}
		return nil
	}

	parents := stage.Parents(job.Name)
	mu.Lock()
	parentsPassed := true
	anyBadTerminal := false
	for _, pname := range parents {
		parent, _ := s.pipeline.JobByName(pname)
		if parent == nil {
			continue
		}
		if parent.State.Status.IsTerminalNotPassed() {
			anyBadTerminal = true
		}
		if parent.State.Status != pipeline.StatusPassed {
			parentsPassed = false
		}
	}
	mu.Unlock()

	switch {
	case anyBadTerminal:
		mu.Lock()
		job.State.Status = pipeline.StatusSkipped
		mu.Unlock()
		s.recordSkip(ctx, job.Name)
	case parentsPassed:
		mu.Lock()
		*toTrigger = append(*toTrigger, job)
		mu.Unlock()
	}
	return nil
}

// triggerAll issues executor.Run for every job in jobs, batched inside
// a single tick.
func (s *Scheduler) triggerAll(ctx context.Context, stage *pipeline.Stage, jobs []*pipeline.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return s.triggerJob(gctx, job)
		})
	}
	return g.Wait()
}

func (s *Scheduler) triggerJob(ctx context.Context, job *pipeline.Job) error {
	// Idempotent trigger: a job already RUNNING or terminal is a no-op.
	if job.State.IsRunning() || job.State.Status.IsTerminal() {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.triggerJob")
	span.SetAttributes(attribute.String("job", job.Name))
	defer span.End()

	runID, err := s.executor.Run(ctx, job)
	if err != nil {
		var triggerFailed *pipeline.TriggerFailed
		if errors.As(err, &triggerFailed) {
			job.State.Status = pipeline.StatusFailed
			job.State.Logs = triggerFailed.Error()
			return nil
		}
		var fatal *pipeline.FatalError
		if errors.As(err, &fatal) {
			return err
		}
		job.State.Status = pipeline.StatusFailed
		job.State.Logs = err.Error()
		return nil
	}

	now := time.Now()
	job.State.RunID = runID
	job.State.Status = pipeline.StatusRunning
	job.State.StartedAt = &now
	s.incRunning()

	if s.jobsTriggered != nil {
		s.jobsTriggered.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job.Name)))
	}
	return nil
}

func (s *Scheduler) recordSkip(ctx context.Context, jobName string) {
	if s.jobsSkipped != nil {
		s.jobsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("job", jobName)))
	}
}

func (s *Scheduler) recordTimeout(ctx context.Context, jobName string) {
	if s.jobsTimeout != nil {
		s.jobsTimeout.Add(ctx, 1, metric.WithAttributes(attribute.String("job", jobName)))
	}
}

func (s *Scheduler) incRunning() {
	s.mu.Lock()
	s.runningCnt++
	s.mu.Unlock()
}

func (s *Scheduler) decRunning() {
	s.mu.Lock()
	if s.runningCnt > 0 {
		s.runningCnt--
	}
	s.mu.Unlock()
}

// publish renders the current pipeline state and hands it to the
// platform (throttled internally) and, when configured, mirrors it to
// jaypore_ci.status.txt for out-of-band consumers.
func (s *Scheduler) publish(ctx context.Context) {
	report := reporter.Render(s.pipeline)
	status := s.pipeline.AggregateStatus().External()

	if err := s.platform.Publish(ctx, report, status); err != nil {
		s.logger.Warn("platform publish failed", slog.String("error", err.Error()))
	}

	if s.workspacePath == "" {
		return
	}
	path := s.workspacePath + string(os.PathSeparator) + StatusFileName
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		s.logger.Warn("failed to write status file", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func stageDone(stage *pipeline.Stage) bool {
	for _, j := range stage.Jobs {
		if !j.State.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func allPassed(stage *pipeline.Stage) bool {
	for _, j := range stage.Jobs {
		if j.State.Status != pipeline.StatusPassed {
			return false
		}
	}
	return true
}
