// Package executor defines the contract every container backend must
// satisfy in order to run pipeline jobs: translate a Job into a running,
// observable, stoppable container, and guarantee a per-run isolated
// network.
package executor

import (
	"context"
	"time"

	"github.com/jayporeci/engine/internal/pipeline"
)

// RawState is the backend's raw observation of a container, before the
// scheduler maps it onto a pipeline.Status.
type RawState struct {
	IsRunning  bool
	ExitCode   int
	Logs       string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Executor is the contract every container backend must satisfy.
//
// Implementations are responsible for:
//   - sweeping expired artefacts from prior runs without touching the
//     current run (Setup)
//   - creating the per-run isolated network (CreateNetwork)
//   - launching a job as a detached container on that network (Run)
//   - inspecting a launched container's state (GetStatus)
//   - stopping every live container and removing the network (Teardown)
type Executor interface {
	// Setup sweeps expired artefacts from prior runs. It must not touch
	// this run's artefacts.
	Setup(ctx context.Context) error

	// CreateNetwork idempotently ensures the per-run network exists.
	CreateNetwork(ctx context.Context) error

	// Run launches job as a detached container on the per-run network
	// and returns its run id (container id). Calling Run on a job
	// already RUNNING or terminal is a no-op that returns the existing
	// run id.
	Run(ctx context.Context, job *pipeline.Job) (runID string, err error)

	// GetStatus inspects the container identified by runID.
	GetStatus(ctx context.Context, runID string) (RawState, error)

	// Stop stops the container identified by runID with a grace period,
	// best-effort.
	Stop(ctx context.Context, runID string) error

	// Teardown stops every live container this run launched and removes
	// the per-run network. It must be idempotent.
	Teardown(ctx context.Context) error
}

// DeriveStatus maps a backend's raw container observation onto a
// pipeline.Status, per the executor's derived-status rule:
//
//	is_running            -> RUNNING (or PASSED if the job is a service)
//	not is_running, code 0 -> PASSED
//	not is_running, code!=0 -> FAILED
func DeriveStatus(raw RawState, isService bool) pipeline.Status {
	if raw.IsRunning {
		if isService {
			return pipeline.StatusPassed
		}
		return pipeline.StatusRunning
	}
	if raw.ExitCode == 0 {
		return pipeline.StatusPassed
	}
	return pipeline.StatusFailed
}
