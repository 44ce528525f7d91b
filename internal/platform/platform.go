// Package platform defines the contract for publishing a pipeline's
// status somewhere a human will see it. The shared de-duplication and
// rate-limiting decorator lives in the platform/throttle subpackage.
package platform

import (
	"context"

	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/repo"
)

// Platform is something that can show a pipeline's status to the
// outside world: a PR comment, a commit status, a console line, an
// email.
type Platform interface {
	// Setup performs any work needed before the first Publish call.
	Setup(ctx context.Context) error

	// Publish sends the rendered report for the given pipeline status.
	Publish(ctx context.Context, report string, status pipeline.ExternalStatus) error

	// Teardown performs any final work once the pipeline has finished.
	Teardown(ctx context.Context) error
}

// Factory builds a Platform from repo identity.
type Factory func(ctx context.Context, info *repo.Info) (Platform, error)
