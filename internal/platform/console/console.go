// Package console implements a platform.Platform that writes reports
// to a log, for local runs and debugging.
package console

import (
	"context"
	"log/slog"

	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/repo"
)

// Platform logs published reports via slog instead of printing them,
// so report lines carry the same structure as the rest of the output.
type Platform struct {
	logger *slog.Logger
	info   *repo.Info
}

// New builds a console Platform for the given repo identity.
func New(info *repo.Info, logger *slog.Logger) *Platform {
	return &Platform{logger: logger, info: info}
}

// FromEnv builds a console Platform that logs through slog.Default(). It
// returns the concrete *Platform, so it is not itself a platform.Factory.
func FromEnv(ctx context.Context, info *repo.Info) (*Platform, error) {
	return New(info, slog.Default()), nil
}

func (p *Platform) Setup(ctx context.Context) error { return nil }

func (p *Platform) Teardown(ctx context.Context) error { return nil }

func (p *Platform) Publish(ctx context.Context, report string, status pipeline.ExternalStatus) error {
	p.logger.Info("pipeline report",
		"sha", p.info.SHA(),
		"branch", p.info.Branch,
		"status", string(status),
		"report", "\n"+report,
	)
	return nil
}
