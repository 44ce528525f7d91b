// Package throttle wraps a platform.Platform so that intermediate
// (non-terminal) publishes are rate-limited while every terminal
// status is always delivered, and identical consecutive reports are
// never re-sent.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/platform"
)

// DefaultInterval is the minimum gap between two non-terminal
// publishes, matching the scheduler's default poll cadence scaled up
// so that reporting doesn't spam the destination platform every tick.
const DefaultInterval = 15 * time.Second

// Platform decorates an inner platform.Platform with throttling and
// de-duplication. It is itself a platform.Platform.
type Platform struct {
	inner    platform.Platform
	interval time.Duration

	mu           sync.Mutex
	lastReport   string
	lastPublish  time.Time
	firstPublish bool
}

// New wraps inner with the default throttling interval.
func New(inner platform.Platform) *Platform {
	return NewWithInterval(inner, DefaultInterval)
}

// NewWithInterval wraps inner with a custom throttling interval.
func NewWithInterval(inner platform.Platform, interval time.Duration) *Platform {
	return &Platform{inner: inner, interval: interval}
}

func (p *Platform) Setup(ctx context.Context) error { return p.inner.Setup(ctx) }

func (p *Platform) Teardown(ctx context.Context) error { return p.inner.Teardown(ctx) }

// Publish forwards to the wrapped platform unless the report text is
// unchanged from the last publish, or less than interval has passed
// since the last publish and status is not terminal.
func (p *Platform) Publish(ctx context.Context, report string, status pipeline.ExternalStatus) error {
	p.mu.Lock()
	isTerminal := status != pipeline.ExternalPending
	unchanged := p.firstPublish && report == p.lastReport
	tooSoon := p.firstPublish && !isTerminal && time.Since(p.lastPublish) < p.interval
	if unchanged || tooSoon {
		p.mu.Unlock()
		return nil
	}
	p.lastReport = report
	p.lastPublish = time.Now()
	p.firstPublish = true
	p.mu.Unlock()

	return p.inner.Publish(ctx, report, status)
}
