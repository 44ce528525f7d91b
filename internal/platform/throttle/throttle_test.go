package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayporeci/engine/internal/pipeline"
)

type recordingPlatform struct {
	publishes []string
}

func (r *recordingPlatform) Setup(ctx context.Context) error    { return nil }
func (r *recordingPlatform) Teardown(ctx context.Context) error { return nil }
func (r *recordingPlatform) Publish(ctx context.Context, report string, status pipeline.ExternalStatus) error {
	r.publishes = append(r.publishes, report)
	return nil
}

func TestFirstPublishAlwaysGoesThrough(t *testing.T) {
	inner := &recordingPlatform{}
	p := NewWithInterval(inner, time.Hour)

	require.NoError(t, p.Publish(context.Background(), "r1", pipeline.ExternalPending))
	assert.Equal(t, []string{"r1"}, inner.publishes)
}

func TestUnchangedReportIsSuppressed(t *testing.T) {
	inner := &recordingPlatform{}
	p := NewWithInterval(inner, time.Hour)

	require.NoError(t, p.Publish(context.Background(), "same", pipeline.ExternalPending))
	require.NoError(t, p.Publish(context.Background(), "same", pipeline.ExternalPending))
	assert.Equal(t, []string{"same"}, inner.publishes)
}

func TestNonTerminalThrottledWithinInterval(t *testing.T) {
	inner := &recordingPlatform{}
	p := NewWithInterval(inner, time.Hour)

	require.NoError(t, p.Publish(context.Background(), "r1", pipeline.ExternalPending))
	require.NoError(t, p.Publish(context.Background(), "r2", pipeline.ExternalPending))
	assert.Equal(t, []string{"r1"}, inner.publishes, "second non-terminal publish is throttled")
}

func TestTerminalStatusAlwaysPublishes(t *testing.T) {
	inner := &recordingPlatform{}
	p := NewWithInterval(inner, time.Hour)

	require.NoError(t, p.Publish(context.Background(), "r1", pipeline.ExternalPending))
	require.NoError(t, p.Publish(context.Background(), "r2", pipeline.ExternalSuccess))
	assert.Equal(t, []string{"r1", "r2"}, inner.publishes, "terminal status bypasses the throttle")
}
