package console

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/repo"
)

func TestPublishLogsReport(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := New(&repo.Info{Commit: "abc123", Branch: "main"}, logger)

	require.NoError(t, p.Setup(context.Background()))
	require.NoError(t, p.Publish(context.Background(), "all green", pipeline.ExternalSuccess))
	require.NoError(t, p.Teardown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "success")
}
