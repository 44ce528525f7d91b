// Package reporter renders a pipeline's current state as human-readable
// text and, separately, as a mermaid dependency graph. Both renderers
// are pure functions of a *pipeline.Pipeline snapshot.
package reporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/jayporeci/engine/internal/pipeline"
)

// bannerName is the fixed label shown in the report header.
const bannerName = "jayporeci-ci"

// Render returns a boxed, monospace status report for the pipeline:
// one section per stage, each job shown with its status glyph, a
// truncated run id, and an mm:ss duration column.
func Render(p *pipeline.Pipeline) string {
	maxName := len(bannerName)
	for _, stage := range p.Stages {
		for _, job := range stage.Jobs {
			if len(job.Name) > maxName {
				maxName = len(job.Name)
			}
		}
	}

	sha := p.Repo.SHA()
	if len(sha) > 10 {
		sha = sha[:10]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n```%s\n", bannerName)
	fmt.Fprintf(&b, "\xe2\x95\x94 %s : %-*s [sha %s]\n", p.AggregateStatus().Glyph(), maxName, bannerName, sha)

	closerWidth := len(" O : ") + maxName + 1 + 1 + 8 + 1
	closer := "┗" + strings.Repeat("━", closerWidth) + "┛"

	for _, stage := range p.Stages {
		if len(stage.Jobs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "┏━ %s\n┃\n", stage.Name)
		for _, job := range stage.Jobs {
			runID := job.State.RunID
			if len(runID) > 8 {
				runID = runID[:8]
			}
			fmt.Fprintf(&b, "┃ %s : %-*s [%-8s] %s\n",
				job.State.Status.Glyph(), maxName, job.Name, runID, jobDuration(job))
		}
		b.WriteString(closer + "\n")
	}
	b.WriteString("```")
	return b.String()
}

// jobDuration renders how long a job has run, as "mm:ss". A job that
// hasn't started yet renders as " --:--".
func jobDuration(job *pipeline.Job) string {
	state := job.State
	if state.StartedAt == nil {
		return " --:--"
	}
	var elapsed time.Duration
	if state.FinishedAt != nil {
		elapsed = state.FinishedAt.Sub(*state.StartedAt)
	} else {
		elapsed = time.Since(*state.StartedAt)
	}
	seconds := int(elapsed.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%3d:%02d", seconds/60, seconds%60)
}
