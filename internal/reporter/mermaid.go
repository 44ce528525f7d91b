package reporter

import (
	"fmt"
	"strings"

	"github.com/jayporeci/engine/internal/pipeline"
)

// RenderMermaid returns a ```mermaid fenced graph block describing the
// pipeline's stages, jobs and their within-stage dependency edges,
// laid out in the pipeline's configured graph direction.
func RenderMermaid(p *pipeline.Pipeline) string {
	direction := p.Config.GraphDirection
	if direction == "" {
		direction = "TB"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "```mermaid\ngraph %s\n", direction)

	for _, stage := range p.Stages {
		if len(stage.Jobs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  subgraph %s\n", mermaidID(stage.Name))
		for _, job := range stage.Jobs {
			fmt.Fprintf(&b, "    %s[%q]\n", mermaidID(job.Name), fmt.Sprintf("%s (%s)", job.Name, job.State.Status.Glyph()))
		}
		for _, edge := range stage.Edges {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(edge.Source), mermaidID(edge.Target))
		}
		b.WriteString("  end\n")
	}
	b.WriteString("```")
	return b.String()
}

// mermaidID replaces characters mermaid node ids can't contain.
func mermaidID(name string) string {
	replacer := strings.NewReplacer(" ", "_", "-", "_", ".", "_")
	return replacer.Replace(name)
}
