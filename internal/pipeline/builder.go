package pipeline

import (
	"time"

	"github.com/jayporeci/engine/internal/ident"
)

// Builder constructs a Pipeline incrementally, enforcing every
// construction-time invariant as each stage/job is registered: global
// name uniqueness, within-stage-only edges, dependency-before-dependent,
// and non-service jobs requiring a command.
type Builder struct {
	p *Pipeline
}

// NewBuilder starts building a Pipeline bound to repo.
func NewBuilder(repo RepoHandle, cfg Config) *Builder {
	return &Builder{p: New(repo, cfg)}
}

// Build returns the constructed Pipeline. It must contain at least one
// stage.
func (b *Builder) Build() (*Pipeline, error) {
	if len(b.p.Stages) == 0 {
		return nil, NewConfigError("pipeline must contain at least one stage")
	}
	return b.p, nil
}

// Stage registers a new stage with the given name and per-stage
// defaults, returning a *Stage that Job uses to add jobs to it.
func (b *Builder) Stage(name string, defaults JobDefaults) (*Stage, error) {
	name = ident.Sanitize(name)
	if _, taken := b.p.stageIndex[name]; taken {
		return nil, NewConfigError("stage name already taken: %s", name)
	}
	if _, taken := b.p.jobIndex[name]; taken {
		return nil, NewConfigError("name already taken by a job: %s", name)
	}
	stage := &Stage{Name: name, Defaults: defaults}
	b.p.Stages = append(b.p.Stages, stage)
	b.p.stageIndex[name] = stage
	return stage, nil
}

// JobSpec is the declarative input to Builder.Job.
type JobSpec struct {
	Name      string
	Command   string
	Image     string
	IsService bool
	Timeout   time.Duration
	Env       map[string]string
	ExtraOpts map[string]string
	After     []string // names of jobs in the same stage this job depends on
}

// Job registers a job in stage, validating and applying defaults, and
// wiring the declared ALL_SUCCESS edges from spec.After.
func (b *Builder) Job(stage *Stage, spec JobSpec) (*Job, error) {
	name := ident.Sanitize(spec.Name)
	if err := b.checkNameFree(name); err != nil {
		return nil, err
	}
	if !spec.IsService && spec.Command == "" {
		return nil, NewConfigError("job %q: non-service jobs must have a non-empty command", name)
	}
	if spec.IsService && spec.Image == "" && stage.Defaults.Image == "" && b.p.Config.DefaultImage == "" {
		return nil, NewConfigError("job %q: service jobs must have an image", name)
	}

	image := firstNonEmpty(spec.Image, stage.Defaults.Image, b.p.Config.DefaultImage)
	timeout := firstNonZero(spec.Timeout, stage.Defaults.Timeout, b.p.Config.DefaultTimeout)
	env := mergeEnv(b.p.Config.DefaultEnv, stage.Defaults.Env, spec.Env)

	for _, dep := range spec.After {
		dep = ident.Sanitize(dep)
		if !stage.HasJob(dep) {
			return nil, NewConfigError(
				"job %q depends on %q, which is not a previously-declared job in stage %q",
				name, dep, stage.Name,
			)
		}
	}

	job := &Job{
		Name:      name,
		Command:   spec.Command,
		Image:     image,
		IsService: spec.IsService,
		Timeout:   timeout,
		Env:       env,
		ExtraOpts: spec.ExtraOpts,
		State:     JobState{Status: StatusPending},
	}
	for _, dep := range spec.After {
		dep = ident.Sanitize(dep)
		job.Parents = append(job.Parents, dep)
		stage.Edges = append(stage.Edges, Edge{Kind: EdgeAllSuccess, Source: dep, Target: name})
	}

	stage.Jobs = append(stage.Jobs, job)
	b.p.jobIndex[name] = job
	return job, nil
}

func (b *Builder) checkNameFree(name string) error {
	if _, taken := b.p.jobIndex[name]; taken {
		return NewConfigError("job name already taken: %s", name)
	}
	if _, taken := b.p.stageIndex[name]; taken {
		return NewConfigError("name already taken by a stage: %s", name)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(vals ...time.Duration) time.Duration {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func mergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
