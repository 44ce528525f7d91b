// Package pipeline defines the declarative data model of a CI run: the
// Stage/Job/Edge graph, its construction-time invariants, the mutable
// per-job JobState, and the aggregate-status rule used by the scheduler
// and reporter.
package pipeline

import (
	"time"

	"github.com/jayporeci/engine/internal/ident"
)

// EdgeKind is the kind of dependency an Edge represents. Only
// ALL_SUCCESS exists today.
type EdgeKind string

// EdgeAllSuccess gates a target job on every source job being PASSED.
const EdgeAllSuccess EdgeKind = "ALL_SUCCESS"

// JobState is the mutable run-time state carried by a Job.
type JobState struct {
	Status     Status
	RunID      string
	ExitCode   int
	StartedAt  *time.Time
	FinishedAt *time.Time
	Logs       string
}

// IsRunning reports whether the job's container is currently alive.
func (s JobState) IsRunning() bool { return s.Status == StatusRunning }

// Job is a single unit of work realised as one container execution.
type Job struct {
	Name       string
	Command    string
	Image      string
	IsService  bool
	Timeout    time.Duration
	Env        map[string]string
	ExtraOpts  map[string]string // executor-specific options, passed through verbatim
	Parents    []string          // declared dependency job names, within the same stage
	State      JobState
}

// Edge is a declared within-stage dependency: Target may start only once
// every Source is terminal-success.
type Edge struct {
	Kind   EdgeKind
	Source string
	Target string
}

// Stage is a named, ordered group of jobs executed relative to other
// stages in declaration order.
type Stage struct {
	Name     string
	Jobs     []*Job
	Edges    []Edge
	Defaults JobDefaults
}

// JobDefaults holds stage- or pipeline-level defaults merged into a Job
// at registration time.
type JobDefaults struct {
	Image   string
	Timeout time.Duration
	Env     map[string]string
}

// Config holds pipeline-wide configuration.
type Config struct {
	DefaultImage    string
	PollInterval    time.Duration
	DefaultTimeout  time.Duration
	DefaultEnv      map[string]string
	NamePrefix      string // ident namespace prefix; defaults to ident.DefaultPrefix
	GraphDirection  string // mermaid graph direction for reporter.RenderMermaid; defaults to "TB"
}

// Pipeline is a sequence of Stages executed in declaration order, plus
// configuration shared across them.
type Pipeline struct {
	Repo   RepoHandle
	Stages []*Stage
	Config Config

	jobIndex   map[string]*Job
	stageIndex map[string]*Stage
}

// RepoHandle is the minimal view of repo identity the pipeline needs; it
// is satisfied by internal/repo.Info.
type RepoHandle interface {
	SHA() string
}

// New creates an empty Pipeline bound to repo, applying cfg defaults.
func New(repo RepoHandle, cfg Config) *Pipeline {
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = ident.DefaultPrefix
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 15 * time.Minute
	}
	if cfg.GraphDirection == "" {
		cfg.GraphDirection = "TB"
	}
	return &Pipeline{
		Repo:       repo,
		Config:     cfg,
		jobIndex:   make(map[string]*Job),
		stageIndex: make(map[string]*Stage),
	}
}

// AggregateStatus evaluates the pipeline's overall status from its jobs'
// current states:
//
//  1. any RUNNING            -> RUNNING
//  2. else any FAILED/TIMEOUT -> FAILED
//  3. else any PENDING        -> PENDING
//  4. else                    -> PASSED
func (p *Pipeline) AggregateStatus() Status {
	sawPending := false
	for _, stage := range p.Stages {
		for _, job := range stage.Jobs {
			switch job.State.Status {
			case StatusRunning:
				return StatusRunning
			case StatusFailed, StatusTimeout:
				return StatusFailed
			case StatusPending:
				sawPending = true
			}
		}
	}
	if sawPending {
		return StatusPending
	}
	return StatusPassed
}

// JobByName returns the job with the given name, if any.
func (p *Pipeline) JobByName(name string) (*Job, bool) {
	j, ok := p.jobIndex[name]
	return j, ok
}

// Parents returns the jobs that the named job in the given stage depends
// on directly.
func (s *Stage) Parents(jobName string) []string {
	var parents []string
	for _, e := range s.Edges {
		if e.Target == jobName {
			parents = append(parents, e.Source)
		}
	}
	return parents
}

// HasJob reports whether name is already registered in the stage.
func (s *Stage) HasJob(name string) bool {
	for _, j := range s.Jobs {
		if j.Name == name {
			return true
		}
	}
	return false
}
