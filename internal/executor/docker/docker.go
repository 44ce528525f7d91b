// Package docker implements executor.Executor using the Docker daemon:
// every job runs as a detached container attached to a per-run bridge
// network, with a retention sweep of prior runs' exited containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"

	"github.com/jayporeci/engine/internal/executor"
	"github.com/jayporeci/engine/internal/ident"
	"github.com/jayporeci/engine/internal/pipeline"
)

// Config holds Docker-executor settings.
type Config struct {
	// SHA namespaces every artefact this executor creates; normally the
	// pipeline's run identity.
	SHA string

	// Prefix overrides ident.DefaultPrefix. Optional.
	Prefix string

	// WorkspaceHostPath is the host directory mounted as the job
	// working directory for non-service jobs.
	WorkspaceHostPath string

	// WorkspaceContainerPath is the in-container mount point for
	// WorkspaceHostPath. Default: "/jayporeci/run".
	WorkspaceContainerPath string

	// ExtraVolumes are additional host:container bind mounts applied to
	// every job, beyond the workspace.
	ExtraVolumes []string

	// RetentionDays is how old (by creation time) an exited, foreign-run
	// container must be before Setup removes it. Default: 7.
	RetentionDays int

	// StopGrace is the grace period given to containers during Stop and
	// Teardown. Default: 5s.
	StopGrace time.Duration

	// NetworkCreateRetries is how many attempts CreateNetwork makes in
	// total before giving up. Default: 3.
	NetworkCreateRetries int

	// ProcessEnv is the process-wide JAYPORE_* environment (already
	// filtered and with the JAYPORE_ prefix stripped) merged into every
	// job, lowest precedence.
	ProcessEnv map[string]string
}

func (c *Config) applyDefaults() {
	if c.WorkspaceContainerPath == "" {
		c.WorkspaceContainerPath = "/jayporeci/run"
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 7
	}
	if c.StopGrace == 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.NetworkCreateRetries == 0 {
		c.NetworkCreateRetries = 3
	}
	if c.Prefix == "" {
		c.Prefix = ident.DefaultPrefix
	}
}

// Executor runs pipeline jobs as Docker containers.
type Executor struct {
	client *dockerclient.Client
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	containers map[string]string // job name -> containerID, for this run only
}

var _ executor.Executor = (*Executor)(nil)

// New connects to the Docker daemon and returns an Executor for the run
// identified by cfg.SHA.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if cfg.SHA == "" {
		return nil, fmt.Errorf("docker executor: SHA is required")
	}
	cfg.applyDefaults()

	client, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	return &Executor{
		client:     client,
		cfg:        cfg,
		logger:     logger,
		containers: make(map[string]string),
	}, nil
}

// Setup sweeps exited containers (and their networks) left behind by
// prior runs that are older than cfg.RetentionDays. It never touches
// artefacts whose parsed sha equals this run's sha.
func (e *Executor) Setup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -e.cfg.RetentionDays)

	listArgs := filters.NewArgs(filters.Arg("status", "exited"))
	exited, err := e.client.ContainerList(ctx, container.ListOptions{All: true, Filters: listArgs})
	if err != nil {
		e.logger.Warn("setup: listing exited containers failed", slog.String("error", err.Error()))
		return nil // cleanup errors never fail the pipeline
	}

	shasToSweep := make(map[string]bool)
	for _, c := range exited {
		for _, raw := range c.Names {
			name := trimLeadingSlash(raw)
			parsed, ok := e.sweepEligible(name, time.Unix(c.Created, 0), cutoff)
			if !ok {
				continue
			}
			if err := e.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
				e.logger.Warn("setup: removing expired container failed",
					slog.String("container", name), slog.String("error", err.Error()))
				continue
			}
			shasToSweep[parsed.SHA] = true
		}
	}

	for sha := range shasToSweep {
		netName := fmt.Sprintf("%s__%s__%s", e.cfg.Prefix, ident.KindNet, sha)
		if err := e.client.NetworkRemove(ctx, netName); err != nil {
			e.logger.Debug("setup: removing expired network failed",
				slog.String("network", netName), slog.String("error", err.Error()))
		}
	}

	return nil
}

// CreateNetwork idempotently ensures the per-run bridge network exists,
// making up to cfg.NetworkCreateRetries attempts in total before
// returning a FatalError.
func (e *Executor) CreateNetwork(ctx context.Context) error {
	name := e.netName()

	var lastErr error
	for attempt := 0; attempt < e.cfg.NetworkCreateRetries; attempt++ {
		existing, err := e.client.NetworkList(ctx, network.ListOptions{
			Filters: filters.NewArgs(filters.Arg("name", name)),
		})
		if err == nil {
			for _, n := range existing {
				if n.Name == name {
					return nil
				}
			}
			if _, err := e.client.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"}); err == nil {
				return nil
			} else {
				lastErr = err
			}
		} else {
			lastErr = err
		}
	}
	return &pipeline.FatalError{Err: fmt.Errorf("create network %s after %d attempts: %w", name, e.cfg.NetworkCreateRetries, lastErr)}
}

// Run launches job as a detached container on the per-run network.
// Calling Run on a job already RUNNING or terminal is a no-op.
func (e *Executor) Run(ctx context.Context, job *pipeline.Job) (string, error) {
	if job.State.Status == pipeline.StatusRunning || job.State.Status.IsTerminal() {
		return job.State.RunID, nil
	}

	if err := e.PullImage(ctx, job.Image); err != nil {
		return "", &pipeline.TriggerFailed{Job: job.Name, Err: err}
	}

	name := ident.Create(e.cfg.Prefix, ident.KindJob, e.cfg.SHA, job.Name)

	env := e.mergedEnv(job)
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envList)

	binds := []string{}
	if e.cfg.WorkspaceHostPath != "" {
		binds = append(binds, fmt.Sprintf("%s:%s", e.cfg.WorkspaceHostPath, e.cfg.WorkspaceContainerPath))
	}
	binds = append(binds, e.cfg.ExtraVolumes...)

	containerCfg := &container.Config{
		Image: job.Image,
		Env:   envList,
	}
	if job.Command != "" {
		containerCfg.Cmd = []string{"/bin/sh", "-c", job.Command}
	}
	if !job.IsService {
		containerCfg.WorkingDir = e.cfg.WorkspaceContainerPath
	}

	hostCfg := &container.HostConfig{Binds: binds}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			name.Related(ident.KindNet): {},
		},
	}

	resp, err := e.client.ContainerCreate(ctx, containerCfg, hostCfg, netCfg, nil, name.Raw)
	if err != nil {
		return "", &pipeline.TriggerFailed{Job: job.Name, Err: fmt.Errorf("container create: %w", err)}
	}

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", &pipeline.TriggerFailed{Job: job.Name, Err: fmt.Errorf("container start: %w", err)}
	}

	e.mu.Lock()
	e.containers[job.Name] = resp.ID
	e.mu.Unlock()

	e.logger.Info("job container started",
		slog.String("job", job.Name),
		slog.String("containerID", resp.ID),
	)

	return resp.ID, nil
}

// GetStatus inspects the container identified by runID and returns its
// raw state, including accumulated logs. A "zero time" finished-at is
// normalized to nil.
func (e *Executor) GetStatus(ctx context.Context, runID string) (executor.RawState, error) {
	info, err := e.client.ContainerInspect(ctx, runID)
	if err != nil {
		return executor.RawState{}, &pipeline.InspectTransient{Job: runID, Err: err}
	}

	logsReader, err := e.client.ContainerLogs(ctx, runID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	var logs string
	if err == nil {
		defer logsReader.Close()
		if b, readErr := io.ReadAll(logsReader); readErr == nil {
			logs = string(b)
		}
	}

	startedAt := parseDockerTime(info.State.StartedAt)
	finishedAt := parseDockerTime(info.State.FinishedAt)

	return executor.RawState{
		IsRunning:  info.State.Running,
		ExitCode:   info.State.ExitCode,
		Logs:       logs,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

// Stop stops the container identified by runID with the configured grace
// period, best-effort.
func (e *Executor) Stop(ctx context.Context, runID string) error {
	timeoutSeconds := int(e.cfg.StopGrace.Seconds())
	return e.client.ContainerStop(ctx, runID, container.StopOptions{Timeout: &timeoutSeconds})
}

// Teardown stops every container this run launched, then removes the
// per-run network. It tolerates partial prior teardown and is idempotent.
func (e *Executor) Teardown(ctx context.Context) error {
	e.mu.Lock()
	snapshot := make(map[string]string, len(e.containers))
	for k, v := range e.containers {
		snapshot[k] = v
	}
	e.mu.Unlock()

	var firstErr error
	for jobName, id := range snapshot {
		if err := e.Stop(ctx, id); err != nil {
			e.logger.Warn("teardown: stop failed, retrying with force remove",
				slog.String("job", jobName), slog.String("error", err.Error()))
		}
		if err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Error("teardown: remove failed",
				slog.String("job", jobName), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	e.mu.Lock()
	clear(e.containers)
	e.mu.Unlock()

	if err := e.client.NetworkRemove(ctx, e.netName()); err != nil {
		e.logger.Debug("teardown: network remove failed (may already be gone)",
			slog.String("network", e.netName()), slog.String("error", err.Error()))
	}

	return firstErr
}

// sweepEligible decides whether an exited container may be removed by
// the retention sweep: it must carry this engine's prefix, belong to a
// run other than the current one, and be older than the cutoff.
func (e *Executor) sweepEligible(name string, createdAt, cutoff time.Time) (ident.Name, bool) {
	parsed, ok := ident.Parse(e.cfg.Prefix, name)
	if !ok || parsed.SHA == e.cfg.SHA {
		return ident.Name{}, false
	}
	if createdAt.After(cutoff) {
		return ident.Name{}, false
	}
	return parsed, true
}

func (e *Executor) netName() string {
	return ident.Create(e.cfg.Prefix, ident.KindNet, e.cfg.SHA, "").Raw
}

func (e *Executor) mergedEnv(job *pipeline.Job) map[string]string {
	env := make(map[string]string, len(e.cfg.ProcessEnv)+len(job.Env))
	for k, v := range e.cfg.ProcessEnv {
		env[k] = v
	}
	for k, v := range job.Env {
		env[k] = v
	}
	for k, v := range job.ExtraOpts {
		env[k] = v
	}
	env["REPO_SHA"] = e.cfg.SHA
	return env
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

func parseDockerTime(s string) *time.Time {
	if s == "" || s == "0001-01-01T00:00:00Z" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// PullImage pulls img, draining and closing the pull stream so the
// image is fully downloaded before returning. Run calls this before
// every container create, since jobs in the same pipeline commonly use
// different images.
func (e *Executor) PullImage(ctx context.Context, img string) error {
	e.logger.Debug("pulling image", slog.String("image", img))

	pull, err := e.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull %s: %w", img, err)
	}
	if _, err := io.ReadAll(pull); err != nil {
		return fmt.Errorf("reading image pull response: %w", err)
	}
	return pull.Close()
}
