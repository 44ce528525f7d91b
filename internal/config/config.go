// Package config handles loading, validating, and applying
// configuration for the jayporeci engine. Configuration is read from a
// YAML file; the only CLI flag involved is --config, which picks the file.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jayporeci/engine/internal/executor"
	"github.com/jayporeci/engine/internal/executor/docker"
	"github.com/jayporeci/engine/internal/pipeline"
	"github.com/jayporeci/engine/internal/platform"
	"github.com/jayporeci/engine/internal/platform/console"
	"github.com/jayporeci/engine/internal/platform/email"
	"github.com/jayporeci/engine/internal/platform/github"
	"github.com/jayporeci/engine/internal/platform/throttle"
	"github.com/jayporeci/engine/internal/repo"
)

// jayporeEnvPrefix is the process-wide environment namespace propagated
// into every job, with the prefix stripped, lowest precedence.
const jayporeEnvPrefix = "JAYPORE_"

// ---------------------------------------------------------------------------
// Top-level config
// ---------------------------------------------------------------------------

// Config is the root configuration structure.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Platform   PlatformConfig   `yaml:"platform"`
	Reporter   ReporterConfig   `yaml:"reporter"`
	Logging    LoggingConfig    `yaml:"logging"`
	OTel       OTelConfig       `yaml:"otel"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// PipelineConfig holds pipeline-wide defaults and the repo location the
// pipeline is running against.
type PipelineConfig struct {
	// RepoRoot is the directory containing the .git checkout this run
	// operates on. Default: REPO_ROOT env var, else ".".
	RepoRoot string `yaml:"repo_root"`
	// RemoteName is the git remote read for RemoteInfo. Default: "origin".
	RemoteName string `yaml:"remote_name"`

	DefaultImage   string            `yaml:"default_image"`
	PollInterval   time.Duration     `yaml:"poll_interval"`
	DefaultTimeout time.Duration     `yaml:"default_timeout"`
	DefaultEnv     map[string]string `yaml:"default_env"`
	NamePrefix     string            `yaml:"name_prefix"`

	// Stages is a direct YAML encoding of the Builder calls a caller
	// would otherwise make in Go: one entry per pipeline.Builder.Stage
	// call, each holding the pipeline.Builder.Job calls for that stage.
	// This is not a pipeline-definition language of its own -- there is
	// no templating, expression evaluation, or conditional logic, only a
	// literal field-for-field mirror of JobDefaults/JobSpec, so cmd/jayporeci
	// run has a real pipeline to drive without requiring every caller to
	// write Go.
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig is the YAML form of a Builder.Stage call plus its jobs.
type StageConfig struct {
	Name    string            `yaml:"name"`
	Image   string            `yaml:"image"`
	Timeout time.Duration     `yaml:"timeout"`
	Env     map[string]string `yaml:"env"`
	Jobs    []JobConfig       `yaml:"jobs"`
}

// JobConfig is the YAML form of a Builder.Job call's pipeline.JobSpec.
type JobConfig struct {
	Name      string            `yaml:"name"`
	Command   string            `yaml:"command"`
	Image     string            `yaml:"image"`
	IsService bool              `yaml:"is_service"`
	Timeout   time.Duration     `yaml:"timeout"`
	Env       map[string]string `yaml:"env"`
	After     []string          `yaml:"after"`
}

// ---------------------------------------------------------------------------
// Executor
// ---------------------------------------------------------------------------

// ExecutorConfig selects and configures the job-execution backend.
// Docker is the only backend this module ships; the shape mirrors the
// multi-backend selector pattern even though only one arm is wired, so
// a second backend can be added the same way without reshaping Config.
type ExecutorConfig struct {
	Docker DockerExecutorConfig `yaml:"docker"`
}

// DockerExecutorConfig mirrors docker.Config, minus the fields that are
// only known at run time (SHA, ProcessEnv) and Prefix, which is taken
// from pipeline.name_prefix.
type DockerExecutorConfig struct {
	WorkspaceHostPath      string        `yaml:"workspace_host_path"`
	WorkspaceContainerPath string        `yaml:"workspace_container_path"`
	ExtraVolumes           []string      `yaml:"extra_volumes"`
	RetentionDays          int           `yaml:"retention_days"`
	StopGrace              time.Duration `yaml:"stop_grace"`
	NetworkCreateRetries   int           `yaml:"network_create_retries"`
}

// ---------------------------------------------------------------------------
// Platform
// ---------------------------------------------------------------------------

// PlatformConfig selects and configures where reports are published.
// Exactly one of Console/GitHub/Email must be enabled.
type PlatformConfig struct {
	Console ConsolePlatformConfig `yaml:"console"`
	GitHub  GitHubPlatformConfig  `yaml:"github"`
	Email   EmailPlatformConfig   `yaml:"email"`

	// ThrottleInterval bounds non-terminal publish frequency. Default:
	// throttle.DefaultInterval.
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
}

// ConsolePlatformConfig enables the console platform.
type ConsolePlatformConfig struct {
	Enable bool `yaml:"enable"`
}

// GitHubPlatformConfig enables the GitHub commit-status/comment
// platform. Credentials (GITHUB_TOKEN, GITHUB_PR_NUMBER) are read from
// the environment by platform/github.FromEnv.
type GitHubPlatformConfig struct {
	Enable bool `yaml:"enable"`
}

// EmailPlatformConfig enables the SMTP email platform. Connection
// details (SMTP_HOST, SMTP_PORT, ...) are read from the environment by
// platform/email.FromEnv.
type EmailPlatformConfig struct {
	Enable bool `yaml:"enable"`
}

// EnabledPlatform returns the name of the enabled platform ("console",
// "github", or "email"), or an empty string if none is enabled.
func (p *PlatformConfig) EnabledPlatform() string {
	if p.Console.Enable {
		return "console"
	}
	if p.GitHub.Enable {
		return "github"
	}
	if p.Email.Enable {
		return "email"
	}
	return ""
}

// ---------------------------------------------------------------------------
// Reporter
// ---------------------------------------------------------------------------

// ReporterConfig controls report rendering.
type ReporterConfig struct {
	// GraphDirection is the mermaid graph direction used by
	// reporter.RenderMermaid. Default: "TB".
	GraphDirection string `yaml:"graph_direction"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Default: info.
	Level string `yaml:"level"`
	// Format: text, json. Default: text.
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// OpenTelemetry
// ---------------------------------------------------------------------------

// OTelConfig controls OpenTelemetry tracing and metrics.
type OTelConfig struct {
	// Enabled controls whether OpenTelemetry is active. Default: false.
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP HTTP endpoint (e.g. "localhost:4318"). If
	// empty, falls back to the OTEL_EXPORTER_OTLP_ENDPOINT env var.
	Endpoint string `yaml:"endpoint"`
	// Insecure enables plain HTTP (no TLS) for OTLP export. ApplyDefaults
	// sets it to true only while OTel is disabled and no endpoint is set;
	// with Enabled true it keeps the configured value (false when unset).
	Insecure bool `yaml:"insecure"`
	// StdOut also prints traces and metrics to stdout (for debugging).
	StdOut bool `yaml:"stdout"`
}

// ---------------------------------------------------------------------------
// Prometheus
// ---------------------------------------------------------------------------

// PrometheusConfig controls the Prometheus /metrics scrape endpoint.
type PrometheusConfig struct {
	// Enable activates the Prometheus /metrics HTTP endpoint.
	Enable bool `yaml:"enable"`
	// Port is the HTTP port for the /metrics endpoint. Default: 9090.
	Port int `yaml:"port"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a YAML config file from path and returns the parsed Config.
// If the file does not exist the returned Config will contain zero
// values; Validate applies defaults itself and then reports anything
// still missing, such as an enabled platform.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing config file is not an error here; defaults fill
			// in what they can and Validate reports the rest.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills in sensible defaults for any unset fields.
func (c *Config) ApplyDefaults() {
	if c.Pipeline.RepoRoot == "" {
		if root := os.Getenv("REPO_ROOT"); root != "" {
			c.Pipeline.RepoRoot = root
		} else {
			c.Pipeline.RepoRoot = "."
		}
	}
	if c.Pipeline.RemoteName == "" {
		c.Pipeline.RemoteName = "origin"
	}
	if c.Pipeline.PollInterval == 0 {
		c.Pipeline.PollInterval = time.Second
	}
	if c.Pipeline.DefaultTimeout == 0 {
		c.Pipeline.DefaultTimeout = 15 * time.Minute
	}

	if c.Executor.Docker.WorkspaceContainerPath == "" {
		c.Executor.Docker.WorkspaceContainerPath = "/jayporeci/run"
	}
	if c.Executor.Docker.RetentionDays == 0 {
		c.Executor.Docker.RetentionDays = 7
	}
	if c.Executor.Docker.StopGrace == 0 {
		c.Executor.Docker.StopGrace = 5 * time.Second
	}
	if c.Executor.Docker.NetworkCreateRetries == 0 {
		c.Executor.Docker.NetworkCreateRetries = 3
	}

	if c.Platform.ThrottleInterval == 0 {
		c.Platform.ThrottleInterval = throttle.DefaultInterval
	}

	if c.Reporter.GraphDirection == "" {
		c.Reporter.GraphDirection = "TB"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if !c.OTel.Enabled && !c.OTel.Insecure && c.OTel.Endpoint == "" {
		c.OTel.Insecure = true
	}

	if c.Prometheus.Port == 0 {
		c.Prometheus.Port = 9090
	}
}

// Validate checks that all required fields are present and consistent.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	if c.Pipeline.RepoRoot == "" {
		return fmt.Errorf("pipeline.repo_root is required")
	}

	enabled := c.Platform.EnabledPlatform()
	if enabled == "" {
		return fmt.Errorf("at least one platform must have enable: true (supported: console, github, email)")
	}

	count := 0
	if c.Platform.Console.Enable {
		count++
	}
	if c.Platform.GitHub.Enable {
		count++
	}
	if c.Platform.Email.Enable {
		count++
	}
	if count > 1 {
		return fmt.Errorf("only one platform can be enabled at a time")
	}

	return nil
}

// ---------------------------------------------------------------------------
// Factories
// ---------------------------------------------------------------------------

// NewLogger creates a *slog.Logger from the Logging configuration.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     c.slogLevel(),
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
}

func (c *Config) slogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRepo opens the repo identified by Pipeline.RepoRoot/RemoteName.
func (c *Config) NewRepo(ctx context.Context) (*repo.Info, error) {
	return repo.FromEnv(ctx, c.Pipeline.RepoRoot, c.Pipeline.RemoteName)
}

// NewPipelineConfig builds a pipeline.Config from the loaded settings.
func (c *Config) NewPipelineConfig() pipeline.Config {
	return pipeline.Config{
		DefaultImage:   c.Pipeline.DefaultImage,
		PollInterval:   c.Pipeline.PollInterval,
		DefaultTimeout: c.Pipeline.DefaultTimeout,
		DefaultEnv:     c.Pipeline.DefaultEnv,
		NamePrefix:     c.Pipeline.NamePrefix,
		GraphDirection: c.Reporter.GraphDirection,
	}
}

// BuildPipeline constructs a *pipeline.Pipeline from Pipeline.Stages by
// replaying each stage/job entry through a pipeline.Builder, exactly as
// a caller would by hand.
func (c *Config) BuildPipeline(repo pipeline.RepoHandle) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder(repo, c.NewPipelineConfig())

	for _, sc := range c.Pipeline.Stages {
		stage, err := b.Stage(sc.Name, pipeline.JobDefaults{
			Image:   sc.Image,
			Timeout: sc.Timeout,
			Env:     sc.Env,
		})
		if err != nil {
			return nil, err
		}
		for _, jc := range sc.Jobs {
			if _, err := b.Job(stage, pipeline.JobSpec{
				Name:      jc.Name,
				Command:   jc.Command,
				Image:     jc.Image,
				IsService: jc.IsService,
				Timeout:   jc.Timeout,
				Env:       jc.Env,
				After:     jc.After,
			}); err != nil {
				return nil, err
			}
		}
	}

	return b.Build()
}

// NewExecutor builds the configured executor.Executor for the run
// identified by sha. JAYPORE_*-prefixed process environment variables
// are propagated into every job with the prefix stripped, and ENV (the
// deployment-environment selector) is passed through unchanged.
func (c *Config) NewExecutor(sha string, logger *slog.Logger) (executor.Executor, error) {
	processEnv := jayporeEnv(os.Environ())
	if env := os.Getenv("ENV"); env != "" {
		processEnv["ENV"] = env
	}
	return docker.New(docker.Config{
		SHA:                    sha,
		Prefix:                 c.Pipeline.NamePrefix,
		WorkspaceHostPath:      c.Executor.Docker.WorkspaceHostPath,
		WorkspaceContainerPath: c.Executor.Docker.WorkspaceContainerPath,
		ExtraVolumes:           c.Executor.Docker.ExtraVolumes,
		RetentionDays:          c.Executor.Docker.RetentionDays,
		StopGrace:              c.Executor.Docker.StopGrace,
		NetworkCreateRetries:   c.Executor.Docker.NetworkCreateRetries,
		ProcessEnv:             processEnv,
	}, logger.WithGroup("executor.docker"))
}

// NewPlatform builds the configured platform.Platform, wrapped in the
// throttling decorator every concrete Platform goes through.
func (c *Config) NewPlatform(ctx context.Context, info *repo.Info) (platform.Platform, error) {
	var (
		inner platform.Platform
		err   error
	)

	switch c.Platform.EnabledPlatform() {
	case "console":
		inner, err = console.FromEnv(ctx, info)
	case "github":
		inner, err = github.FromEnv(ctx, info)
	case "email":
		inner, err = email.FromEnv(ctx, info)
	default:
		return nil, fmt.Errorf("no platform is enabled")
	}
	if err != nil {
		return nil, err
	}

	return throttle.NewWithInterval(inner, c.Platform.ThrottleInterval), nil
}

// jayporeEnv extracts JAYPORE_*-prefixed entries from environ (the
// "KEY=VALUE" form os.Environ returns), stripping the prefix.
func jayporeEnv(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, jayporeEnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key = strings.TrimPrefix(key, jayporeEnvPrefix)
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
