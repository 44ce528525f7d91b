package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jayporeci/engine/internal/buildinfo"
	"github.com/jayporeci/engine/internal/config"
	"github.com/jayporeci/engine/internal/health"
	"github.com/jayporeci/engine/internal/otelsetup"
	"github.com/jayporeci/engine/internal/reporter"
	"github.com/jayporeci/engine/internal/scheduler"
)

var cfgPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jayporeci",
	Short: "container-based CI pipeline engine",
	Long: `jayporeci drives a DAG of container jobs to completion, publishing
status to a reporting platform as it goes.

Configuration is read from a YAML file (--config); the pipeline itself
is declared under its "pipeline.stages" key.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the configured pipeline to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()
		return runPipeline(ctx)
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "sweep exited containers and networks left behind by prior runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClean(cmd.Context())
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "print the configured pipeline as a mermaid dependency graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("jayporeci %s (%s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildTime)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "jayporeci.yaml", "Path to YAML configuration file")
	rootCmd.AddCommand(runCmd, cleanCmd, graphCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runPipeline(ctx context.Context) error {
	// -----------------------------------------------------------------
	// 1. Load configuration
	// -----------------------------------------------------------------
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// -----------------------------------------------------------------
	// 2. Create logger
	// -----------------------------------------------------------------
	logger := cfg.NewLogger()
	logger.Info("configuration loaded",
		slog.String("configFile", cfgPath),
		slog.String("platform", cfg.Platform.EnabledPlatform()),
	)

	// -----------------------------------------------------------------
	// 3. Observability
	// -----------------------------------------------------------------
	shutdownOTel, err := otelsetup.SetupOTelSDK(ctx, "jayporeci", otelsetup.Config{
		Enabled:        cfg.OTel.Enabled,
		Endpoint:       cfg.OTel.Endpoint,
		Insecure:       cfg.OTel.Insecure,
		StdOut:         cfg.OTel.StdOut,
		PrometheusPort: prometheusPort(cfg),
	})
	if err != nil {
		return fmt.Errorf("setting up otel: %w", err)
	}
	defer func() {
		if err := shutdownOTel(context.WithoutCancel(ctx)); err != nil {
			logger.Error("otel shutdown", slog.String("error", err.Error()))
		}
	}()

	healthSrv := startHealthServer(logger)
	if healthSrv != nil {
		defer healthSrv.Shutdown(context.WithoutCancel(ctx))
	}

	// -----------------------------------------------------------------
	// 4. Repo identity
	// -----------------------------------------------------------------
	repoInfo, err := cfg.NewRepo(ctx)
	if err != nil {
		return fmt.Errorf("reading repo: %w", err)
	}
	logger.Info("repo resolved",
		slog.String("sha", repoInfo.SHA()),
		slog.String("branch", repoInfo.Branch),
	)

	// -----------------------------------------------------------------
	// 5. Build the pipeline
	// -----------------------------------------------------------------
	pipe, err := cfg.BuildPipeline(repoInfo)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	// -----------------------------------------------------------------
	// 6. Executor
	// -----------------------------------------------------------------
	exec, err := cfg.NewExecutor(repoInfo.SHA(), logger)
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}

	// -----------------------------------------------------------------
	// 7. Platform
	// -----------------------------------------------------------------
	plat, err := cfg.NewPlatform(ctx, repoInfo)
	if err != nil {
		return fmt.Errorf("creating platform: %w", err)
	}

	// -----------------------------------------------------------------
	// 8. Run
	// -----------------------------------------------------------------
	sched := scheduler.New(scheduler.Config{
		Pipeline:      pipe,
		Executor:      exec,
		Platform:      plat,
		Logger:        logger.WithGroup("scheduler"),
		WorkspacePath: cfg.Executor.Docker.WorkspaceHostPath,
	})

	logger.Info("starting scheduler")
	return sched.Run(ctx)
}

func runClean(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()

	repoInfo, err := cfg.NewRepo(ctx)
	if err != nil {
		return fmt.Errorf("reading repo: %w", err)
	}

	exec, err := cfg.NewExecutor(repoInfo.SHA(), logger)
	if err != nil {
		return fmt.Errorf("creating executor: %w", err)
	}

	logger.Info("sweeping prior-run artefacts")
	return exec.Setup(ctx)
}

func runGraph(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repoInfo, err := cfg.NewRepo(ctx)
	if err != nil {
		return fmt.Errorf("reading repo: %w", err)
	}

	pipe, err := cfg.BuildPipeline(repoInfo)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	fmt.Println(reporter.RenderMermaid(pipe))
	return nil
}

func prometheusPort(cfg *config.Config) int {
	if !cfg.Prometheus.Enable {
		return 0
	}
	return cfg.Prometheus.Port
}

func startHealthServer(logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Handler("docker"))
	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", slog.String("error", err.Error()))
		}
	}()
	return srv
}
