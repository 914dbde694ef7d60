package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/artpar/dahlia-deploy/internal/shell/actionlog"
	"github.com/artpar/dahlia-deploy/internal/shell/metrics"
	"github.com/artpar/dahlia-deploy/internal/shell/pipeline"
	"github.com/artpar/dahlia-deploy/internal/shell/store"
)

// Environments accepted by --environment.
var allowedEnvironments = []string{"development", "staging", "production"}

// stageTitles are the step names reported when a full deployment stops.
var stageTitles = map[domain.StageName]string{
	domain.StageBuild:   "Build Application",
	domain.StagePackage: "Build Docker Image",
	domain.StageDeploy:  "Deploy Container",
	domain.StageVerify:  "Health Check",
}

const (
	defaultConfigPath = "deployment.json"
	defaultLogOutput  = "deployment_log.json"

	// pushTimeout bounds the Pushgateway request after a run.
	pushTimeout = 10 * time.Second
)

type rootOptions struct {
	action      string
	environment string
	configPath  string
	logOutput   string
}

func (a *app) newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dahlia-deploy",
		Short: "Dahlia deployment manager",
		Long: `Build, package, deploy and verify the Dahlia application.

Every step is recorded in an action log that is written as JSON when the
run finishes, whether it succeeded or not.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPipeline(cmd.Context(), opts)
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	actions := make([]string, len(domain.Actions))
	for i, act := range domain.Actions {
		actions[i] = string(act)
	}
	cmd.Flags().StringVar(&opts.action, "action", string(domain.ActionFull),
		"deployment action ("+strings.Join(actions, "|")+")")
	cmd.Flags().StringVar(&opts.environment, "environment", "development",
		"target environment ("+strings.Join(allowedEnvironments, "|")+")")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "deployment configuration file")
	cmd.Flags().StringVar(&opts.logOutput, "log-output", defaultLogOutput, "action log output file")

	cmd.AddCommand(
		a.newAnalyzeCmd(),
		a.newHistoryCmd(&opts.configPath),
		a.newServeCmd(&opts.configPath),
		a.newVersionCmd(),
	)
	return cmd
}

// =============================================================================
// Pipeline Command
// =============================================================================

func (a *app) runPipeline(ctx context.Context, opts *rootOptions) error {
	action, err := domain.ParseAction(opts.action)
	if err != nil {
		return &UsageError{Err: fmt.Errorf("invalid --action: %w", err)}
	}
	if !slices.Contains(allowedEnvironments, opts.environment) {
		return usageErrorf("invalid --environment %q (choose from %s)",
			opts.environment, strings.Join(allowedEnvironments, ", "))
	}

	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return a.configError(opts.logOutput, err)
	}
	settings, err := cfg.Settings()
	if err != nil {
		return a.configError(opts.logOutput, err)
	}

	logger := SetupLogger(cfg, a.stderr)
	logger.Info("starting dahlia-deploy",
		"version", Version,
		"config", cfg.Source,
		"action", action,
		"environment", opts.environment,
	)

	registry, m := metrics.NewRegistry()
	stages := action.Stages()

	deps, release, err := a.buildDeps(ctx, settings, stages, logger)
	defer release()
	if err != nil {
		if exportErr := a.exportLog(opts.logOutput, nil); exportErr != nil {
			logger.Error("failed to export action log", "error", exportErr)
		}
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	deps.Observers = append(deps.Observers,
		actionlog.NewConsole(a.stdout),
		actionlog.NewSlogObserver(logger),
		m,
	)

	fmt.Fprintln(a.stdout, "Dahlia Deployment Manager")
	if action == domain.ActionFull {
		fmt.Fprintf(a.stdout, "Starting full deployment to %s\n", opts.environment)
	}

	orch := pipeline.NewOrchestrator(settings, deps)
	run := orch.Execute(ctx, opts.environment, stages)

	if action == domain.ActionFull {
		if run.Succeeded {
			fmt.Fprintln(a.stdout, "Deployment completed successfully!")
		} else {
			fmt.Fprintf(a.stdout, "Deployment failed at step: %s\n", stageTitles[run.FailedStage])
		}
	}

	records := orch.Records()
	if err := a.exportLog(opts.logOutput, records); err != nil {
		return fmt.Errorf("failed to export action log: %w", err)
	}

	m.ObserveRun(run)
	a.saveHistory(ctx, cfg, run, records, logger)
	a.pushMetrics(ctx, cfg, registry, logger)

	if !run.Succeeded {
		return errPipelineFailed
	}
	return nil
}

// configError writes the empty action log before reporting err; the log is
// written on every exit once the flags are valid.
func (a *app) configError(logOutput string, err error) error {
	if exportErr := a.exportLog(logOutput, nil); exportErr != nil {
		fmt.Fprintf(a.stderr, "failed to export action log: %v\n", exportErr)
	}
	return fmt.Errorf("configuration error: %w", err)
}

func (a *app) exportLog(path string, records []domain.ActionRecord) error {
	if err := actionlog.ExportFile(path, records); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Deployment log exported to %s\n", path)
	return nil
}

// saveHistory stores the run when history is enabled. Failures are logged only.
func (a *app) saveHistory(ctx context.Context, cfg *Config, run domain.PipelineRun, records []domain.ActionRecord, logger *slog.Logger) {
	if cfg.History.DSN == "" {
		return
	}
	s, err := store.NewSQLiteStore(cfg.History.DSN)
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		return
	}
	defer s.Close()

	if err := s.SaveRun(context.WithoutCancel(ctx), run, records); err != nil {
		logger.Error("failed to save run history", "run_id", run.ID, "error", err)
		return
	}
	logger.Debug("run saved to history", "run_id", run.ID)
}

// pushMetrics sends the run metrics to the Pushgateway when configured.
// Failures are logged only.
func (a *app) pushMetrics(ctx context.Context, cfg *Config, registry prometheus.Gatherer, logger *slog.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, registry); err != nil {
		logger.Warn("failed to push metrics", "error", err)
		return
	}
	logger.Debug("metrics pushed", "url", cfg.Metrics.PushgatewayURL, "job", cfg.Metrics.Job)
}
