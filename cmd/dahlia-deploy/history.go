package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
	"github.com/artpar/dahlia-deploy/internal/shell/store"
)

type historyOptions struct {
	limit       int
	offset      int
	environment string
	json        bool
}

func (a *app) newHistoryCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored pipeline runs",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	opts := &historyOptions{}

	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(cmd.Context(), *configPath, func(ctx context.Context, s store.Store) error {
				return a.listRuns(ctx, s, opts)
			})
		},
	}
	list.Flags().IntVar(&opts.limit, "limit", store.DefaultListOptions().Limit, "maximum number of runs")
	list.Flags().IntVar(&opts.offset, "offset", 0, "number of runs to skip")
	list.Flags().StringVar(&opts.environment, "environment", "", "only runs for this environment")
	list.Flags().BoolVar(&opts.json, "json", false, "output as JSON")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its action records",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("%q requires exactly one run id", cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(cmd.Context(), *configPath, func(ctx context.Context, s store.Store) error {
				return a.showRun(ctx, s, args[0], opts.json)
			})
		},
	}
	show.Flags().BoolVar(&opts.json, "json", false, "output as JSON")

	cmd.AddCommand(list, show)
	return cmd
}

// withHistory opens the configured history store for the duration of fn.
func (a *app) withHistory(ctx context.Context, configPath string, fn func(context.Context, store.Store) error) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if cfg.History.DSN == "" {
		return ErrHistoryDisabled
	}

	s, err := store.NewSQLiteStore(cfg.History.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}

func (a *app) listRuns(ctx context.Context, s store.Store, opts *historyOptions) error {
	runs, err := s.ListRuns(ctx, store.ListOptions{
		Limit:       opts.limit,
		Offset:      opts.offset,
		Environment: opts.environment,
	})
	if err != nil {
		return err
	}

	if opts.json {
		return writeIndentedJSON(a.stdout, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENVIRONMENT\tSTARTED\tDURATION\tRESULT")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.Environment,
			run.StartedAt.Local().Format(time.DateTime),
			run.Duration().Round(time.Millisecond),
			runResult(run),
		)
	}
	return w.Flush()
}

func (a *app) showRun(ctx context.Context, s store.Store, id string, asJSON bool) error {
	detail, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}

	if asJSON {
		return writeIndentedJSON(a.stdout, detail)
	}

	fmt.Fprintf(a.stdout, "Run:         %s\n", detail.ID)
	fmt.Fprintf(a.stdout, "Environment: %s\n", detail.Environment)
	fmt.Fprintf(a.stdout, "Started:     %s\n", detail.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(a.stdout, "Duration:    %s\n", detail.Duration().Round(time.Millisecond))
	fmt.Fprintf(a.stdout, "Result:      %s\n", runResult(detail.PipelineRun))
	fmt.Fprintln(a.stdout)
	for _, rec := range detail.Records {
		fmt.Fprintln(a.stdout, rec.String())
	}
	return nil
}

func runResult(run domain.PipelineRun) string {
	if run.Succeeded {
		return "succeeded"
	}
	return "failed at " + string(run.FailedStage)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
