package main

import (
	"github.com/spf13/cobra"
)

func (a *app) newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history API",
		Long: `Serve stored pipeline runs over HTTP until interrupted.

Requires history.dsn. Exposes /health, /api/v1/runs, /api/v1/runs/{id}
and /metrics.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return &ServerError{Op: "LoadConfig", Err: err, ExitCode: ExitConfigError}
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			logger := SetupLogger(cfg, a.stderr)
			logger.Info("starting dahlia-deploy history server", "version", Version, "config", cfg.Source)

			server, err := NewServer(cfg, logger)
			if err != nil {
				return err
			}
			return server.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	return cmd
}
