package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lego4005/nfl-predictor-api-sub003/internal/api"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var addr, storePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only bankroll and learning snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.API.Addr
			}
			if storePath == "" {
				storePath = cfg.Store.Path
			}
			ctx := cmd.Context()
			rt, err := newApp(ctx, cfg, log, storePath)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := api.NewServer(addr, rt.store, api.WithLogger(log), api.WithGatherer(rt.registry))
			if err := srv.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			log.Info().Msg("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, defaults to api.addr")
	cmd.Flags().StringVar(&storePath, "store", "", "sqlite path, defaults to store.path")
	return cmd
}
