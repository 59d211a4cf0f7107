package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jengzang/geotrust/internal/api"
	"github.com/jengzang/geotrust/internal/catalog"
	"github.com/jengzang/geotrust/internal/middleware"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	idleSweepInterval    = time.Minute
	limiterSweepInterval = 5 * time.Minute
	shutdownTimeout      = 10 * time.Second
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Regions.CatalogPath != "" {
			regions, err := catalog.FileProvider{Path: cfg.Regions.CatalogPath}.Regions(ctx)
			if err != nil {
				return err
			}
			res, err := env.Services.Regions.Import(ctx, regions)
			if err != nil {
				return err
			}
			zap.L().Info("region catalog imported",
				zap.String("path", cfg.Regions.CatalogPath),
				zap.Int("imported", res.Imported),
				zap.Int("rejected", len(res.Rejected)),
			)
		}

		limiter := middleware.NewRateLimiter(cfg.RateLimit, limiterSweepInterval)
		go limiter.SweepLoop(ctx, limiterSweepInterval)
		go env.Services.Visits.CloseIdleLoop(ctx, idleSweepInterval, cfg.Visits.IdleTimeout)
		go env.Services.Ingest.SweepSessionsLoop(ctx, idleSweepInterval, cfg.Trajectory.IdleTimeout)

		router := api.SetupRouter(cfg.Server.Mode, env.Services, limiter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Int("regions", env.Services.Regions.Count()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
