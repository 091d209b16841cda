package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/river-flow-aggregation/internal/api/http"
	"github.com/i474232898/river-flow-aggregation/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	sched := scheduler.New(p.orchestrator, cfg.RefreshInterval, cfg.RefreshCron)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := httpapi.NewApp(p.orchestrator, nil)
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zap.L().Error("fiber server stopped", zap.Error(err))
			stop()
		}
	}()
	zap.L().Info("listening", zap.String("port", cfg.Port))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zap.L().Warn("error during shutdown", zap.Error(err))
	}
	return nil
}
