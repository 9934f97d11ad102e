package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SebastienMelki/pixel/internal/collector"
	"github.com/SebastienMelki/pixel/internal/dedup"
	"github.com/SebastienMelki/pixel/internal/observability"
	"github.com/SebastienMelki/pixel/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Collector.Addr = serveAddr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from COLLECTOR_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg Config) error {
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	logger.Info("starting pixel collector",
		"log_level", cfg.LogLevel,
		"http_addr", cfg.Collector.Addr,
		"db_path", cfg.Collector.DBPath,
		"dedup_window", cfg.Collector.Dedup.Window,
	)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Collector.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	filter := dedup.New(cfg.Collector.Dedup, logger)
	filter.Start(ctx)
	defer filter.Stop()

	obs, err := observability.New("pixel-collector")
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	server, err := collector.NewServer(cfg.Collector, st, filter, obs, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Collector.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("observability shutdown error", "error", err)
	}

	logger.Info("collector stopped")
	return nil
}
