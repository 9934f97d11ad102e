// Command pixel-demo drives a tracker against a collector. It tracks a
// synthetic page view every second and flushes on SIGINT or SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SebastienMelki/pixel/sdk/pixel"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg, err := pixel.ConfigFromEnv()
	if err != nil {
		logger.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	tracker, err := pixel.New(cfg, pixel.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create tracker", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tracker.RegisterProducer("page_view", func() (*pixel.Payload, error) {
		return pixel.NewPayload().
			Set("path", "/demo").
			Set("uptime_ms", time.Since(start).Milliseconds()), nil
	}); err != nil {
		logger.Error("failed to register producer", "error", err)
		os.Exit(1)
	}

	if err := tracker.Start(context.Background()); err != nil {
		logger.Error("failed to start tracker", "error", err)
		os.Exit(1)
	}

	logger.Info("pixel demo running",
		"endpoint", cfg.Endpoint,
		"client_id", cfg.ClientID,
		"visitor_id", tracker.VisitorID(),
	)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("flushing before exit", "buffered", tracker.Buffered())
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := tracker.Flush(flushCtx)
			cancel()
			if err != nil {
				logger.Error("flush failed", "error", err)
				os.Exit(1)
			}
			logger.Info("pixel demo stopped",
				"dropped", tracker.Dropped(),
				"send_errors", tracker.SendErrors(),
			)
			return
		case <-ticker.C:
			if _, err := tracker.Emit("page_view"); err != nil {
				logger.Warn("emit failed", "error", err)
			}
		}
	}
}

var start = time.Now()
