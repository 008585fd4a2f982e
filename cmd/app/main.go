package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"shadow_exchange/internal/app"
	"shadow_exchange/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (opt-in, localhost only)
	if os.Getenv("SHADOW_PPROF") != "" {
		go func() {
			slog.Info("🕵️ Pprof server started on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	infra.PrintBanner(os.Stdout, bootstrap.Config)

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Stream, pollers and background workers
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Startup failed", slog.Any("error", err))
		bootstrap.Shutdown()
		os.Exit(1)
	}

	slog.InfoContext(ctx, "✨ Shadow Exchange fully operational. Press Ctrl+C to exit.")

	// 5. HTTP API until the shutdown signal
	err := bootstrap.Server.Run(ctx, bootstrap.Config.HTTP.Addr)
	if err != nil {
		slog.Error("HTTP server failed", slog.Any("error", err))
	}

	slog.Info("👋 Shutting down gracefully...")
	bootstrap.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
