// Package main is the out-of-process tool worker. The gateway's worker
// pool launches it with a JSON line protocol on stdin/stdout; it executes
// tool tasks until stdin closes.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/switchyard-ai/switchyard/internal/tools"
	"github.com/switchyard-ai/switchyard/internal/workerpool"
)

func main() {
	// Stdout carries the protocol; logs go to stderr only.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := tools.NewDefaultRegistry(tools.Deps{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	})

	if err := workerpool.Serve(ctx, os.Stdin, os.Stdout, registry, logger); err != nil {
		logger.Error("worker loop failed", "error", err)
		os.Exit(1)
	}
}
