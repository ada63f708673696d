package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldrun/fieldrun/internal/executor"
)

// preflight checks that the executor endpoint answers before the service
// starts taking traffic.
//
// Fails softly. The executor is often started after this service in the
// field (the automation host boots slower), so an unreachable executor at
// startup is a warning, never fatal: jobs simply fail and get retried once
// it comes up.
func preflight(client *executor.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		slog.Warn("preflight: executor unreachable, jobs will fail until it comes up", "error", err)
		return
	}
	slog.Info("preflight: executor reachable")
}
