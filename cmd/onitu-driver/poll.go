package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/MontBlanc-69/onitu/internal/plug"
	"github.com/MontBlanc-69/onitu/internal/store"
)

// pollInterval is the poll period used when the service's changes_timer
// option is absent or not a positive whole number of seconds.
const pollInterval = 30 * time.Second

// runPollLoop drives a poll-with-cursor backend every changes_timer
// seconds, persisting the cursor after each full settle so a
// restart resumes rather than re-scanning the backend from scratch.
func runPollLoop(ctx context.Context, src plug.PollSource, driverKey string, p *plug.Plug, db *store.DB, logger *slog.Logger) error {
	cursor, err := db.GetDriverCursor(ctx, driverKey)
	if err != nil {
		return err
	}

	interval := pollInterval
	if services, err := db.GetServices(ctx); err == nil {
		if secs, err := strconv.Atoi(services[driverKey].Options["changes_timer"]); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		next, err := plug.RunPoll(ctx, src, cursor, func(ev plug.ChangeEvent) {
			if err := p.ApplyEvent(ctx, ev); err != nil {
				logger.Warn("applying polled change", slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		})
		if err != nil {
			logger.Warn("poll cycle failed", slog.String("error", err.Error()))
			return
		}

		cursor = next

		if err := db.PutDriverCursor(ctx, driverKey, cursor); err != nil {
			logger.Warn("persisting poll cursor", slog.String("error", err.Error()))
		}
	}

	poll()

	for {
		select {
		case <-ticker.C:
			poll()
		case <-ctx.Done():
			return nil
		}
	}
}
