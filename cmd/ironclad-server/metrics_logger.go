package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgenet/ironclad/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_accepted", snap.FramesAccepted,
					"frames_rejected_cmd", snap.FramesRejectedCmd,
					"frames_rejected_global", snap.FramesRejectedGlob,
					"bytes_written", snap.BytesWritten,
					"sessions_active", snap.SessionsActive,
					"pool_hits", snap.PoolHits,
					"pool_misses", snap.PoolMisses,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
