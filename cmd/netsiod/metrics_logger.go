package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fujinet/netsio-bridge/internal/metrics"
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
					"udp_rx", snap.UDPRx,
					"udp_tx", snap.UDPTx,
					"stream_rx", snap.StreamRx,
					"stream_tx", snap.StreamTx,
					"frontend_rx", snap.FrontEndRx,
					"frontend_tx", snap.FrontEndTx,
					"event_drops", snap.EventDrops,
					"event_kicks", snap.EventKicks,
					"reconnects", snap.Reconnects,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
