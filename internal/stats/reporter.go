package stats

import (
	"context"
	"time"

	units "github.com/docker/go-units"
	"go.uber.org/zap"
)

// ReportInterval is the period both observability loops run at (spec §4.7).
const ReportInterval = 5 * time.Second

// DegradedFailureThreshold is the rolling failure ratio above which the
// health monitor starts counting toward degraded_mode.
const DegradedFailureThreshold = 0.5

// DegradedEnterAt is the health_failures level that pushes the proxy into
// degraded_mode. Each bad window adds one and each good window takes one
// away (never below zero), so the level counts net bad windows.
const DegradedEnterAt = 10

// downEWMAAlpha is the traffic reporter's smoothing factor for the
// downstream speed moving average.
const downEWMAAlpha = 0.2

// RunTrafficReporter implements C7's traffic reporter: every ReportInterval
// it computes KB/s for both directions from the windowed counters, updates
// the downstream EWMA and peak, logs a human-readable line, and resets the
// windowed byte counters for the next window.
func RunTrafficReporter(ctx context.Context, c *Counters, log *zap.Logger) {
	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			up := c.TrafficUp.Swap(0)
			down := c.TrafficDown.Swap(0)

			secs := ReportInterval.Seconds()
			upKBps := float64(up) / 1024 / secs
			downKBps := float64(down) / 1024 / secs

			prevAvg := c.AvgSpeedKBps.Load()
			newAvg := downEWMAAlpha*downKBps + (1-downEWMAAlpha)*prevAvg
			c.AvgSpeedKBps.Store(newAvg)

			if downKBps > c.PeakSpeedKBps.Load() {
				c.PeakSpeedKBps.Store(downKBps)
			}

			log.Info("traffic",
				zap.String("up", units.BytesSize(float64(up))),
				zap.String("down", units.BytesSize(float64(down))),
				zap.Float64("up_kbps", upKBps),
				zap.Float64("down_kbps", downKBps),
				zap.Float64("avg_down_kbps", newAvg),
				zap.Float64("peak_down_kbps", c.PeakSpeedKBps.Load()),
				zap.Int64("active_connections", c.ActiveConnections.Load()),
			)
		}
	}
}

// RunHealthMonitor implements C7's health monitor: every ReportInterval it
// inspects the rolling success/failure ratio and walks health_failures
// toward degraded_mode or back down, emitting a warning/recovery notice
// exactly once on each transition (spec §4.7).
func RunHealthMonitor(ctx context.Context, c *Counters, log *zap.Logger) {
	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()

	var prevSuccess, prevFailed uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			success := c.SuccessConnections.Load()
			failed := c.FailedConnections.Load()
			dSuccess := success - prevSuccess
			dFailed := failed - prevFailed
			prevSuccess, prevFailed = success, failed

			total := dSuccess + dFailed
			badWindow := total > 0 && float64(dFailed)/float64(total) > DegradedFailureThreshold

			if badWindow {
				n := c.HealthFailures.Add(1)
				if n >= DegradedEnterAt && !c.Degraded.Load() {
					c.Degraded.Store(true)
					log.Warn("entering degraded mode",
						zap.Int64("health_failures", n),
						zap.Uint64("failed_connections", failed),
						zap.Uint64("success_connections", success),
					)
				}
				continue
			}

			n := c.HealthFailures.Load()
			if n > 0 {
				n = c.HealthFailures.Add(-1)
			}
			if n <= 0 && c.Degraded.Load() {
				c.Degraded.Store(false)
				log.Info("recovered from degraded mode")
			}
		}
	}
}
