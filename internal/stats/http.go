// Admin/observability HTTP surface (C10): GET /healthz, /stats, /metrics.
// Entirely optional — the tunneling core never calls into this file, and a
// proxy run without -admin behaves identically.
package stats

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// Router builds the admin HTTP surface reading from c.
func Router(c *Counters) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://127.0.0.1:*", "http://localhost:*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if c.Degraded.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("degraded\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, c.Snapshot())
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeMetrics(w, c.Snapshot())
	})

	return r
}

func writeMetrics(w http.ResponseWriter, s Snapshot) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	vals := map[string]float64{
		"secureproxyws_traffic_up_bytes":          float64(s.TrafficUp),
		"secureproxyws_traffic_down_bytes":        float64(s.TrafficDown),
		"secureproxyws_active_connections":        float64(s.ActiveConnections),
		"secureproxyws_success_connections_total":  float64(s.SuccessConnections),
		"secureproxyws_failed_connections_total":  float64(s.FailedConnections),
		"secureproxyws_timeout_connections_total": float64(s.TimeoutConnections),
		"secureproxyws_buffer_overflows_total":    float64(s.BufferOverflows),
		"secureproxyws_drain_operations_total":    float64(s.DrainOperations),
		"secureproxyws_total_bytes":               float64(s.TotalBytes),
		"secureproxyws_peak_speed_kbps":           s.PeakSpeedKBps,
		"secureproxyws_avg_speed_kbps":            s.AvgSpeedKBps,
		"secureproxyws_health_failures":           float64(s.HealthFailures),
		"secureproxyws_degraded_mode":             boolToFloat(s.Degraded),
	}

	names := make([]string, 0, len(vals))
	for name := range vals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s %v\n", name, vals[name])
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
