package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/metrics/export/prometheus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// engineSet sums the metrics of several engines so one scrape covers every
// engine the process runs.
type engineSet struct {
	mu      sync.RWMutex
	engines []*healthauth.Engine
}

func (s *engineSet) Add(e *healthauth.Engine) {
	s.mu.Lock()
	s.engines = append(s.engines, e)
	s.mu.Unlock()
}

func (s *engineSet) MetricsSnapshot() healthauth.MetricsSnapshot {
	out := healthauth.MetricsSnapshot{
		Counters:   map[healthauth.MetricID]uint64{},
		Histograms: map[healthauth.MetricID][]uint64{},
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.engines {
		snap := e.MetricsSnapshot()
		for id, v := range snap.Counters {
			out.Counters[id] += v
		}
		for id, buckets := range snap.Histograms {
			sum := out.Histograms[id]
			if len(sum) < len(buckets) {
				sum = append(sum, make([]uint64, len(buckets)-len(sum))...)
			}
			for i, v := range buckets {
				sum[i] += v
			}
			out.Histograms[id] = sum
		}
	}
	return out
}

func (s *engineSet) AuditDropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n uint64
	for _, e := range s.engines {
		n += e.AuditDropped()
	}
	return n
}

// newMetricsRouter serves Prometheus metrics for source and a health check
// that pings Redis.
func newMetricsRouter(source prometheus.Source, rdb redis.UniversalClient) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", prometheus.New(source).Handler())
	return r
}

// serveMetrics runs an HTTP server on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, h http.Handler, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	if ready != nil {
		ready(ln.Addr())
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newServeMetricsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve engine metrics and a Redis health check over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.settings.Metrics.Addr
			}
			return app.withRuntime(ctx, func(rt *runtime) error {
				set := &engineSet{}
				set.Add(rt.engine)
				return serveMetrics(ctx, addr, newMetricsRouter(set, rt.rdb), func(a net.Addr) {
					rt.log.Info("serving metrics", "addr", a.String())
				})
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default metrics.addr)")
	return cmd
}
