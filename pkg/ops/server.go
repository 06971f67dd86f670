package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-orders/pkg/instance"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

const (
	checkTimeout    = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

type Options struct {
	Service  string
	Env      string
	Logger   *logger.Logger
	Gatherer prometheus.Gatherer
	Checks   map[string]Check
}

type healthResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Instance string            `json:"instance"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// NewRouter serves /healthz and /metrics for a worker process.
func NewRouter(opts Options) http.Handler {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(recoverer(logg))
	r.Get("/healthz", healthHandler(opts, logg))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func healthHandler(opts Options, logg *logger.Logger) http.HandlerFunc {
	names := make([]string, 0, len(opts.Checks))
	for name := range opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	instanceID := instance.GetID(opts.Service)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Service: opts.Service, Instance: instanceID, Checks: map[string]string{}}
		status := http.StatusOK
		for _, name := range names {
			if err := opts.Checks[name](ctx); err != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{"check": name, "error": err.Error()}), "health check failed")
				resp.Checks[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "up"
		}

		if opts.Env != "" {
			w.Header().Set("X-Marketplace-Env", opts.Env)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					ctx := logg.WithFields(r.Context(), map[string]any{"panic": rec})
					logg.Error(ctx, "panic.recovered", fmt.Errorf("panic: %v", rec))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Serve runs the ops listener until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler, logg *logger.Logger) error {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", addr), "ops listener started")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops listener shutdown: %w", err)
		}
		return nil
	}
}
