// Package control serves the operator command surface over HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fpt/framebridge/internal/bridge"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Dispatcher runs operator commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, req bridge.Request) bridge.Response
	Status() bridge.Status
}

// Server is the HTTP control server.
type Server struct {
	addr    string
	handler http.Handler
	logger  *pkgLogger.Logger
}

// NewServer builds the router. channel, if non-nil, is mounted at /channel
// for the embedded worker; gatherer, if non-nil, is exposed at /metrics.
func NewServer(addr string, d Dispatcher, channel http.Handler, gatherer prometheus.Gatherer, logger *pkgLogger.Logger) *Server {
	s := &Server{addr: addr, logger: logger.WithComponent("control")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if channel != nil {
		r.Handle("/channel", channel)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, d.Status())
		})
		r.Get("/actions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, bridge.Actions)
		})
		r.Post("/commands/{action}", func(w http.ResponseWriter, req *http.Request) {
			action := chi.URLParam(req, "action")
			resp := d.Dispatch(req.Context(), bridge.Request{Action: action})
			status := http.StatusOK
			if !slices.Contains(bridge.Actions, action) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, resp)
		})
	})

	s.handler = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Control server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
