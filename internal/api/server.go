package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/user/llmeter/internal/config"
	"github.com/user/llmeter/internal/logging"
	"github.com/user/llmeter/internal/provider"
)

type Server struct {
	registry *provider.Registry
	config   *config.Config
	cache    *Cache
	fetches  singleflight.Group
	log      log.FieldLogger
	server   *http.Server
}

func NewServer(registry *provider.Registry, cfg *config.Config, addr string, logger log.FieldLogger) *Server {
	s := &Server{
		registry: registry,
		config:   cfg,
		cache:    NewCache(cfg.RefreshInterval),
		log:      logging.OrDiscard(logger).WithField("component", "api"),
	}

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routed handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("request served")
	})
}
