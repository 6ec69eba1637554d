// Package api exposes the HTTP surface: health and stats endpoints,
// prometheus metrics, and the chat webhook handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/railwatch/railwatch/pkg/config"
	"github.com/railwatch/railwatch/pkg/conversation"
	"github.com/railwatch/railwatch/pkg/database"
	"github.com/railwatch/railwatch/pkg/ingest"
	"github.com/railwatch/railwatch/pkg/notifier"
	"github.com/railwatch/railwatch/pkg/store"
	"github.com/railwatch/railwatch/pkg/telemetry"
)

// Deps are the server's injected collaborators. Nil fields disable the
// corresponding endpoint behavior gracefully.
type Deps struct {
	DB            *database.Client
	Supervisor    *ingest.Supervisor
	Metrics       *telemetry.Collector
	Registry      *prometheus.Registry
	Incidents     *store.IncidentStore
	Interactions  *notifier.InteractionHandler
	Conversations *conversation.Manager
	Notifier      *notifier.Notifier
}

// Server is the HTTP server.
type Server struct {
	cfg    *config.Config
	deps   Deps
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the gin engine and routes.
func NewServer(cfg *config.Config, addr string, deps Deps) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "api"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(correlationMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.GET("/incidents", s.handleIncidents)
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	slackGroup := router.Group("/slack")
	slackGroup.Use(slackSignatureMiddleware(cfg.Slack.SigningSecret, cfg.IsProduction()))
	slackGroup.POST("/interactive", s.handleInteractive)
	slackGroup.POST("/slash", s.handleSlash)
	slackGroup.POST("/events", s.handleEvents)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
