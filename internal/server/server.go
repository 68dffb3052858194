// Package server exposes a local diagnostics HTTP endpoint for one running
// instrument session: health, prometheus metrics and a session status view.
// It never speaks the instrument protocol itself.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/openlab/harplink/internal/auth"
	"github.com/openlab/harplink/internal/observability"
	"github.com/openlab/harplink/internal/protocol"
)

// StatusSource is the read-only session view the status route renders.
type StatusSource interface {
	State() string
	ClientAddress() (protocol.Address, bool)
	DiscoveredObjects() []protocol.Address
	UnsolicitedCount() uint64
}

// DiagServer serves the diagnostics routes for one session.
type DiagServer struct {
	addr      string
	startedAt time.Time
	status    StatusSource
	validator auth.Validator
	router    *gin.Engine
}

// New builds the diagnostics server. A nil validator leaves every route
// open; with one set, /health stays open and the rest require a bearer
// token.
func New(addr string, status StatusSource, validator auth.Validator) *DiagServer {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.InitLogger("diag")))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &DiagServer{
		addr:      addr,
		startedAt: time.Now(),
		status:    status,
		validator: validator,
		router:    r,
	}
	s.registerRoutes()
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *DiagServer) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.addr).Msg("diagnostics server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
