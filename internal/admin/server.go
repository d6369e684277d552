package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/sensorctl/internal/ingest"
	"github.com/danmuck/sensorctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports the current ingest session.
type StatusSource interface {
	Status() (ingest.Stats, int, bool)
}

type Config struct {
	ID          string
	Addr        string
	Version     string
	CORSOrigins []string
}

// Server is the read-only HTTP surface next to the capture port.
type Server struct {
	cfg     Config
	source  StatusSource
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, source StatusSource) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger.With().Str("component", "admin").Logger()))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		source:  source,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.ID,
			"version": s.cfg.Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ready means a device can connect or is connected
	s.router.GET("/ready", func(c *gin.Context) {
		stats, _, ok := s.status()
		ready := ok && stats.State != ingest.StateClosed
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"state":   stats.State.String(),
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.ID,
			"version": s.cfg.Version,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		stats, served, ok := s.status()
		if !ok {
			c.JSON(http.StatusOK, gin.H{"sessions_served": served})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session":         stats,
			"sessions_served": served,
		})
	})
}

func (s *Server) status() (ingest.Stats, int, bool) {
	if s.source == nil {
		return ingest.Stats{}, 0, false
	}
	return s.source.Status()
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.cfg.Addr).Msg("admin server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
