// Package status exposes the state of the control loop over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kilianp07/batteryctl/core/control"
	"github.com/kilianp07/batteryctl/core/logger"
)

// Config holds the HTTP listener settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	HTTPLog bool   `json:"http_log"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// ReportSource provides the most recent cycle report.
type ReportSource interface {
	LastReport() (control.CycleReport, bool)
}

// Server serves the health and last-cycle endpoints.
type Server struct {
	source  ReportSource
	maxAge  time.Duration
	httpLog bool
	now     func() time.Time
}

// NewServer creates a status server. A report older than maxAge makes the
// health check fail; zero disables the age check.
func NewServer(source ReportSource, maxAge time.Duration, httpLog bool) *Server {
	return &Server{source: source, maxAge: maxAge, httpLog: httpLog, now: time.Now}
}

// RegisterRoutes builds the echo router.
func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/cycle/last", s.LastCycleHandler)
	return e
}

// HealthCheckHandler reports OK once a cycle has run recently.
func (s *Server) HealthCheckHandler(c echo.Context) error {
	rep, ok := s.source.LastReport()
	if !ok {
		return c.String(http.StatusServiceUnavailable, "health_check: WAITING")
	}
	if s.maxAge > 0 && s.now().Sub(rep.Started) > s.maxAge {
		return c.String(http.StatusServiceUnavailable, "health_check: STALE")
	}
	return c.String(http.StatusOK, "health_check: OK")
}

// LastCycleHandler returns the last cycle report as JSON.
func (s *Server) LastCycleHandler(c echo.Context) error {
	rep, ok := s.source.LastReport()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no cycle has run yet"})
	}
	return c.JSON(http.StatusOK, rep)
}

// Serve listens on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("status server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	}
}
