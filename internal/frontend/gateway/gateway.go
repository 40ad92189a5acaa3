// Package gateway serves the HTTP surface of the relay: the WebSocket
// endpoint clients play through, the shared map, health, and metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/config"
	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/game/world"
	"github.com/cory-johannsen/huddle/internal/gameserver"
	"github.com/cory-johannsen/huddle/internal/observability"
)

// Dispatcher accepts connection lifecycle and inbound events for serialized processing.
type Dispatcher interface {
	Connect(ctx context.Context, memberID string) (*session.Outbox, error)
	Inbound(ctx context.Context, memberID string, env gameserver.Envelope) error
	Disconnect(ctx context.Context, memberID string) error
}

// Gateway is the echo HTTP server fronting the dispatcher.
type Gateway struct {
	cfg        config.HTTPConfig
	metricsCfg config.MetricsConfig
	dispatcher Dispatcher
	level      *world.Map
	metrics    *observability.Metrics
	logger     *zap.Logger
	newID      func() string

	echo *echo.Echo

	conns   sync.WaitGroup
	quit    chan struct{}
	mu      sync.Mutex
	running bool
	stopped bool
}

// New creates a Gateway and registers its routes.
//
// Precondition: dispatcher, level and logger must be non-nil. metrics may be nil.
// Postcondition: Returns a Gateway ready for Start, or for Handler in tests.
func New(cfg config.HTTPConfig, metricsCfg config.MetricsConfig, dispatcher Dispatcher, level *world.Map, metrics *observability.Metrics, logger *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		metricsCfg: metricsCfg,
		dispatcher: dispatcher,
		level:      level,
		metrics:    metrics,
		logger:     logger,
		newID:      uuid.NewString,
		quit:       make(chan struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = g.httpErrorHandler(e)

	e.GET("/ws", g.handleWebSocket)
	e.GET("/map", g.handleMap)
	e.GET("/healthz", g.handleHealth)
	if metricsCfg.Enabled && metrics != nil {
		e.GET(metricsCfg.Path, echo.WrapHandler(metrics.Handler()))
	}
	g.echo = e
	return g
}

// Handler exposes the router, for mounting under httptest.
func (g *Gateway) Handler() http.Handler {
	return g.echo
}

// Start listens on the configured address and serves until Stop.
//
// Postcondition: Returns nil after a graceful Stop, or the listen/serve error.
func (g *Gateway) Start(ctx context.Context) error {
	start := time.Now()
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", g.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.cfg.Addr(), err)
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		ln.Close()
		return nil
	}
	g.echo.Listener = ln
	g.running = true
	g.mu.Unlock()

	g.logger.Info("gateway listening",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := g.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and waits, within ctx, for every
// WebSocket session to finish.
//
// Postcondition: No new connections are accepted; active sessions are told to end.
func (g *Gateway) Stop(ctx context.Context) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.running = false
	close(g.quit)
	g.mu.Unlock()

	if err := g.echo.Shutdown(ctx); err != nil {
		g.logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.logger.Info("gateway stopped")
	case <-ctx.Done():
		g.logger.Warn("gateway stopped with sessions still open")
	}
}

// Addr returns the listening address, or empty string if not yet listening.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.echo.Listener != nil {
		return g.echo.Listener.Addr().String()
	}
	return ""
}

// IsRunning reports whether the gateway is accepting connections.
func (g *Gateway) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *Gateway) handleMap(c echo.Context) error {
	return c.JSON(http.StatusOK, g.level)
}

func (g *Gateway) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (g *Gateway) httpErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		g.logger.Debug("http error",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
		e.DefaultHTTPErrorHandler(err, c)
	}
}
