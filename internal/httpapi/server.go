// Package httpapi serves the fleet dashboard API and the live update stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/OCAP2/fleetsim/internal/dispatcher"
	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// DefaultStreamBuffer is the number of updates queued per stream client.
	DefaultStreamBuffer = 64
	// DefaultOutlineSegments is used when the outline request has no segments query.
	DefaultOutlineSegments = 64

	shutdownTimeout = 5 * time.Second
)

// Engine is the read side of sim.Engine.
type Engine interface {
	Entities() []core.Entity
	Entity(id int) (core.Entity, bool)
	History(id int) []core.HistoryPoint
	Snapshot() core.Snapshot
	Interval() time.Duration
	Subscribe(fn func(core.Update)) (cancel func())
}

// Fleet provides the static geofence and alert data.
type Fleet interface {
	GeoFences() []core.GeoFence
	GeoFence(id int) (core.GeoFence, bool)
	Alerts() []core.Alert
}

// Dispatcher routes mutations to the command handlers.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// Dependencies holds all dependencies of the HTTP server
type Dependencies struct {
	Engine       Engine
	Fleet        Fleet
	Dispatcher   Dispatcher
	Logger       *slog.Logger
	SessionID    string
	StreamBuffer int
	// RateLimit caps mutating requests per client within RateWindow. 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Server is the gin application plus the stream client registry.
type Server struct {
	deps     Dependencies
	router   *gin.Engine
	upgrader websocket.Upgrader
	limiter  *rateLimiter

	mu      sync.Mutex
	done    chan struct{}
	streams sync.WaitGroup
}

// NewServer builds the router with every route registered.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.StreamBuffer <= 0 {
		deps.StreamBuffer = DefaultStreamBuffer
	}

	s := &Server{
		deps: deps,
		done: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	if deps.RateLimit > 0 {
		if deps.RateWindow <= 0 {
			deps.RateWindow = time.Minute
		}
		s.deps = deps
		s.limiter = newRateLimiter(deps.RateLimit, deps.RateWindow)
		go s.limiter.cleanup(s.done)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger), cors())
	s.routes(r)
	s.router = r
	return s
}

// Handler returns the router for use with an http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close ends every open stream and waits for them to finish.
func (s *Server) Close() {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()
	s.streams.Wait()
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("HTTP API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// hijacked stream connections are not tracked by Shutdown
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
