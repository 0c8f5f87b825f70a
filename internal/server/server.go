// Package server provides HTTP server lifecycle management.
// Background components run alongside the listener and stop with it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function that shuts down a component gracefully.
type ShutdownFunc func(ctx context.Context) error

// BackgroundFunc runs until ctx is cancelled. A non-nil error other than
// context.Canceled stops the whole server.
type BackgroundFunc func(ctx context.Context) error

// Options configure the HTTP listener.
type Options struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type background struct {
	name string
	fn   BackgroundFunc
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu            sync.Mutex
	shutdownFuncs []ShutdownFunc
	background    []background
	listener      net.Listener
	ready         chan struct{}
}

// New creates a new Server instance.
func New(handler http.Handler, opts Options, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          logger.With("component", "server"),
		ready:           make(chan struct{}),
	}
}

// OnShutdown registers a function to be called during graceful shutdown.
// Shutdown functions are called in reverse order (LIFO) after the HTTP server
// stops, so storage registered first is closed last.
func (s *Server) OnShutdown(name string, fn ShutdownFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownFuncs = append(s.shutdownFuncs, func(ctx context.Context) error {
		s.logger.Info("shutting down component", "name", name)
		if err := fn(ctx); err != nil {
			s.logger.Error("component shutdown error", "name", name, "error", err)
			return err
		}
		s.logger.Info("component stopped", "name", name)
		return nil
	})
}

// Go registers a background component started by Run.
func (s *Server) Go(name string, fn BackgroundFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.background = append(s.background, background{name: name, fn: fn})
}

// Run starts the listener and background components and blocks until ctx
// is cancelled, SIGINT/SIGTERM arrives, or a component fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	tasks := append([]background(nil), s.background...)
	s.mu.Unlock()
	close(s.ready)

	failed := make(chan error, len(tasks)+1)

	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("server error: %w", err)
		}
	}()

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t background) {
			defer wg.Done()
			s.logger.Info("background component starting", "name", t.name)
			if err := t.fn(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				failed <- fmt.Errorf("%s: %w", t.name, err)
			}
		}(t)
	}

	var runErr error
	select {
	case runErr = <-failed:
		s.logger.Error("component failed, shutting down", "error", runErr)
	case <-ctx.Done():
		s.logger.Info("shutdown requested", "reason", context.Cause(ctx))
	}

	shutdownErr := s.gracefulShutdown(cancelBackground, &wg)
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// gracefulShutdown stops the listener, then background components, then
// registered components in reverse order.
func (s *Server) gracefulShutdown(cancelBackground context.CancelFunc, wg *sync.WaitGroup) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	// Phase 1: Stop accepting new connections
	s.logger.Info("phase 1: stopping HTTP server", "timeout", s.shutdownTimeout)
	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Phase 2: Stop background components
	cancelBackground()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("background components did not stop in time")
	}

	// Phase 3: Shutdown registered components in reverse order
	s.mu.Lock()
	funcs := s.shutdownFuncs
	s.mu.Unlock()
	s.logger.Info("phase 3: stopping registered components", "count", len(funcs))

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		s.logger.Error("shutdown completed with errors", "error_count", len(errs))
		return errors.Join(errs...)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Addr returns the bound address once Run is listening, otherwise the
// configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}
