package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Phase orders shutdown hooks. Phases run one after another once the HTTP
// server has drained; hooks within a phase run concurrently.
type Phase int

const (
	// PhaseStop stops background work such as policy watchers and the
	// retention scheduler.
	PhaseStop Phase = iota
	// PhaseClose releases storage backends and clients.
	PhaseClose
	// PhaseFlush flushes telemetry.
	PhaseFlush
)

func (p Phase) String() string {
	switch p {
	case PhaseStop:
		return "stop"
	case PhaseClose:
		return "close"
	case PhaseFlush:
		return "flush"
	}
	return fmt.Sprintf("phase-%d", int(p))
}

// ShutdownFunc releases one resource.
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name  string
	phase Phase
	fn    ShutdownFunc
}

// ShutdownManager drains the HTTP server and then runs registered hooks phase
// by phase, all bounded by one timeout.
type ShutdownManager struct {
	logger  *logrus.Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook
}

// NewShutdownManager creates a manager for server, which may be nil.
func NewShutdownManager(logger *logrus.Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// Register adds a named hook to phase.
func (sm *ShutdownManager) Register(phase Phase, name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, phase: phase, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or the end of ctx, then shuts
// down.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.WithField("signal", sig.String()).Info("Starting graceful shutdown")
	case <-ctx.Done():
		sm.logger.Info("Starting shutdown after serve loop ended")
	}
	return sm.Shutdown()
}

// Shutdown drains the HTTP server and runs every phase. A failing hook does
// not stop later phases, so storage is still closed when a watcher fails.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server did not drain")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	hooks := slices.Clone(sm.hooks)
	sm.mu.Unlock()

	for _, phase := range []Phase{PhaseStop, PhaseClose, PhaseFlush} {
		errs = append(errs, sm.runPhase(ctx, phase, hooks)...)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown finished with %d errors: %w", len(errs), err)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

func (sm *ShutdownManager) runPhase(ctx context.Context, phase Phase, hooks []shutdownHook) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range hooks {
		if h.phase != phase {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				sm.logger.WithError(err).WithFields(logrus.Fields{
					"phase": phase.String(),
					"hook":  h.name,
				}).Error("Shutdown hook failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
				mu.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.WithField("phase", phase.String()).Warn("Shutdown timeout reached")
		return []error{fmt.Errorf("%s phase: %w", phase, ctx.Err())}
	}

	mu.Lock()
	defer mu.Unlock()
	return errs
}
