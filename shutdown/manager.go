// Package shutdown coordinates graceful shutdown: the first SIGINT or
// SIGTERM cancels the root context, cleanup steps then run in priority
// order, and a second signal exits immediately.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sdgateway/logging"
)

// Manager owns the root context of the process.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	registry *Registry

	mu       sync.Mutex
	started  bool
	finished bool
	signals  int
	sigChan  chan os.Signal

	// exit is os.Exit outside tests.
	exit func(code int)
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds the whole cleanup sequence. Default 30s.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.timeout = timeout }
}

// NewManager creates a Manager.
func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  30 * time.Second,
		ctx:      ctx,
		cancel:   cancel,
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 2),
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup step.
func (m *Manager) Register(name string, priority int, fn Func) {
	m.registry.Register(name, priority, fn)
}

// Start listens for SIGINT and SIGTERM. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	n := m.signals
	m.mu.Unlock()

	if n == 1 {
		m.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		m.cancel()
		return
	}
	m.logger.Warn("received second signal, exiting immediately")
	m.exit(1)
}

// Trigger begins shutdown without a signal, for example when the listener
// fails.
func (m *Manager) Trigger(reason string) {
	m.logger.Info("shutdown requested", zap.String("reason", reason))
	m.cancel()
}

// Shutdown runs the cleanup steps once, bounded by the configured
// timeout, and reports whether any failed.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.finished = true
	started := m.started
	m.mu.Unlock()

	m.cancel()
	if started {
		signal.Stop(m.sigChan)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("running cleanup", zap.Strings("steps", m.registry.Names()))
	errs := m.registry.Run(ctx)
	for _, err := range errs {
		m.logger.Error("cleanup step failed", zap.Error(err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown had %d errors", len(errs))
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}
