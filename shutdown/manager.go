// Package shutdown turns SIGINT and SIGTERM into a clean end of a campaign.
//
// The first signal cancels the campaign context: the driver stops after the
// request in flight, the report is printed and the history is closed. A
// second signal exits at once with the code of the first.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sdcampaign/core"
	"sdcampaign/logging"
)

// DefaultCleanupTimeout bounds the cleanup sequence.
const DefaultCleanupTimeout = 30 * time.Second

// Manager owns the campaign context, the signal handling and the cleanup
// sequence.
//
// Usage:
//
//	manager := shutdown.NewManager(logger)
//	manager.Register("history", 30, func(ctx context.Context) error {
//	    return history.Close()
//	})
//	manager.Start()
//	progress := driver.Run(manager.Context(), categories)
//	manager.Shutdown()
//	os.Exit(manager.ExitCode())
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	exit    func(code int)

	mu       sync.Mutex
	started  bool
	finished bool

	ctx    context.Context
	cancel context.CancelFunc

	registry *Registry
	signals  *SignalCounter
	sigChan  chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets how long cleanup may take. Default: DefaultCleanupTimeout.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithExitFunc replaces os.Exit for the forced exit (tests).
func WithExitFunc(exit func(code int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

// WithParent derives the campaign context from parent instead of Background.
func WithParent(parent context.Context) ManagerOption {
	return func(m *Manager) {
		m.ctx, m.cancel = context.WithCancel(parent)
	}
}

// NewManager creates a Manager. A nil logger discards output.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  DefaultCleanupTimeout,
		exit:     os.Exit,
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ctx == nil {
		m.ctx, m.cancel = context.WithCancel(context.Background())
	}

	m.signals = NewSignalCounter(2, func(first os.Signal) {
		code := core.ExitCodeForSignal(first)
		m.logger.Warn("second signal received, exiting without cleanup",
			zap.Int("exit_code", code))
		_ = m.logger.Sync()
		m.exit(code)
	})
	return m
}

// Context is canceled by the first signal.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup step; lower priorities run first.
func (m *Manager) Register(name string, priority int, fn CleanupFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered cleanup",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Extra calls are no-ops.
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
			m.handle(sig)
		}
	}()
}

// handle processes one received signal.
func (m *Manager) handle(sig os.Signal) {
	if m.signals.Add(sig) == 1 {
		m.logger.Info("stopping after the current request, press Ctrl+C again to exit now",
			zap.String("signal", sig.String()))
		m.cancel()
	}
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	return m.signals.First()
}

// ExitCode is the process exit code: success unless a signal stopped the run.
func (m *Manager) ExitCode() int {
	return core.ExitCodeForSignal(m.Signal())
}

// Shutdown stops signal handling and runs the cleanup steps. It returns the
// joined cleanup errors. Only the first call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.finished = true
	started := m.started
	m.mu.Unlock()

	if started {
		signal.Stop(m.sigChan)
	}
	defer m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	start := time.Now()
	errs := m.registry.Run(ctx)
	for _, err := range errs {
		m.logger.Error("cleanup failed", zap.Error(err))
	}
	m.logger.Debug("cleanup finished",
		zap.Strings("steps", m.registry.Names()),
		zap.Duration("duration", time.Since(start)))

	return errors.Join(errs...)
}

// RegisteredCleanups returns the cleanup names in execution order.
func (m *Manager) RegisteredCleanups() []string {
	return m.registry.Names()
}
