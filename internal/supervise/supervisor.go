package supervise

import (
	"context"
	"log/slog"
	"time"

	"github.com/ntmd/ntmd/internal/store"
)

// Exit codes, per spec.md's supervision contract. cmd/ntmd/main.go maps
// whatever AcquireInstanceLock/config.Load/Store.Open return onto these.
const (
	ExitOK             = 0
	ExitConfigInvalid  = 2
	ExitSchemaTooNew   = 3
	ExitAlreadyRunning = 4
	ExitFatal          = 64
)

// Supervisor owns the process-lifetime concerns that sit above the
// collectors and RPC dispatcher: the single-instance lock, hot-reloadable
// config, background maintenance, health aggregation, and diagnostics.
// Grounded on the teacher's cmd/server/main.go, which inlines all of this
// directly in main; split out here into its own type since NTMD has
// materially more of it (locking, maintenance, diagnostics) and
// cmd/ntmd/main.go should stay a thin wiring shim.
type Supervisor struct {
	Lock        *InstanceLock
	Config      *ConfigProvider
	Detectors   *DetectorsProvider
	Maintainer  *Maintainer
	Diagnostics *DiagnosticsCollector
	Actions     *Actions

	store    *store.Store
	logger   *slog.Logger
	shutdown []func(context.Context) error
}

// New assembles a Supervisor. startedAt, dbPath, and logPath feed the
// diagnostics collector; the caller is responsible for having already
// called AcquireInstanceLock and store.Open before constructing this.
func New(lock *InstanceLock, cfgProvider *ConfigProvider, st *store.Store, startedAt time.Time, dbPath, logPath string, sources SourceLister, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Lock:        lock,
		Config:      cfgProvider,
		Maintainer:  NewMaintainer(st, cfgProvider.Current, logger),
		Diagnostics: NewDiagnosticsCollector(startedAt, dbPath, logPath, cfgProvider, sources),
		store:       st,
		logger:      logger,
	}
}

// OnShutdown registers a cleanup function run, in reverse registration
// order, during Shutdown. Transports and collectors register their Stop/
// Close methods here so main doesn't need to track them itself.
func (s *Supervisor) OnShutdown(fn func(context.Context) error) {
	s.shutdown = append(s.shutdown, fn)
}

// Run starts the maintenance scheduler and blocks until ctx is cancelled,
// then drives the graceful shutdown sequence: stop accepting new work (via
// the registered shutdown funcs, called in LIFO order), close the store
// after them so any in-flight writes from shutdown callbacks still land,
// and release the instance lock last.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Maintainer.Start(ctx)
	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// Shutdown executes the registered shutdown callbacks in LIFO order,
// closes the store, and releases the instance lock. Callback errors are
// logged but do not abort the remaining sequence — a stuck transport
// should never prevent the lock and store from being released.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		if err := s.shutdown[i](ctx); err != nil {
			s.logger.Error("shutdown callback failed", "error", err)
		}
	}

	var firstErr error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close failed", "error", err)
			firstErr = err
		}
	}
	if s.Lock != nil {
		if err := s.Lock.Release(); err != nil {
			s.logger.Error("instance lock release failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ResolveExitCode maps a startup error from instance locking or store
// opening onto the exit codes the spec defines. Config load failures are
// mapped separately by the caller with ExitConfigInvalid, since Load
// already wraps Validate's error and nothing here can distinguish a config
// decode failure from any other plain error.
func ResolveExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case err == ErrAlreadyRunning:
		return ExitAlreadyRunning
	case err == store.ErrSchemaTooNew:
		return ExitSchemaTooNew
	default:
		return ExitFatal
	}
}
