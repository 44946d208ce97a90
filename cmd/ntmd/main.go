// Command ntmd is the NTMD collector/detector/event daemon: it polls tmux
// (and optionally a higher-level session manager), reconciles observed
// state into a durable store, runs the detector pipeline, and serves
// JSON-RPC snapshots and pushes over stdio, WebSocket, and HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ntmd/ntmd/internal/collector"
	"github.com/ntmd/ntmd/internal/config"
	"github.com/ntmd/ntmd/internal/eventbus"
	"github.com/ntmd/ntmd/internal/execrunner"
	"github.com/ntmd/ntmd/internal/model"
	"github.com/ntmd/ntmd/internal/reconcile"
	"github.com/ntmd/ntmd/internal/redact"
	"github.com/ntmd/ntmd/internal/rpc"
	"github.com/ntmd/ntmd/internal/store"
	"github.com/ntmd/ntmd/internal/supervise"
	"github.com/ntmd/ntmd/internal/transport"
)

const (
	version         = "0.1.0"
	protocolVersion = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the TOML config file (defaults to the XDG config path)")
	dataDir := flag.String("data-dir", "", "directory for the SQLite store, lock file, and logs (defaults to the XDG state path)")
	tmuxSocket := flag.String("tmux-socket", "", "tmux -L socket name (empty uses tmux's default socket)")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ntmd: loading config:", err)
		return supervise.ExitConfigInvalid
	}

	dir := *dataDir
	if dir == "" {
		dir = config.DefaultDataDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "ntmd: creating data dir:", err)
		return supervise.ExitFatal
	}

	lock, err := supervise.AcquireInstanceLock(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ntmd: acquiring instance lock:", err)
		return supervise.ResolveExitCode(err)
	}

	logger, logPath := newLogger(dir, cfg.Logging)

	dbPath := filepath.Join(dir, "ntmd.db")
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("opening store", "error", err)
		lock.Release()
		return supervise.ResolveExitCode(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startedAt := time.Now()
	runID := model.NewID()
	if err := st.RecordDaemonRun(ctx, runID, version, protocolVersion, store.CurrentSchemaVersion, startedAt.Unix(), ""); err != nil {
		logger.Warn("recording daemon run", "error", err)
	}

	readToken, err := config.LoadOrCreateToken(cfg.Security.ReadTokenFile, cfg.Security.TokenRotateOnStart, cfg.Security.EnforceTokenFilePermissions)
	if err != nil {
		logger.Error("loading read token", "error", err)
		st.Close()
		lock.Release()
		return supervise.ExitConfigInvalid
	}
	adminToken, err := config.LoadOrCreateToken(cfg.Security.AdminTokenFile, cfg.Security.TokenRotateOnStart, cfg.Security.EnforceTokenFilePermissions)
	if err != nil {
		logger.Error("loading admin token", "error", err)
		st.Close()
		lock.Release()
		return supervise.ExitConfigInvalid
	}
	auth := rpc.NewAuthenticator(readToken, adminToken, cfg.Security.RequireAuth)
	limiter := rpc.NewRateLimiter(cfg.Security.RateLimitPerSecond)

	bus := eventbus.New(st, 4096)

	runner := execrunner.New(cfg.Polling.MaxConcurrentCommands, 50*time.Millisecond)
	configureRunner(runner, cfg)

	source := &model.Source{
		ID:         model.NewID(),
		Kind:       "tmux",
		Distro:     "local",
		Socket:     *tmuxSocket,
		CreatedAt:  startedAt,
		LastSeenAt: startedAt,
		Status:     model.SourceOK,
	}
	if err := st.UpsertSource(ctx, source); err != nil {
		logger.Error("upserting initial source", "error", err)
	}

	coll := collector.New(collectorConfig(cfg, *tmuxSocket), source, runner, st, bus, nil, logger)

	captureFilter := redact.NewCaptureFilter(cfg.Privacy)
	redactor := redact.New(cfg.Redaction)
	actions := supervise.NewActions(st, runner, *tmuxSocket, captureFilter, redactor)

	cfgProvider := supervise.NewConfigProvider(cfgPath, cfg, nil)
	collectors := []supervise.ReloadableCollector{coll}
	detectorsProvider := supervise.NewDetectorsProvider(cfgProvider.Current, func() []supervise.ReloadableCollector { return collectors })

	super := supervise.New(lock, cfgProvider, st, startedAt, dbPath, logPath, st, logger)
	super.Detectors = detectorsProvider
	super.Actions = actions

	dispatcher := rpc.NewDispatcher()
	dispatcher.Store = st
	dispatcher.Bus = bus
	dispatcher.Actions = actions
	dispatcher.Config = cfgProvider
	dispatcher.Detectors = detectorsProvider
	dispatcher.Diag = super.Diagnostics
	dispatcher.InstanceID = source.ID
	dispatcher.RunID = runID
	dispatcher.Version = version
	dispatcher.ProtocolVersion = protocolVersion

	go coll.Run(ctx)

	if cfg.Server.BindAddress != "" {
		startNetworkTransports(ctx, cfg, dispatcher, auth, limiter, logger, super)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	stdio := &transport.StdioServer{Dispatcher: dispatcher, Auth: auth, Limiter: limiter, Logger: logger}
	localToken := adminToken
	if localToken == "" {
		localToken = readToken
	}
	if err := stdio.Serve(ctx, os.Stdin, os.Stdout, localToken); err != nil {
		logger.Error("stdio transport exited", "error", err)
	}

	cancel()
	if err := st.EndDaemonRun(context.Background(), runID, time.Now().Unix()); err != nil {
		logger.Warn("recording daemon run end", "error", err)
	}
	super.Shutdown(context.Background())
	return supervise.ExitOK
}

func configureRunner(runner *execrunner.Runner, cfg *config.Config) {
	runner.Configure("tmux.fast", execrunner.CategoryConfig{
		Timeout:          cfg.Exec.TmuxFastTimeout,
		StdoutCapBytes:   int64(cfg.Exec.StdoutCapKB) * 1024,
		KillOnTimeout:    cfg.Exec.KillOnTimeout,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	})
	runner.Configure("tmux.capture", execrunner.CategoryConfig{
		Timeout:          cfg.Exec.TailTimeout,
		StdoutCapBytes:   int64(cfg.Exec.StdoutCapKB) * 1024,
		KillOnTimeout:    cfg.Exec.KillOnTimeout,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	})
	runner.Configure("manager.reconcile", execrunner.CategoryConfig{
		Timeout:          cfg.Exec.ManagerReconcileTimeout,
		StdoutCapBytes:   int64(cfg.Exec.StdoutCapKB) * 1024,
		KillOnTimeout:    cfg.Exec.KillOnTimeout,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	})
}

func collectorConfig(cfg *config.Config, tmuxSocket string) collector.Config {
	return collector.Config{
		FastInterval:       cfg.Polling.FastInterval,
		ReconcileInterval:  cfg.Polling.ReconcileInterval,
		IdleBackoffMax:     cfg.Polling.IdleBackoffMax,
		TmuxSocket:         tmuxSocket,
		CompactPatterns:    cfg.Detection.CompactPatterns,
		EscalationPatterns: cfg.Detection.EscalationPatterns,
		CompactDebounce:    60 * time.Second,
		EscalationDebounce: 30 * time.Second,
		ReconcileConfig:    reconcile.DefaultConfig(),
	}
}

func startNetworkTransports(ctx context.Context, cfg *config.Config, d *rpc.Dispatcher, auth *rpc.Authenticator, limiter *rpc.RateLimiter, logger *slog.Logger, super *supervise.Supervisor) {
	mux := http.NewServeMux()
	mux.Handle("/rpc", &transport.HTTPServer{Dispatcher: d, Auth: auth, Limiter: limiter, Logger: logger, MaxBodyBytes: cfg.Security.BodySizeCapBytes})
	mux.Handle("/ws", transport.NewWebSocketServer(d, auth, limiter, 15*time.Second, 5*time.Minute, nil, logger))

	srv := &http.Server{Addr: cfg.Server.BindAddress, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("network transport exited", "error", err)
		}
	}()
	super.OnShutdown(func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

func newLogger(dataDir string, cfg config.LoggingConfig) (*slog.Logger, string) {
	logPath := cfg.File
	if logPath == "" {
		logPath = filepath.Join(dataDir, "ntmd.log")
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	writer := os.Stderr
	if err == nil {
		writer = f
	} else {
		logPath = ""
	}

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, logPath
}
