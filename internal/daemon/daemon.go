// Package daemon provides the background service functionality for
// scanward. It owns the scanner-facing listener, dispatches accepted
// connections to the worker pool, runs periodic report cleanup and
// serves the health/metrics endpoint.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/openfathom/scanward/internal/config"
	"github.com/openfathom/scanward/internal/db"
	"github.com/openfathom/scanward/internal/logging"
	"github.com/openfathom/scanward/internal/metrics"
	"github.com/openfathom/scanward/internal/workers"
)

const (
	// Health check interval in seconds.
	healthCheckIntervalSeconds = 10

	// Socket permissions for the scanner unix listener.
	socketPerm = 0o660
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Daemon represents the main daemon process.
type Daemon struct {
	config       *config.Config
	database     *db.DB
	store        *db.Store
	pool         *workers.Pool
	listener     net.Listener
	healthServer *http.Server
	cron         *cron.Cron
	pidFile      string
	logger       *logging.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	connSeq      uint64
	debugMode    bool
	mu           sync.RWMutex
}

// New creates a new daemon instance.
func New(cfg *config.Config) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:  cfg,
		pidFile: cfg.Daemon.PIDFile,
		logger:  logging.Default().WithComponent("daemon"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	d.logger.Info("Starting scanward daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, DefaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(d.config.Daemon.WorkDir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if d.config.Daemon.Daemonize {
		if err := d.fork(); err != nil {
			return fmt.Errorf("failed to fork daemon: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initDatabase(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := d.initScannerListener(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize scanner listener: %w", err)
	}

	if err := d.initHealthServer(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize health endpoint: %w", err)
	}

	if err := d.initCleanupSchedule(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize cleanup schedule: %w", err)
	}

	d.pool = workers.New(workers.Config{
		Size:            d.config.Daemon.WorkerPoolSize,
		QueueSize:       d.config.Daemon.WorkerPoolSize * 2,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: d.config.Daemon.ShutdownTimeout,
	})
	d.pool.Start()

	d.logger.Info("Daemon started successfully",
		"scanner_network", d.config.Scanner.Network,
		"scanner_address", d.config.Scanner.Address)
	return d.run()
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")

	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped gracefully")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	d.cleanup()
	return nil
}

// fork creates a background process.
func (d *Daemon) fork() error {
	if os.Getppid() == 1 {
		return nil // Already a daemon
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Exclude the daemon flag to prevent infinite forking
	args := []string{executable}
	for _, arg := range os.Args[1:] {
		if arg != "--daemon" && arg != "-d" {
			args = append(args, arg)
		}
	}

	procAttr := &os.ProcAttr{
		Dir:   d.config.Daemon.WorkDir,
		Env:   os.Environ(),
		Files: []*os.File{nil, nil, nil}, // Detach from terminal
	}

	process, err := os.StartProcess(executable, args, procAttr)
	if err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	d.logger.Info("Daemon forked", "pid", process.Pid)

	os.Exit(0)
	return nil
}

// createPIDFile creates the PID file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID checks if a PID file exists and if the process is
// still running.
func (d *Daemon) checkExistingPID() error {
	if _, err := os.Stat(d.pidFile); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		// Invalid PID file, remove it
		_ = os.Remove(d.pidFile)
		return nil
	}

	if d.isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func (d *Daemon) isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// setupSignalHandlers sets up signal handling for graceful shutdown.
func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)

	signal.Notify(sigChan,
		syscall.SIGTERM, // Termination signal
		syscall.SIGINT,  // Interrupt signal (Ctrl+C)
		syscall.SIGHUP,  // Hangup signal (reload config)
		syscall.SIGUSR1, // Dump status
		syscall.SIGUSR2, // Toggle debug mode
	)

	go func() {
		for sig := range sigChan {
			d.logger.Info("Received signal", "signal", sig.String())

			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.Info("Initiating graceful shutdown")
				d.cancel()
				return
			case syscall.SIGHUP:
				if err := d.reloadConfiguration(); err != nil {
					d.logger.Error("Configuration reload failed", "error", err)
				} else {
					d.logger.Info("Configuration reloaded")
				}
			case syscall.SIGUSR1:
				d.dumpStatus()
			case syscall.SIGUSR2:
				d.toggleDebugMode()
			}
		}
	}()
}

// initDatabase initializes the database connection.
func (d *Daemon) initDatabase() error {
	d.logger.Info("Connecting to database")

	dbConfig := d.config.GetDatabaseConfig()
	database, err := db.ConnectAndMigrate(d.ctx, &dbConfig)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	d.database = database
	d.store = db.NewStore(database)
	d.logger.Info("Database connection established")
	return nil
}

// initScannerListener opens the scanner-facing listener. A stale unix
// socket left by a crashed process is removed first.
func (d *Daemon) initScannerListener() error {
	network := d.config.Scanner.Network
	address := d.config.Scanner.Address

	if network == "unix" {
		if _, err := os.Stat(address); err == nil {
			if err := os.Remove(address); err != nil {
				return fmt.Errorf("failed to remove stale socket %s: %w", address, err)
			}
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}

	if network == "unix" {
		if err := os.Chmod(address, socketPerm); err != nil {
			_ = listener.Close()
			return fmt.Errorf("failed to set socket permissions: %w", err)
		}
	}

	d.listener = listener
	d.logger.Info("Scanner listener ready", "network", network, "address", address)
	return nil
}

// initHealthServer sets up the health/metrics HTTP endpoint.
func (d *Daemon) initHealthServer() error {
	if !d.config.Health.Enabled {
		d.logger.Info("Health endpoint disabled, skipping initialization")
		return nil
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", d.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(
		metrics.GetGlobalMetrics().GetRegistry(),
		promhttp.HandlerOpts{},
	)).Methods(http.MethodGet)

	var handler http.Handler = router
	if d.config.Health.RequestLogging {
		handler = handlers.CombinedLoggingHandler(os.Stdout, router)
	}

	d.healthServer = &http.Server{
		Addr:         d.config.GetHealthAddress(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	d.logger.Info("Health endpoint ready", "address", d.healthServer.Addr)
	return nil
}

// handleHealth reports daemon liveness and database reachability.
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbState := "connected"
	if err := d.database.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		dbState = "disconnected"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"status":%q,"database":%q,"pid":%d}`+"\n",
		healthStateName(status), dbState, os.Getpid())
}

func healthStateName(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// initCleanupSchedule registers the periodic stale-report purge.
func (d *Daemon) initCleanupSchedule() error {
	if d.config.Daemon.CleanupSchedule == "" {
		d.logger.Info("Report cleanup disabled, no schedule configured")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(d.config.Daemon.CleanupSchedule, func() {
		job := workers.NewCleanupJob(
			fmt.Sprintf("cleanup-%d", time.Now().Unix()),
			d.config.Daemon.StaleReportAge,
			d.store.CleanupStaleReports,
		)
		if err := d.pool.Submit(job); err != nil {
			d.logger.Error("Failed to submit cleanup job", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", d.config.Daemon.CleanupSchedule, err)
	}

	d.cron = c
	d.logger.Info("Report cleanup scheduled",
		"schedule", d.config.Daemon.CleanupSchedule,
		"stale_age", d.config.Daemon.StaleReportAge.String())
	return nil
}

// run executes the main daemon loop.
func (d *Daemon) run() error {
	if d.healthServer != nil {
		go func() {
			if err := d.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("Health endpoint failed", "error", err)
			}
		}()
	}

	if d.cron != nil {
		d.cron.Start()
	}

	go d.acceptLoop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			close(d.done)
			return nil

		case <-time.After(healthCheckIntervalSeconds * time.Second):
			d.performHealthCheck()
		}
	}
}

// acceptLoop hands accepted scanner connections to the worker pool.
func (d *Daemon) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			d.logger.Error("Accept failed", "error", err)
			continue
		}

		id := fmt.Sprintf("conn-%d", atomic.AddUint64(&d.connSeq, 1))
		remote := conn.RemoteAddr().String()
		job := workers.NewConnectionJob(id, remote, func(ctx context.Context) error {
			return d.serveConnection(ctx, conn, id)
		})

		if err := d.pool.Submit(job); err != nil {
			d.logger.Warn("Rejecting scanner connection", "remote", remote, "error", err)
			_ = conn.Close()
		}
	}
}

// performHealthCheck performs periodic health checks.
func (d *Daemon) performHealthCheck() {
	if d.database != nil {
		if err := d.database.Ping(d.ctx); err != nil {
			d.logger.Error("Database health check failed", "error", err)
			if err := d.reconnectDatabase(); err != nil {
				d.logger.Error("Database reconnection failed", "error", err)
			}
		}
	}
}

// reconnectDatabase attempts to reconnect to the database with
// exponential backoff.
func (d *Daemon) reconnectDatabase() error {
	const maxRetries = 5
	const baseDelay = 2 * time.Second
	const maxDelay = 30 * time.Second

	d.logger.Info("Attempting database reconnection")

	for attempt := 1; attempt <= maxRetries; attempt++ {
		multiplier := int64(1) << (attempt - 1)
		delay := time.Duration(int64(baseDelay) * multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}

		if attempt > 1 {
			select {
			case <-d.ctx.Done():
				return fmt.Errorf("reconnection cancelled due to shutdown")
			case <-time.After(delay):
			}
		}

		if d.database != nil {
			if err := d.database.Close(); err != nil {
				d.logger.Warn("Failed to close existing database connection", "error", err)
			}
		}

		dbConfig := d.config.GetDatabaseConfig()
		database, err := db.ConnectAndMigrate(d.ctx, &dbConfig)
		if err != nil {
			d.logger.Error("Reconnection attempt failed",
				"attempt", attempt, "max_retries", maxRetries, "error", err)
			if attempt == maxRetries {
				return fmt.Errorf("failed to reconnect after %d attempts: %w", maxRetries, err)
			}
			continue
		}

		d.database = database
		d.store = db.NewStore(database)
		d.logger.Info("Database reconnection successful")
		return nil
	}

	return fmt.Errorf("all reconnection attempts failed")
}

// cleanup performs cleanup tasks.
func (d *Daemon) cleanup() {
	d.logger.Info("Performing cleanup")

	if d.cron != nil {
		d.cron.Stop()
	}

	if d.healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.healthServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("Error stopping health endpoint", "error", err)
		}
		cancel()
	}

	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			d.logger.Error("Error closing scanner listener", "error", err)
		}
		if d.config.Scanner.Network == "unix" {
			_ = os.Remove(d.config.Scanner.Address)
		}
	}

	if d.pool != nil {
		if err := d.pool.Shutdown(); err != nil {
			d.logger.Error("Error shutting down worker pool", "error", err)
		}
	}

	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.Error("Error closing database", "error", err)
		}
	}

	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Error("Error removing PID file", "error", err)
		}
	}

	d.logger.Info("Cleanup completed")
}

// reloadConfiguration reloads the daemon configuration from file. Only
// settings that do not require reopening the listener take effect.
func (d *Daemon) reloadConfiguration() error {
	newConfig, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("new configuration is invalid: %w", err)
	}

	if newConfig.Scanner != d.config.Scanner {
		d.logger.Warn("Scanner listener settings changed; restart required to apply")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// dumpStatus dumps the current daemon status to the log.
func (d *Daemon) dumpStatus() {
	d.mu.RLock()
	debugMode := d.debugMode
	d.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbState := "not configured"
	if d.database != nil {
		if err := d.database.Ping(d.ctx); err != nil {
			dbState = "disconnected"
		} else {
			dbState = "connected"
		}
	}

	d.logger.Info("Daemon status",
		"pid", os.Getpid(),
		"debug_mode", debugMode,
		"alloc_kb", m.Alloc/1024,
		"goroutines", runtime.NumGoroutine(),
		"database", dbState,
		"connections_served", atomic.LoadUint64(&d.connSeq),
		"work_dir", d.config.Daemon.WorkDir)
}

// toggleDebugMode toggles debug mode on/off.
func (d *Daemon) toggleDebugMode() {
	d.mu.Lock()
	d.debugMode = !d.debugMode
	newMode := d.debugMode
	d.mu.Unlock()

	d.logger.Info("Debug mode toggled", "enabled", newMode)
}

// IsDebugMode returns the current debug mode state.
func (d *Daemon) IsDebugMode() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.debugMode
}

// GetPID returns the daemon's PID.
func (d *Daemon) GetPID() int {
	return os.Getpid()
}

// IsRunning checks if the daemon is running.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// GetContext returns the daemon's context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}

// GetDatabase returns the database connection.
func (d *Daemon) GetDatabase() *db.DB {
	return d.database
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
