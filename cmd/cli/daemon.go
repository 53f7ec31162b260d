package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfathom/scanward/internal/config"
	"github.com/openfathom/scanward/internal/daemon"
	"github.com/openfathom/scanward/internal/db"
)

const (
	// Daemon operation constants.
	daemonStartupDelay     = 500 // milliseconds to wait for daemon startup
	daemonStopProgressStep = 5   // show progress every N seconds
	daemonStopTimeout      = 30  // seconds to wait before force kill
	statusLineLength       = 30  // characters for status separator line
)

var (
	daemonPidFile    string
	daemonBackground bool
)

// daemonCmd represents the daemon command.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scanward as a background daemon",
	Long: `Run scanward as a background daemon service that accepts scanner
connections, ingests scan results into the database, and performs
periodic report cleanup. The daemon can be started, stopped, and
monitored using subcommands.`,
	Example: `  scanward daemon start
  scanward daemon stop
  scanward daemon status
  scanward daemon restart`,
}

// daemonStartCmd represents the daemon start command.
var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scanward daemon",
	Long: `Start the scanward daemon service. The daemon listens for scanner
connections on the configured socket and persists their results.`,
	Example: `  scanward daemon start
  scanward daemon start --background=false
  scanward daemon start --pid-file /var/run/scanward.pid`,
	Run: runDaemonStart,
}

// daemonStopCmd represents the daemon stop command.
var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running scanward daemon",
	Long: `Stop the currently running scanward daemon service.
This will gracefully shut down the daemon, draining active scanner
sessions before exiting.`,
	Example: `  scanward daemon stop
  scanward daemon stop --pid-file /var/run/scanward.pid`,
	Run: runDaemonStop,
}

// daemonStatusCmd represents the daemon status command.
var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the scanward daemon",
	Long: `Check whether the scanward daemon is currently running
and display information about its status and configuration.`,
	Example: `  scanward daemon status
  scanward daemon status --pid-file /var/run/scanward.pid`,
	Run: runDaemonStatus,
}

// daemonRestartCmd represents the daemon restart command.
var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the scanward daemon",
	Long: `Stop the currently running daemon (if any) and start a new instance.
This is equivalent to running 'daemon stop' followed by 'daemon start'.`,
	Example: `  scanward daemon restart
  scanward daemon restart --background=false`,
	Run: runDaemonRestart,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonRestartCmd)

	// Persistent flags for all daemon commands
	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "/var/run/scanward.pid", "Path to PID file")

	daemonStartCmd.Flags().BoolVar(&daemonBackground, "background", true, "Run in background (detach from terminal)")
	daemonRestartCmd.Flags().BoolVar(&daemonBackground, "background", true, "Run in background (detach from terminal)")
}

func runDaemonStart(_ *cobra.Command, _ []string) {
	// Check if daemon is already running
	if isDaemonRunning() {
		fmt.Fprintf(os.Stderr, "Daemon is already running (PID file: %s)\n", daemonPidFile)
		fmt.Fprintf(os.Stderr, "Use 'scanward daemon stop' to stop it first, or 'daemon restart' to restart\n")
		os.Exit(1)
	}

	// Setup configuration
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Daemon.PIDFile = daemonPidFile
	cfg.Daemon.Daemonize = daemonBackground

	// Test database connection before forking
	dbConfig := cfg.GetDatabaseConfig()
	database, err := db.Connect(context.Background(), &dbConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	if err := database.Ping(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Database connection test failed: %v\n", err)
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
		os.Exit(1)
	}

	// Close database connection after testing - daemon will create its own connections
	if closeErr := database.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
	}

	if verbose {
		fmt.Printf("Starting daemon with configuration:\n")
		fmt.Printf("  PID file: %s\n", daemonPidFile)
		fmt.Printf("  Scanner listener: %s %s\n", cfg.Scanner.Network, cfg.Scanner.Address)
		fmt.Printf("  Background: %t\n", daemonBackground)
	}

	// Create and start daemon
	d := daemon.New(cfg)

	fmt.Printf("Starting scanward daemon...\n")
	if daemonBackground {
		fmt.Printf("Daemon will run in background (PID file: %s)\n", daemonPidFile)
	}

	err = d.Start()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	if !daemonBackground {
		// Running in foreground, this won't return until daemon stops
		fmt.Println("Daemon started successfully (running in foreground)")
	} else {
		// Give it a moment to start up
		time.Sleep(daemonStartupDelay * time.Millisecond)
		if isDaemonRunning() {
			fmt.Println("Daemon started successfully")
		} else {
			fmt.Fprintf(os.Stderr, "Daemon failed to start properly\n")
			os.Exit(1)
		}
	}
}

func runDaemonStop(_ *cobra.Command, _ []string) {
	if !isDaemonRunning() {
		fmt.Printf("Daemon is not running (no PID file found at %s)\n", daemonPidFile)
		return
	}

	pid, err := readPIDFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PID file: %v\n", err)
		os.Exit(1)
	}

	if verbose {
		fmt.Printf("Stopping daemon with PID %d...\n", pid)
	}

	// Send SIGTERM to daemon
	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding daemon process: %v\n", err)
		os.Exit(1)
	}

	err = process.Signal(syscall.SIGTERM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending stop signal to daemon: %v\n", err)
		os.Exit(1)
	}

	// Wait for daemon to stop (up to configured timeout)
	fmt.Printf("Stopping daemon (PID %d)...\n", pid)
	for i := 0; i < daemonStopTimeout; i++ {
		if !isDaemonRunning() {
			fmt.Println("Daemon stopped successfully")
			return
		}
		time.Sleep(1 * time.Second)
		if i%daemonStopProgressStep == (daemonStopProgressStep - 1) {
			fmt.Printf("Waiting for daemon to stop... (%d seconds)\n", i+1)
		}
	}

	// If still running after the timeout, force kill
	fmt.Printf("Daemon did not stop gracefully, sending SIGKILL...\n")
	err = process.Signal(syscall.SIGKILL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error force-killing daemon: %v\n", err)
		os.Exit(1)
	}

	// Wait a bit more
	time.Sleep(2 * time.Second)
	if !isDaemonRunning() {
		fmt.Println("Daemon force-stopped")
	} else {
		fmt.Fprintf(os.Stderr, "Failed to stop daemon\n")
		os.Exit(1)
	}
}

func runDaemonStatus(_ *cobra.Command, _ []string) {
	fmt.Printf("Scanward Daemon Status\n")
	fmt.Println(strings.Repeat("=", statusLineLength))

	if !isDaemonRunning() {
		fmt.Printf("Status: Not running\n")
		fmt.Printf("PID file: %s (not found)\n", daemonPidFile)
		return
	}

	pid, err := readPIDFile()
	if err != nil {
		fmt.Printf("Status: Unknown (error reading PID file: %v)\n", err)
		return
	}

	// Check if process is actually running
	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Printf("Status: Not running (process not found)\n")
		fmt.Printf("PID file: %s (stale)\n", daemonPidFile)
		return
	}

	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	if err != nil {
		fmt.Printf("Status: Not running (process not responding)\n")
		fmt.Printf("PID file: %s (stale)\n", daemonPidFile)
		return
	}

	fmt.Printf("Status: Running\n")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("PID file: %s\n", daemonPidFile)

	// Get additional info if available
	if info, err := os.Stat(daemonPidFile); err == nil {
		fmt.Printf("Started: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	fmt.Printf("\nTo stop daemon: scanward daemon stop\n")
}

func runDaemonRestart(cmd *cobra.Command, args []string) {
	fmt.Println("Restarting scanward daemon...")

	// Stop existing daemon if running
	if isDaemonRunning() {
		fmt.Println("Stopping existing daemon...")
		runDaemonStop(cmd, args)

		// Wait a moment for clean shutdown
		time.Sleep(1 * time.Second)
	}

	// Start new daemon
	fmt.Println("Starting new daemon...")
	runDaemonStart(cmd, args)
}

func isDaemonRunning() bool {
	if _, err := os.Stat(daemonPidFile); os.IsNotExist(err) {
		return false
	}

	pid, err := readPIDFile()
	if err != nil {
		return false
	}

	// Check if process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process is alive
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

func readPIDFile() (int, error) {
	// #nosec G304 - daemonPidFile is a controlled path from command line flags
	data, err := os.ReadFile(daemonPidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %v", err)
	}

	return pid, nil
}

// formatDuration renders a duration as a compact human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d >= 24*time.Hour:
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		return fmt.Sprintf("%dd%dh", days, hours)
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case d >= time.Minute:
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
