package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{
			name:     "seconds only",
			duration: 42 * time.Second,
			expected: "42s",
		},
		{
			name:     "minutes and seconds",
			duration: 3*time.Minute + 5*time.Second,
			expected: "3m5s",
		},
		{
			name:     "hours and minutes",
			duration: 2*time.Hour + 30*time.Minute,
			expected: "2h30m",
		},
		{
			name:     "days and hours",
			duration: 26 * time.Hour,
			expected: "1d2h",
		},
		{
			name:     "zero",
			duration: 0,
			expected: "0s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatDuration(tt.duration)
			if got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestSetVersion(t *testing.T) {
	oldVersion, oldCommit, oldBuildTime := version, commit, buildTime
	defer SetVersion(oldVersion, oldCommit, oldBuildTime)

	SetVersion("1.2.3", "abc123", "2026-01-01")

	want := "1.2.3 (commit: abc123, built: 2026-01-01)"
	if got := getVersion(); got != want {
		t.Errorf("getVersion() = %q, want %q", got, want)
	}
	if rootCmd.Version != want {
		t.Errorf("rootCmd.Version = %q, want %q", rootCmd.Version, want)
	}
}

func TestCommandStructure(t *testing.T) {
	expected := map[string][]string{
		"daemon":  {"start", "stop", "status", "restart"},
		"tasks":   {"show", "create", "stop", "pause", "resume", "delete"},
		"migrate": {"up", "status", "reset"},
	}

	for name, subs := range expected {
		parent := findCommand(t, rootCmd.Commands(), name)
		for _, sub := range subs {
			findCommand(t, parent.Commands(), sub)
		}
	}
}

func TestParseTaskID(t *testing.T) {
	id := uuid.New()
	if got := parseTaskID(id.String()); got != id {
		t.Errorf("parseTaskID(%q) = %v, want %v", id, got, id)
	}
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()
	oldPidFile := daemonPidFile
	defer func() { daemonPidFile = oldPidFile }()

	daemonPidFile = filepath.Join(dir, "scanward.pid")
	if err := os.WriteFile(daemonPidFile, []byte(" 12345 \n"), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	pid, err := readPIDFile()
	if err != nil {
		t.Fatalf("readPIDFile() error = %v", err)
	}
	if pid != 12345 {
		t.Errorf("readPIDFile() = %d, want 12345", pid)
	}

	if err := os.WriteFile(daemonPidFile, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}
	if _, err := readPIDFile(); err == nil {
		t.Error("readPIDFile() should reject a non-numeric PID")
	}
}

func TestIsDaemonRunningWithMissingPIDFile(t *testing.T) {
	oldPidFile := daemonPidFile
	defer func() { daemonPidFile = oldPidFile }()

	daemonPidFile = filepath.Join(t.TempDir(), "missing.pid")
	if isDaemonRunning() {
		t.Error("isDaemonRunning() should be false without a PID file")
	}
}

func TestGetConfigFilePath(t *testing.T) {
	oldCfgFile := cfgFile
	defer func() { cfgFile = oldCfgFile }()

	cfgFile = "/etc/scanward/config.yaml"
	if got := getConfigFilePath(); got != "/etc/scanward/config.yaml" {
		t.Errorf("getConfigFilePath() = %q, want flag value", got)
	}
}

func findCommand(t *testing.T, cmds []*cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, cmd := range cmds {
		if cmd.Name() == name {
			return cmd
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}
