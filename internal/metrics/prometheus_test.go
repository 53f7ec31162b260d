package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	if pm == nil {
		t.Fatal("NewPrometheusMetrics returned nil")
	}
	if pm.GetRegistry() == nil {
		t.Fatal("Registry should not be nil")
	}
}

func TestParserMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementFieldsParsed("token")
	pm.IncrementFieldsParsed("newline")
	pm.AddBytesConsumed(512)
	pm.IncrementMessagesParsed("HOLE")
	pm.IncrementFindingsCommitted("Security Hole")
	pm.AddPluginsCached(100)
	pm.IncrementPreferencesStored()
	pm.IncrementGrammarViolations("server")
	pm.RecordParseDuration(2 * time.Millisecond)

	if v := testutil.ToFloat64(pm.bytesConsumed); v != 512 {
		t.Errorf("Expected 512 bytes consumed, got %f", v)
	}
	if v := testutil.ToFloat64(pm.pluginsCached); v != 100 {
		t.Errorf("Expected 100 plugins cached, got %f", v)
	}
	if v := testutil.ToFloat64(pm.findingsCommitted.WithLabelValues("Security Hole")); v != 1 {
		t.Errorf("Expected 1 finding, got %f", v)
	}
	if v := testutil.ToFloat64(pm.grammarViolations.WithLabelValues("server")); v != 1 {
		t.Errorf("Expected 1 grammar violation, got %f", v)
	}
}

func TestSessionMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementSessionsTotal("goodbye")
	pm.IncrementSessionsTotal("fatal")
	pm.SetActiveSessions(3)
	pm.RecordSessionDuration(time.Minute)

	if v := testutil.ToFloat64(pm.activeSessions); v != 3 {
		t.Errorf("Expected 3 active sessions, got %f", v)
	}
	if v := testutil.ToFloat64(pm.sessionsTotal.WithLabelValues("goodbye")); v != 1 {
		t.Errorf("Expected 1 goodbye session, got %f", v)
	}
}

func TestDatabaseMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementDatabaseQueries("append_result", "success")
	pm.RecordDatabaseQueryDuration("append_result", 5*time.Millisecond)
	pm.SetActiveConnections(4)
	pm.IncrementDatabaseErrors("append_result", "connection")

	if v := testutil.ToFloat64(pm.dbConnections); v != 4 {
		t.Errorf("Expected 4 connections, got %f", v)
	}
	if v := testutil.ToFloat64(pm.dbQueries.WithLabelValues("append_result", "success")); v != 1 {
		t.Errorf("Expected 1 query, got %f", v)
	}
}

func TestSystemMetricsUpdate(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()

	if v := testutil.ToFloat64(pm.goroutines); v <= 0 {
		t.Errorf("Goroutine gauge should be positive, got %f", v)
	}
	if v := testutil.ToFloat64(pm.memoryUsage); v <= 0 {
		t.Errorf("Memory gauge should be positive, got %f", v)
	}
	if pm.GetLastUpdate().IsZero() {
		t.Error("Last update time should be set")
	}
}

func TestMetricNamespaces(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.IncrementFindingsCommitted("Alarm")

	families, err := pm.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "scanward_otp_") {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected scanward_otp_ prefixed metrics in registry output")
	}
}

func TestGetGlobalMetrics(t *testing.T) {
	first := GetGlobalMetrics()
	second := GetGlobalMetrics()
	if first != second {
		t.Error("GetGlobalMetrics should return the same instance")
	}
}

func TestGetUptime(t *testing.T) {
	pm := NewPrometheusMetrics()
	time.Sleep(time.Millisecond)
	if pm.GetUptime() <= 0 {
		t.Error("Uptime should be positive")
	}
}
