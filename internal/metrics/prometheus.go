// Package metrics provides Prometheus-based metrics collection for scanward.
// This complements the lightweight in-process registry with industry-standard
// Prometheus collectors for proper observability and monitoring integration.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all scanward metrics
	namespace = "scanward"

	// Subsystems
	subsystemParser   = "otp"
	subsystemSession  = "session"
	subsystemDatabase = "database"
	subsystemSystem   = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Parser metrics
	fieldsParsed      *prometheus.CounterVec
	bytesConsumed     prometheus.Counter
	messagesParsed    *prometheus.CounterVec
	findingsCommitted *prometheus.CounterVec
	pluginsCached     prometheus.Counter
	preferencesStored prometheus.Counter
	grammarViolations *prometheus.CounterVec
	parseDuration     prometheus.Histogram

	// Session metrics
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	activeSessions  prometheus.Gauge

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	dbConnections   prometheus.Gauge
	dbErrors        *prometheus.CounterVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	// Performance tracking
	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	// Initialize all metrics
	pm.initParserMetrics()
	pm.initSessionMetrics()
	pm.initDatabaseMetrics()
	pm.initSystemMetrics()

	// Register all metrics with the registry
	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initParserMetrics initializes protocol ingestion metrics
func (pm *PrometheusMetrics) initParserMetrics() {
	pm.fieldsParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "fields_parsed_total",
			Help:      "Total number of protocol fields parsed by delimiter",
		},
		[]string{"delimiter"},
	)

	pm.bytesConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "bytes_consumed_total",
			Help:      "Total number of scanner input bytes consumed",
		},
	)

	pm.messagesParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "messages_total",
			Help:      "Total number of scanner messages parsed by command",
		},
		[]string{"command"},
	)

	pm.findingsCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "findings_total",
			Help:      "Total number of findings committed by class",
		},
		[]string{"class"},
	)

	pm.pluginsCached = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "plugins_cached_total",
			Help:      "Total number of plugin records committed to the NVT cache",
		},
	)

	pm.preferencesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "preferences_total",
			Help:      "Total number of scanner preferences persisted",
		},
	)

	pm.grammarViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "grammar_violations_total",
			Help:      "Total number of fatal grammar violations by parser state",
		},
		[]string{"state"},
	)

	pm.parseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemParser,
			Name:      "parse_duration_seconds",
			Help:      "Duration of parser invocations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)
}

// initSessionMetrics initializes scanner session metrics
func (pm *PrometheusMetrics) initSessionMetrics() {
	pm.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "total",
			Help:      "Total number of scanner sessions by outcome",
		},
		[]string{"outcome"},
	)

	pm.sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "duration_seconds",
			Help:      "Duration of scanner sessions in seconds",
			Buckets:   []float64{1.0, 10.0, 60.0, 300.0, 1800.0, 3600.0, 21600.0},
		},
	)

	pm.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "active",
			Help:      "Number of currently connected scanner sessions",
		},
	)
}

// initDatabaseMetrics initializes database-related metrics
func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	pm.dbConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)

	pm.dbErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "errors_total",
			Help:      "Total number of database errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	// Parser metrics
	pm.registry.MustRegister(pm.fieldsParsed)
	pm.registry.MustRegister(pm.bytesConsumed)
	pm.registry.MustRegister(pm.messagesParsed)
	pm.registry.MustRegister(pm.findingsCommitted)
	pm.registry.MustRegister(pm.pluginsCached)
	pm.registry.MustRegister(pm.preferencesStored)
	pm.registry.MustRegister(pm.grammarViolations)
	pm.registry.MustRegister(pm.parseDuration)

	// Session metrics
	pm.registry.MustRegister(pm.sessionsTotal)
	pm.registry.MustRegister(pm.sessionDuration)
	pm.registry.MustRegister(pm.activeSessions)

	// Database metrics
	pm.registry.MustRegister(pm.dbQueries)
	pm.registry.MustRegister(pm.dbQueryDuration)
	pm.registry.MustRegister(pm.dbConnections)
	pm.registry.MustRegister(pm.dbErrors)

	// System metrics
	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.goroutines)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Parser Metrics Methods

// IncrementFieldsParsed increments the parsed field counter
func (pm *PrometheusMetrics) IncrementFieldsParsed(delimiter string) {
	pm.fieldsParsed.WithLabelValues(delimiter).Inc()
}

// AddBytesConsumed adds to the consumed byte counter
func (pm *PrometheusMetrics) AddBytesConsumed(n int) {
	pm.bytesConsumed.Add(float64(n))
}

// IncrementMessagesParsed increments the message counter
func (pm *PrometheusMetrics) IncrementMessagesParsed(command string) {
	pm.messagesParsed.WithLabelValues(command).Inc()
}

// IncrementFindingsCommitted increments the finding counter
func (pm *PrometheusMetrics) IncrementFindingsCommitted(class string) {
	pm.findingsCommitted.WithLabelValues(class).Inc()
}

// AddPluginsCached adds to the plugin cache counter
func (pm *PrometheusMetrics) AddPluginsCached(count int) {
	pm.pluginsCached.Add(float64(count))
}

// IncrementPreferencesStored increments the preference counter
func (pm *PrometheusMetrics) IncrementPreferencesStored() {
	pm.preferencesStored.Inc()
}

// IncrementGrammarViolations increments the grammar violation counter
func (pm *PrometheusMetrics) IncrementGrammarViolations(state string) {
	pm.grammarViolations.WithLabelValues(state).Inc()
}

// RecordParseDuration records a parser invocation duration
func (pm *PrometheusMetrics) RecordParseDuration(duration time.Duration) {
	pm.parseDuration.Observe(duration.Seconds())
}

// Session Metrics Methods

// IncrementSessionsTotal increments the session counter
func (pm *PrometheusMetrics) IncrementSessionsTotal(outcome string) {
	pm.sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionDuration records a session duration
func (pm *PrometheusMetrics) RecordSessionDuration(duration time.Duration) {
	pm.sessionDuration.Observe(duration.Seconds())
}

// SetActiveSessions sets the number of connected scanner sessions
func (pm *PrometheusMetrics) SetActiveSessions(count int) {
	pm.activeSessions.Set(float64(count))
}

// Database Metrics Methods

// IncrementDatabaseQueries increments database query counter
func (pm *PrometheusMetrics) IncrementDatabaseQueries(operation, status string) {
	pm.dbQueries.WithLabelValues(operation, status).Inc()
}

// RecordDatabaseQueryDuration records database query duration
func (pm *PrometheusMetrics) RecordDatabaseQueryDuration(operation string, duration time.Duration) {
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveConnections sets the number of active database connections
func (pm *PrometheusMetrics) SetActiveConnections(count int) {
	pm.dbConnections.Set(float64(count))
}

// IncrementDatabaseErrors increments database error counter
func (pm *PrometheusMetrics) IncrementDatabaseErrors(operation, errorType string) {
	pm.dbErrors.WithLabelValues(operation, errorType).Inc()
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Update memory usage
	pm.memoryUsage.Set(float64(memStats.Alloc))

	// Update goroutine count
	pm.goroutines.Set(float64(runtime.NumGoroutine()))

	// Update uptime
	uptime := time.Since(pm.startTime).Seconds()
	pm.uptime.Set(uptime)

	// Update last update time
	pm.lastUpdate = time.Now()
}

// Utility Methods

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates starts a goroutine that periodically updates system metrics
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Update immediately
	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}

// Convenience functions using global instance

// IncrementFindingsPrometheus increments the finding counter using global metrics
func IncrementFindingsPrometheus(class string) {
	GetGlobalMetrics().IncrementFindingsCommitted(class)
}

// AddPluginsCachedPrometheus adds to the plugin cache counter using global metrics
func AddPluginsCachedPrometheus(count int) {
	GetGlobalMetrics().AddPluginsCached(count)
}

// RecordDatabaseQueryPrometheus records database query metrics using global metrics
func RecordDatabaseQueryPrometheus(operation string, duration time.Duration, success bool) {
	metrics := GetGlobalMetrics()
	status := "success"
	if !success {
		status = "error"
	}
	metrics.IncrementDatabaseQueries(operation, status)
	metrics.RecordDatabaseQueryDuration(operation, duration)
}

// SetActiveSessionsPrometheus sets connected scanner sessions using global metrics
func SetActiveSessionsPrometheus(count int) {
	GetGlobalMetrics().SetActiveSessions(count)
}
