package otp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResultStore receives committed findings and host details for the report
// the session is currently feeding.
type ResultStore interface {
	// AppendResult adds one finding to the report.
	AppendResult(ctx context.Context, taskID, reportID uuid.UUID, finding *Finding) error

	// AppendHostDetail records a name/value style detail line for a host.
	AppendHostDetail(ctx context.Context, reportID uuid.UUID, host, detail string) error
}

// TaskStore exposes the task lifecycle operations the parser drives.
type TaskStore interface {
	// RunStatus returns the current run status of a task.
	RunStatus(ctx context.Context, taskID uuid.UUID) (TaskStatus, error)

	// SetRunStatus updates the run status of a task.
	SetRunStatus(ctx context.Context, taskID uuid.UUID, status TaskStatus) error

	// DeleteTask removes a task whose deletion was requested.
	DeleteTask(ctx context.Context, taskID uuid.UUID) error

	// RequestedChange reports an externally requested status change for a
	// task, if one is pending.
	RequestedChange(ctx context.Context, taskID uuid.UUID) (TaskStatus, bool, error)
}

// ReportStore records scan-wide report timestamps.
type ReportStore interface {
	// SetScanStartTime records the scan start time. Implementations must
	// keep an already recorded start time, making repeated calls safe.
	SetScanStartTime(ctx context.Context, reportID uuid.UUID, at time.Time) error

	// SetScanEndTime records the scan end time.
	SetScanEndTime(ctx context.Context, reportID uuid.UUID, at time.Time) error
}

// ProgressStore records per-host scan progress.
type ProgressStore interface {
	// SetHostStartTime records when the scanner started attacking a host.
	SetHostStartTime(ctx context.Context, reportID uuid.UUID, host string, at time.Time) error

	// SetHostEndTime records when the scanner finished a host.
	SetHostEndTime(ctx context.Context, reportID uuid.UUID, host string, at time.Time) error

	// SetAttackState records the scanner's current activity on a host.
	SetAttackState(ctx context.Context, reportID uuid.UUID, host, state string) error

	// SetPortsProgress records port scan progress as current out of max.
	SetPortsProgress(ctx context.Context, reportID uuid.UUID, host string, current, max int) error
}

// NVTCache receives plugin metadata parsed from the scanner feed.
type NVTCache interface {
	// BulkUpsert commits a complete plugin list in one operation.
	BulkUpsert(ctx context.Context, plugins []*PluginRecord, mode ResyncMode) error

	// SetFeedVersion records the scanner's feed version.
	SetFeedVersion(ctx context.Context, version string) error
}

// PreferenceStore persists scanner preferences announced during cache
// update sessions.
type PreferenceStore interface {
	// UpsertPreference stores one preference. When overwrite is false an
	// existing value is kept.
	UpsertPreference(ctx context.Context, name, value string, overwrite bool) error
}

// Stores bundles the collaborators a session commits parsed data to.
type Stores struct {
	Results     ResultStore
	Tasks       TaskStore
	Reports     ReportStore
	Progress    ProgressStore
	NVTs        NVTCache
	Preferences PreferenceStore
}

// Outbound queues protocol commands for delivery to the scanner. The
// parser never writes to the socket itself.
type Outbound interface {
	// Enqueue schedules one command line for sending.
	Enqueue(command string) error
}
