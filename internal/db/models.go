package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
		return nil
	case string:
		*j = JSONB([]byte(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// String returns the JSON string.
func (j JSONB) String() string {
	return string(j)
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = JSONB(data)
	return nil
}

// Task represents a scan task.
type Task struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Target          string     `db:"target" json:"target"`
	RunStatus       string     `db:"run_status" json:"run_status"`
	RequestedStatus *string    `db:"requested_status" json:"requested_status,omitempty"`
	LastReportID    *uuid.UUID `db:"last_report_id" json:"last_report_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Report represents one scan run of a task.
type Report struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	TaskID    uuid.UUID  `db:"task_id" json:"task_id"`
	StartTime *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime   *time.Time `db:"end_time" json:"end_time,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Result represents one finding within a report.
type Result struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ReportID    uuid.UUID `db:"report_id" json:"report_id"`
	TaskID      uuid.UUID `db:"task_id" json:"task_id"`
	Host        string    `db:"host" json:"host"`
	Port        int       `db:"port" json:"port"`
	Protocol    string    `db:"protocol" json:"protocol"`
	PortRaw     string    `db:"port_raw" json:"port_raw"`
	Class       string    `db:"class" json:"class"`
	Description string    `db:"description" json:"description"`
	OID         string    `db:"oid" json:"oid"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ReportHost tracks per-host progress within a report.
type ReportHost struct {
	ReportID    uuid.UUID  `db:"report_id" json:"report_id"`
	Host        string     `db:"host" json:"host"`
	StartTime   *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime     *time.Time `db:"end_time" json:"end_time,omitempty"`
	AttackState *string    `db:"attack_state" json:"attack_state,omitempty"`
	CurrentPort int        `db:"current_port" json:"current_port"`
	MaxPort     int        `db:"max_port" json:"max_port"`
}

// HostDetail is a name/value style detail line reported for a host.
type HostDetail struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ReportID  uuid.UUID `db:"report_id" json:"report_id"`
	Host      string    `db:"host" json:"host"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NVT represents one cached plugin record from the scanner feed.
type NVT struct {
	OID         string         `db:"oid" json:"oid"`
	Name        string         `db:"name" json:"name"`
	Category    int            `db:"category" json:"category"`
	Copyright   string         `db:"copyright" json:"copyright"`
	Description string         `db:"description" json:"description"`
	Summary     string         `db:"summary" json:"summary"`
	Family      string         `db:"family" json:"family"`
	Version     string         `db:"version" json:"version"`
	CVERefs     pq.StringArray `db:"cve_refs" json:"cve_refs"`
	BIDRefs     pq.StringArray `db:"bid_refs" json:"bid_refs"`
	XRefs       pq.StringArray `db:"xrefs" json:"xrefs"`
	SignKeyIDs  pq.StringArray `db:"sign_key_ids" json:"sign_key_ids"`
	Tags        JSONB          `db:"tags" json:"tags,omitempty"`
	CVSSBase    string         `db:"cvss_base" json:"cvss_base"`
	RiskFactor  string         `db:"risk_factor" json:"risk_factor"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// ScannerPreference is a preference value announced by the scanner.
type ScannerPreference struct {
	Name      string    `db:"name" json:"name"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Metadata is a daemon-wide key/value record, used for the feed version.
type Metadata struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Task run status constants. These mirror the lifecycle states the
// protocol layer drives.
const (
	TaskStatusNew                     = "new"
	TaskStatusRequested               = "requested"
	TaskStatusRunning                 = "running"
	TaskStatusPauseRequested          = "pause_requested"
	TaskStatusPaused                  = "paused"
	TaskStatusResumeRequested         = "resume_requested"
	TaskStatusStopRequested           = "stop_requested"
	TaskStatusStopped                 = "stopped"
	TaskStatusDeleteRequested         = "delete_requested"
	TaskStatusDeleteUltimateRequested = "delete_ultimate_requested"
	TaskStatusDone                    = "done"
)

// Metadata keys.
const (
	MetaFeedVersion = "feed_version"
)
