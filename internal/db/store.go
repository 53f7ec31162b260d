package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openfathom/scanward/internal/otp"
)

// Store is the persistence layer behind a scanner session. It implements
// the parser's collaborator interfaces on top of PostgreSQL.
type Store struct {
	db *DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Stores returns the store wired into the parser's collaborator bundle.
func (s *Store) Stores() otp.Stores {
	return otp.Stores{
		Results:     s,
		Tasks:       s,
		Reports:     s,
		Progress:    s,
		NVTs:        s,
		Preferences: s,
	}
}

// AppendResult adds one finding to a report.
func (s *Store) AppendResult(ctx context.Context, taskID, reportID uuid.UUID, finding *otp.Finding) (err error) {
	start := time.Now()
	defer func() { observe("append_result", start, err) }()

	query := `
		INSERT INTO results (id, report_id, task_id, host, port, protocol, port_raw, class, description, oid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.ExecContext(ctx, query,
		uuid.New(), reportID, taskID,
		finding.Host, finding.Port.Number, string(finding.Port.Protocol), finding.Port.Raw,
		string(finding.Class), finding.Description, finding.OID,
	)
	if err != nil {
		err = sanitizeDBError("append result", err)
	}
	return err
}

// AppendHostDetail records a detail line for a host.
func (s *Store) AppendHostDetail(ctx context.Context, reportID uuid.UUID, host, detail string) (err error) {
	start := time.Now()
	defer func() { observe("append_host_detail", start, err) }()

	query := `
		INSERT INTO host_details (id, report_id, host, detail)
		VALUES ($1, $2, $3, $4)`

	_, err = s.db.ExecContext(ctx, query, uuid.New(), reportID, host, detail)
	if err != nil {
		err = sanitizeDBError("append host detail", err)
	}
	return err
}

// RunStatus returns the current run status of a task.
func (s *Store) RunStatus(ctx context.Context, taskID uuid.UUID) (otp.TaskStatus, error) {
	var status string
	query := `SELECT run_status FROM tasks WHERE id = $1`

	if err := s.db.GetContext(ctx, &status, query, taskID); err != nil {
		return "", sanitizeDBError("get task status", err)
	}
	return otp.TaskStatus(status), nil
}

// SetRunStatus updates the run status of a task.
func (s *Store) SetRunStatus(ctx context.Context, taskID uuid.UUID, status otp.TaskStatus) (err error) {
	start := time.Now()
	defer func() { observe("set_run_status", start, err) }()

	query := `UPDATE tasks SET run_status = $1, updated_at = NOW() WHERE id = $2`

	_, err = s.db.ExecContext(ctx, query, string(status), taskID)
	if err != nil {
		err = sanitizeDBError("set task status", err)
	}
	return err
}

// DeleteTask removes a task and its dependent reports.
func (s *Store) DeleteTask(ctx context.Context, taskID uuid.UUID) (err error) {
	start := time.Now()
	defer func() { observe("delete_task", start, err) }()

	query := `DELETE FROM tasks WHERE id = $1`

	_, err = s.db.ExecContext(ctx, query, taskID)
	if err != nil {
		err = sanitizeDBError("delete task", err)
	}
	return err
}

// RequestedChange reports a pending externally requested status change.
func (s *Store) RequestedChange(ctx context.Context, taskID uuid.UUID) (otp.TaskStatus, bool, error) {
	var requested sql.NullString
	query := `SELECT requested_status FROM tasks WHERE id = $1`

	if err := s.db.GetContext(ctx, &requested, query, taskID); err != nil {
		return "", false, sanitizeDBError("get requested status", err)
	}
	if !requested.Valid || requested.String == "" {
		return "", false, nil
	}
	return otp.TaskStatus(requested.String), true, nil
}

// RequestStatusChange records an external request against a task, to be
// relayed to the scanner by the session that owns it.
func (s *Store) RequestStatusChange(ctx context.Context, taskID uuid.UUID, status otp.TaskStatus) (err error) {
	start := time.Now()
	defer func() { observe("request_status_change", start, err) }()

	query := `UPDATE tasks SET requested_status = $1, updated_at = NOW() WHERE id = $2`

	_, err = s.db.ExecContext(ctx, query, string(status), taskID)
	if err != nil {
		err = sanitizeDBError("request status change", err)
	}
	return err
}

// SetScanStartTime records the report start time. An already recorded
// start time is kept, so replayed SCAN_START messages are harmless.
func (s *Store) SetScanStartTime(ctx context.Context, reportID uuid.UUID, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("set_scan_start", start, err) }()

	query := `UPDATE reports SET start_time = $1 WHERE id = $2 AND start_time IS NULL`

	_, err = s.db.ExecContext(ctx, query, at, reportID)
	if err != nil {
		err = sanitizeDBError("set scan start time", err)
	}
	return err
}

// SetScanEndTime records the report end time.
func (s *Store) SetScanEndTime(ctx context.Context, reportID uuid.UUID, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("set_scan_end", start, err) }()

	query := `UPDATE reports SET end_time = $1 WHERE id = $2`

	_, err = s.db.ExecContext(ctx, query, at, reportID)
	if err != nil {
		err = sanitizeDBError("set scan end time", err)
	}
	return err
}

// SetHostStartTime records when the scanner started attacking a host.
func (s *Store) SetHostStartTime(ctx context.Context, reportID uuid.UUID, host string, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("set_host_start", start, err) }()

	query := `
		INSERT INTO report_hosts (report_id, host, start_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (report_id, host) DO UPDATE SET start_time = EXCLUDED.start_time`

	_, err = s.db.ExecContext(ctx, query, reportID, host, at)
	if err != nil {
		err = sanitizeDBError("set host start time", err)
	}
	return err
}

// SetHostEndTime records when the scanner finished a host.
func (s *Store) SetHostEndTime(ctx context.Context, reportID uuid.UUID, host string, at time.Time) (err error) {
	start := time.Now()
	defer func() { observe("set_host_end", start, err) }()

	query := `
		INSERT INTO report_hosts (report_id, host, end_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (report_id, host) DO UPDATE SET end_time = EXCLUDED.end_time`

	_, err = s.db.ExecContext(ctx, query, reportID, host, at)
	if err != nil {
		err = sanitizeDBError("set host end time", err)
	}
	return err
}

// SetAttackState records the scanner's current activity on a host.
func (s *Store) SetAttackState(ctx context.Context, reportID uuid.UUID, host, state string) (err error) {
	start := time.Now()
	defer func() { observe("set_attack_state", start, err) }()

	query := `
		INSERT INTO report_hosts (report_id, host, attack_state)
		VALUES ($1, $2, $3)
		ON CONFLICT (report_id, host) DO UPDATE SET attack_state = EXCLUDED.attack_state`

	_, err = s.db.ExecContext(ctx, query, reportID, host, state)
	if err != nil {
		err = sanitizeDBError("set attack state", err)
	}
	return err
}

// SetPortsProgress records port scan progress for a host.
func (s *Store) SetPortsProgress(ctx context.Context, reportID uuid.UUID, host string, current, maxPorts int) (err error) {
	start := time.Now()
	defer func() { observe("set_ports_progress", start, err) }()

	query := `
		INSERT INTO report_hosts (report_id, host, current_port, max_port)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (report_id, host) DO UPDATE
		SET current_port = EXCLUDED.current_port, max_port = EXCLUDED.max_port`

	_, err = s.db.ExecContext(ctx, query, reportID, host, current, maxPorts)
	if err != nil {
		err = sanitizeDBError("set ports progress", err)
	}
	return err
}

// BulkUpsert commits a plugin list in one transaction. A full resync
// removes cached plugins absent from the new list.
func (s *Store) BulkUpsert(ctx context.Context, plugins []*otp.PluginRecord, mode otp.ResyncMode) (err error) {
	start := time.Now()
	defer func() { observe("bulk_upsert_nvts", start, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin nvt upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO nvts (oid, name, category, copyright, description, summary, family, version,
			cve_refs, bid_refs, xrefs, sign_key_ids, tags, cvss_base, risk_factor, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (oid) DO UPDATE SET
			name = EXCLUDED.name, category = EXCLUDED.category, copyright = EXCLUDED.copyright,
			description = EXCLUDED.description, summary = EXCLUDED.summary, family = EXCLUDED.family,
			version = EXCLUDED.version, cve_refs = EXCLUDED.cve_refs, bid_refs = EXCLUDED.bid_refs,
			xrefs = EXCLUDED.xrefs, sign_key_ids = EXCLUDED.sign_key_ids, tags = EXCLUDED.tags,
			cvss_base = EXCLUDED.cvss_base, risk_factor = EXCLUDED.risk_factor, updated_at = NOW()`

	oids := make([]string, 0, len(plugins))
	for _, p := range plugins {
		tags, marshalErr := json.Marshal(p.Tags)
		if marshalErr != nil {
			tags = []byte("{}")
		}
		if _, err = tx.ExecContext(ctx, query,
			p.OID, p.Name, p.Category, p.Copyright, p.Description, p.Summary, p.Family, p.Version,
			pq.StringArray(p.CVEs), pq.StringArray(p.BIDs), pq.StringArray(p.XRefs),
			pq.StringArray(p.SignKeyIDs), JSONB(tags), p.CVSSBase, p.RiskFactor,
		); err != nil {
			return sanitizeDBError("upsert nvt", err)
		}
		oids = append(oids, p.OID)
	}

	if mode == otp.ResyncFull {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM nvts WHERE NOT (oid = ANY($1))`, pq.StringArray(oids),
		); err != nil {
			return sanitizeDBError("prune nvts", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return sanitizeDBError("commit nvt upsert", err)
	}
	return nil
}

// SetFeedVersion records the scanner's feed version.
func (s *Store) SetFeedVersion(ctx context.Context, version string) (err error) {
	start := time.Now()
	defer func() { observe("set_feed_version", start, err) }()

	query := `
		INSERT INTO metadata (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	_, err = s.db.ExecContext(ctx, query, MetaFeedVersion, version)
	if err != nil {
		err = sanitizeDBError("set feed version", err)
	}
	return err
}

// FeedVersion returns the last recorded feed version, or empty when none
// has been stored yet.
func (s *Store) FeedVersion(ctx context.Context) (string, error) {
	var version string
	query := `SELECT value FROM metadata WHERE key = $1`

	err := s.db.GetContext(ctx, &version, query, MetaFeedVersion)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", sanitizeDBError("get feed version", err)
	}
	return version, nil
}

// UpsertPreference stores one scanner preference. When overwrite is
// false an existing value is kept.
func (s *Store) UpsertPreference(ctx context.Context, name, value string, overwrite bool) (err error) {
	start := time.Now()
	defer func() { observe("upsert_preference", start, err) }()

	query := `
		INSERT INTO scanner_preferences (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if !overwrite {
		query = `
		INSERT INTO scanner_preferences (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO NOTHING`
	}

	_, err = s.db.ExecContext(ctx, query, name, value)
	if err != nil {
		err = sanitizeDBError("upsert preference", err)
	}
	return err
}

// CreateTask inserts a new task in the new state.
func (s *Store) CreateTask(ctx context.Context, name, target string) (*Task, error) {
	task := &Task{
		ID:        uuid.New(),
		Name:      name,
		Target:    target,
		RunStatus: TaskStatusNew,
	}

	query := `
		INSERT INTO tasks (id, name, target, run_status)
		VALUES (:id, :name, :target, :run_status)
		RETURNING created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, task)
	if err != nil {
		return nil, sanitizeDBError("create task", err)
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		if err := rows.Scan(&task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, sanitizeDBError("scan created task", err)
		}
	}
	return task, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	var task Task
	query := `SELECT * FROM tasks WHERE id = $1`

	if err := s.db.GetContext(ctx, &task, query, taskID); err != nil {
		return nil, sanitizeDBError("get task", err)
	}
	return &task, nil
}

// ListTasks returns all tasks ordered by creation time.
func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	query := `SELECT * FROM tasks ORDER BY created_at`

	if err := s.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, sanitizeDBError("list tasks", err)
	}
	return tasks, nil
}

// CreateReport opens a new report for a task and marks it as the task's
// latest.
func (s *Store) CreateReport(ctx context.Context, taskID uuid.UUID) (*Report, error) {
	report := &Report{
		ID:     uuid.New(),
		TaskID: taskID,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, sanitizeDBError("begin create report", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO reports (id, task_id) VALUES ($1, $2) RETURNING created_at`,
		report.ID, report.TaskID,
	).Scan(&report.CreatedAt); err != nil {
		return nil, sanitizeDBError("create report", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET last_report_id = $1, updated_at = NOW() WHERE id = $2`,
		report.ID, taskID,
	); err != nil {
		return nil, sanitizeDBError("link report to task", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, sanitizeDBError("commit create report", err)
	}
	return report, nil
}

// CleanupStaleReports deletes reports that never finished and are older
// than the given age, returning the number removed.
func (s *Store) CleanupStaleReports(ctx context.Context, age time.Duration) (int64, error) {
	query := `DELETE FROM reports WHERE end_time IS NULL AND created_at < $1`

	result, err := s.db.ExecContext(ctx, query, time.Now().Add(-age))
	if err != nil {
		return 0, sanitizeDBError("cleanup stale reports", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, sanitizeDBError("count cleaned reports", err)
	}
	return removed, nil
}
