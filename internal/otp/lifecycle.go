package otp

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfathom/scanward/internal/errors"
)

// scanTimeLayouts are the timestamp formats scanners have been observed
// to send in TIME messages.
var scanTimeLayouts = []string{
	time.ANSIC,
	time.UnixDate,
	time.RFC1123,
}

// parseScanTime parses a scanner timestamp, degrading to the current
// time when no known layout matches.
func parseScanTime(field string) time.Time {
	for _, layout := range scanTimeLayouts {
		if t, err := time.Parse(layout, field); err == nil {
			return t
		}
	}
	return time.Now()
}

// stepStatus consumes one field of a STATUS message: the host, the
// attack state and the port scan progress. The pause and resume states
// drive the task run status; any other state is recorded verbatim as
// the host's current activity.
func (s *Session) stepStatus(ctx context.Context) error {
	switch s.state {
	case stStatusHost:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.currentHost = field
		s.state = stStatusState
		return nil

	case stStatusState:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.state = stStatusProgress

		switch field {
		case "pause":
			s.setRunStatus(ctx, StatusPaused)
		case "resume":
			s.setRunStatus(ctx, StatusRunning)
		case "portscan":
			// Progress arrives in the next field; nothing to record here.
		default:
			if s.reportID != uuid.Nil {
				if err := s.stores.Progress.SetAttackState(ctx, s.reportID, s.currentHost, field); err != nil {
					s.logger.ErrorParser("Failed to record attack state", s.id, err,
						"host", s.currentHost, "state", field)
				}
			}
		}
		return nil

	default: // stStatusProgress
		field, _, err := s.buf.TakeFieldAny()
		if err != nil {
			return err
		}
		s.state = stTop

		current, max, ok := parseProgress(field)
		if !ok {
			if field != "" {
				s.logger.Debug("Skipping malformed port scan progress",
					"session_id", s.id, "field", field)
			}
			return nil
		}
		if s.reportID == uuid.Nil {
			return nil
		}
		if err := s.stores.Progress.SetPortsProgress(ctx, s.reportID, s.currentHost, current, max); err != nil {
			s.logger.ErrorParser("Failed to record port scan progress", s.id, err,
				"host", s.currentHost)
		}
		return nil
	}
}

// parseProgress splits a "current/max" progress field.
func parseProgress(field string) (current, max int, ok bool) {
	left, right, found := strings.Cut(field, "/")
	if !found {
		return 0, 0, false
	}
	if strings.TrimSpace(left) == "" || strings.TrimSpace(right) == "" {
		return 0, 0, false
	}
	return atoiOrZero(strings.TrimSpace(left)), atoiOrZero(strings.TrimSpace(right)), true
}

// stepTime consumes one field of a TIME message. HOST_START and HOST_END
// carry a host and a timestamp; SCAN_START and SCAN_END carry only a
// timestamp and drive the task lifecycle.
func (s *Session) stepTime(ctx context.Context) error {
	switch s.state {
	case stTimeKind:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		switch field {
		case "HOST_START":
			s.state = stTimeHostStartHost
		case "HOST_END":
			s.state = stTimeHostEndHost
		case "SCAN_START":
			s.state = stTimeScanStart
		case "SCAN_END":
			s.state = stTimeScanEnd
		default:
			return errors.ErrGrammarViolation(s.state.String(), field)
		}
		return nil

	case stTimeHostStartHost, stTimeHostEndHost:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.currentHost = field
		if s.state == stTimeHostStartHost {
			s.state = stTimeHostStartValue
		} else {
			s.state = stTimeHostEndValue
		}
		return nil

	case stTimeHostStartValue, stTimeHostEndValue:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		at := parseScanTime(field)
		starting := s.state == stTimeHostStartValue
		s.state = stTop

		if s.reportID == uuid.Nil {
			return nil
		}
		var storeErr error
		if starting {
			storeErr = s.stores.Progress.SetHostStartTime(ctx, s.reportID, s.currentHost, at)
		} else {
			storeErr = s.stores.Progress.SetHostEndTime(ctx, s.reportID, s.currentHost, at)
		}
		if storeErr != nil {
			s.logger.ErrorParser("Failed to record host time", s.id, storeErr,
				"host", s.currentHost, "start", starting)
		}
		return nil

	case stTimeScanStart:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.state = stTop
		s.handleScanStart(ctx, parseScanTime(field))
		return nil

	default: // stTimeScanEnd
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.state = stTop
		s.handleScanEnd(ctx, parseScanTime(field))
		return nil
	}
}

// handleScanStart moves a requested task to running and stamps the
// report start time. The store keeps an already recorded start time, so
// a scan resumed after an interruption keeps its original start.
func (s *Session) handleScanStart(ctx context.Context, at time.Time) {
	if s.taskID != uuid.Nil {
		status, err := s.stores.Tasks.RunStatus(ctx, s.taskID)
		if err != nil {
			s.logger.ErrorParser("Failed to read task status", s.id, err,
				"task_id", s.taskID.String())
		} else if status == StatusRequested {
			s.setRunStatus(ctx, StatusRunning)
		}
	}

	if s.reportID == uuid.Nil {
		return
	}
	if err := s.stores.Reports.SetScanStartTime(ctx, s.reportID, at); err != nil {
		s.logger.ErrorParser("Failed to record scan start time", s.id, err,
			"report_id", s.reportID.String())
	}
}

// handleScanEnd reconciles the task's final status with any pending
// external request, stamps the report end time and releases the current
// task binding.
func (s *Session) handleScanEnd(ctx context.Context, at time.Time) {
	if s.taskID != uuid.Nil {
		status, err := s.stores.Tasks.RunStatus(ctx, s.taskID)
		if err != nil {
			s.logger.ErrorParser("Failed to read task status", s.id, err,
				"task_id", s.taskID.String())
			status = ""
		}

		switch status {
		case StatusStopRequested:
			s.setRunStatus(ctx, StatusStopped)
		case StatusPauseRequested, StatusPaused, StatusResumeRequested:
			// A scan cannot end paused; the scanner is gone either way.
			s.setRunStatus(ctx, StatusStopped)
		case StatusDeleteRequested, StatusDeleteUltimateRequested:
			if err := s.stores.Tasks.DeleteTask(ctx, s.taskID); err != nil {
				s.logger.ErrorParser("Failed to delete task", s.id, err,
					"task_id", s.taskID.String())
			}
		case "":
			// Status unavailable; leave the task untouched.
		default:
			s.setRunStatus(ctx, StatusDone)
		}
	}

	if s.reportID != uuid.Nil {
		if err := s.stores.Reports.SetScanEndTime(ctx, s.reportID, at); err != nil {
			s.logger.ErrorParser("Failed to record scan end time", s.id, err,
				"report_id", s.reportID.String())
		}
	}

	s.logger.InfoParser("Scan finished", s.id, "task_id", s.taskID.String())
	s.taskID = uuid.Nil
	s.reportID = uuid.Nil
	s.currentHost = ""
	s.lastRelayed = ""
}

// setRunStatus updates the bound task's run status, logging failures.
func (s *Session) setRunStatus(ctx context.Context, status TaskStatus) {
	if s.taskID == uuid.Nil {
		return
	}
	if err := s.stores.Tasks.SetRunStatus(ctx, s.taskID, status); err != nil {
		s.logger.ErrorParser("Failed to update task status", s.id, err,
			"task_id", s.taskID.String(), "status", string(status))
	}
}
