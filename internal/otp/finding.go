package otp

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/openfathom/scanward/internal/metrics"
)

// stepFinding consumes one field of a finding message. All six finding
// messages share the host/port/description/OID shape and differ only in
// the class assigned at dispatch.
func (s *Session) stepFinding(ctx context.Context) error {
	switch s.state {
	case stFindingHost:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.finding.Host = field
		s.currentHost = field
		s.state = stFindingPort
		return nil

	case stFindingPort:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.finding.Port = parsePort(field)
		s.state = stFindingDescription
		return nil

	case stFindingDescription:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.finding.Description = field
		s.state = stFindingOID
		return nil

	default: // stFindingOID
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.finding.OID = field
		s.state = stTop
		s.commitFinding(ctx)
		return nil
	}
}

// commitFinding routes the completed finding to the result store, or to
// the host-detail store for the host-detail log channel. Store failures
// are logged; they never abort parsing.
func (s *Session) commitFinding(ctx context.Context) {
	f := s.finding
	s.finding = nil
	s.findingClass = ""

	metrics.IncrementFindings(string(f.Class))

	if s.reportID == uuid.Nil {
		s.logger.Debug("Dropping finding outside a scan",
			"session_id", s.id, "class", string(f.Class), "host", f.Host)
		return
	}

	if f.Class == ClassLog && f.Port.Raw == hostDetailPort {
		// Host details carry a literal backslash-n trailer on the wire.
		detail := strings.TrimSuffix(f.Description, `\n`)
		if err := s.stores.Results.AppendHostDetail(ctx, s.reportID, f.Host, detail); err != nil {
			s.logger.ErrorParser("Failed to store host detail", s.id, err,
				"host", f.Host, "report_id", s.reportID.String())
		}
		return
	}

	if err := s.stores.Results.AppendResult(ctx, s.taskID, s.reportID, f); err != nil {
		s.logger.ErrorParser("Failed to store finding", s.id, err,
			"class", string(f.Class), "host", f.Host)
	}
}

// stepPort parses the informational PORT message. The scanner announces
// each open port it found; the record is logged and discarded since open
// ports also arrive as log findings.
func (s *Session) stepPort() error {
	switch s.state {
	case stPortHost:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		s.currentHost = field
		s.state = stPortNumber
		return nil
	default: // stPortNumber
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return err
		}
		port := parsePort(field)
		s.logger.Debug("Scanner reported open port",
			"session_id", s.id, "host", s.currentHost,
			"port", port.Number, "protocol", string(port.Protocol))
		s.state = stTop
		return nil
	}
}
