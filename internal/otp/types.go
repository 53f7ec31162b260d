package otp

import (
	"strings"
)

// Verdict is the outcome of a parser invocation. Fatal grammar violations
// are reported through the error return instead, since they are the only
// non-recoverable outcome.
type Verdict int

const (
	// VerdictContinue means parsing may proceed; more input is expected.
	VerdictContinue Verdict = iota
	// VerdictGoodbye means the scanner acknowledged the end of the session.
	VerdictGoodbye
	// VerdictBadLogin means the scanner rejected the handshake credentials.
	VerdictBadLogin
	// VerdictScannerLoading means the scanner is still loading its plugin
	// set and the caller should retry later without altering the session.
	VerdictScannerLoading
)

// String returns a human-readable verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictGoodbye:
		return "goodbye"
	case VerdictBadLogin:
		return "bad_login"
	case VerdictScannerLoading:
		return "scanner_loading"
	default:
		return "unknown"
	}
}

// FindingClass labels a committed result with the severity class of the
// originating scanner message.
type FindingClass string

const (
	ClassError   FindingClass = "Error Message"
	ClassHole    FindingClass = "Security Hole"
	ClassAlarm   FindingClass = "Alarm"
	ClassWarning FindingClass = "Security Warning"
	ClassLog     FindingClass = "Log Message"
	ClassNote    FindingClass = "Security Note"
)

// PortProtocol is the transport protocol of a finding's port. An empty
// protocol means the port descriptor could not be parsed.
type PortProtocol string

const (
	ProtocolTCP   PortProtocol = "tcp"
	ProtocolUDP   PortProtocol = "udp"
	ProtocolOther PortProtocol = "other"
)

// Port holds a parsed port descriptor alongside the raw field text.
type Port struct {
	Number   int
	Protocol PortProtocol
	Raw      string
}

// parsePort interprets a scanner port descriptor. It accepts the forms
// "name (number/protocol)", "number/protocol" and a bare integer. Parse
// failure degrades to a zero port with an empty protocol; it never fails.
func parsePort(raw string) Port {
	p := Port{Raw: raw}

	spec := raw
	if open := strings.LastIndex(spec, "("); open >= 0 && strings.HasSuffix(spec, ")") {
		spec = spec[open+1 : len(spec)-1]
	}

	number := spec
	protocol := ""
	hasProtocol := false
	if slash := strings.IndexByte(spec, '/'); slash >= 0 {
		number = spec[:slash]
		protocol = spec[slash+1:]
		hasProtocol = true
	}

	n := 0
	for _, c := range strings.TrimSpace(number) {
		if c < '0' || c > '9' {
			return p
		}
		n = n*10 + int(c-'0')
	}
	if number == "" {
		return p
	}

	p.Number = n
	if !hasProtocol {
		return p
	}
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "tcp":
		p.Protocol = ProtocolTCP
	case "udp":
		p.Protocol = ProtocolUDP
	default:
		p.Protocol = ProtocolOther
	}
	return p
}

// Finding is one result record destined for a report.
type Finding struct {
	Host        string
	Port        Port
	Description string
	OID         string
	Class       FindingClass
}

// hostDetailPort is the sentinel port string routing a log finding to the
// host-detail store instead of the generic result list.
const hostDetailPort = "general/Host_Details"

// PluginRecord holds the metadata of one scanner plugin (NVT).
type PluginRecord struct {
	OID         string
	Name        string
	Category    int
	Copyright   string
	Description string
	Summary     string
	Family      string
	Version     string
	CVEs        []string
	BIDs        []string
	XRefs       []string
	SignKeyIDs  []string
	Tags        map[string]string
	CVSSBase    string
	RiskFactor  string
}

// SetTags splits a raw semicolon-delimited tag field into the tag map and
// extracts the cvss_base and risk_factor values. The flat string is not
// retained.
func (p *PluginRecord) SetTags(raw string) {
	p.Tags = make(map[string]string)
	if raw == "" || raw == "NOTAG" {
		return
	}
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		p.Tags[key] = value
	}
	p.CVSSBase = p.Tags["cvss_base"]
	p.RiskFactor = p.Tags["risk_factor"]
}

// splitPluginList splits a comma-separated identifier list such as the CVE
// or BID fields. The scanner sends a literal placeholder when the list is
// empty.
func splitPluginList(raw, placeholder string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == placeholder {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// PluginDependency maps one plugin to the ordered list of plugins it
// requires. Legacy grammar only.
type PluginDependency struct {
	Name     string
	Requires []string
}

// Certificate is a scanner-supplied signing certificate. Legacy grammar only.
type Certificate struct {
	Fingerprint string
	Owner       string
	Trusted     bool
	PublicKey   string
}

// TaskStatus is the run status of a task in the lifecycle store.
type TaskStatus string

const (
	StatusNew                     TaskStatus = "new"
	StatusRequested               TaskStatus = "requested"
	StatusRunning                 TaskStatus = "running"
	StatusPauseRequested          TaskStatus = "pause_requested"
	StatusPaused                  TaskStatus = "paused"
	StatusResumeRequested         TaskStatus = "resume_requested"
	StatusStopRequested           TaskStatus = "stop_requested"
	StatusStopped                 TaskStatus = "stopped"
	StatusDeleteRequested         TaskStatus = "delete_requested"
	StatusDeleteUltimateRequested TaskStatus = "delete_ultimate_requested"
	StatusDone                    TaskStatus = "done"
)

// ResyncMode tags a bulk plugin commit with the cache refresh strategy.
type ResyncMode int

const (
	// ResyncIncremental merges the plugin list into the existing cache.
	ResyncIncremental ResyncMode = iota
	// ResyncFull replaces the cache with the plugin list.
	ResyncFull
)

// CacheMode selects the NVT cache behaviour negotiated for a session.
type CacheMode int

const (
	// CacheNone runs a normal scan session without cache refresh.
	CacheNone CacheMode = iota
	// CacheRebuild rebuilds the NVT cache from scratch.
	CacheRebuild
	// CacheUpdate refreshes the NVT cache incrementally.
	CacheUpdate
)
