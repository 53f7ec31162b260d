package otp

import (
	"github.com/google/uuid"

	"github.com/openfathom/scanward/internal/logging"
)

// Phase tracks handshake progress. Phases at PhaseDone and beyond mean
// the handshake finished and the dispatch grammar is live.
type Phase int

const (
	// PhaseConnecting means the greeting has not been sent yet.
	PhaseConnecting Phase = iota
	// PhaseSentVersion awaits the scanner's version line.
	PhaseSentVersion
	// PhaseGotVersion awaits the legacy username prompt.
	PhaseGotVersion
	// PhaseGotUser means the username prompt arrived; the caller must send
	// the username.
	PhaseGotUser
	// PhaseSentUser awaits the legacy password prompt.
	PhaseSentUser
	// PhaseGotPassword means the password prompt arrived; the caller must
	// send the password.
	PhaseGotPassword
	// PhaseDone is a completed handshake in a plain scan session.
	PhaseDone
	// PhaseDoneCacheRebuild is a completed handshake with a full cache
	// rebuild negotiated.
	PhaseDoneCacheRebuild
	// PhaseDoneCacheUpdate is a completed handshake with an incremental
	// cache update negotiated.
	PhaseDoneCacheUpdate
	// PhaseGotFeedVersion means the feed version arrived after handshake.
	PhaseGotFeedVersion
	// PhaseGotPlugins means a full plugin list arrived after the feed
	// version.
	PhaseGotPlugins
)

// String returns the phase name used in logs.
func (p Phase) String() string {
	names := [...]string{
		"connecting", "sent_version", "got_version", "got_user", "sent_user",
		"got_password", "done", "done_cache_rebuild", "done_cache_update",
		"got_feed_version", "got_plugins",
	}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// Done reports whether the handshake has completed.
func (p Phase) Done() bool {
	return p >= PhaseDone
}

// state identifies the dispatch position between two parser invocations.
type state int

const (
	stTop state = iota
	stServer
	stByeConfirm
	stLoadingCurrent
	stLoadingTotal
	stFindingHost
	stFindingPort
	stFindingDescription
	stFindingOID
	stPortHost
	stPortNumber
	stFeedVersion
	stPluginOID
	stPluginName
	stPluginCategory
	stPluginCopyright
	stPluginDescription
	stPluginSummary
	stPluginFamily
	stPluginCVE
	stPluginBID
	stPluginXrefs
	stPluginVersion
	stPluginFprs
	stPluginTags
	stPrefName
	stPrefValue
	stRules
	stCertFingerprint
	stCertOwner
	stCertTrust
	stCertLength
	stCertKey
	stDepName
	stDepRequires
	stStatusHost
	stStatusState
	stStatusProgress
	stTimeKind
	stTimeHostStartHost
	stTimeHostStartValue
	stTimeHostEndHost
	stTimeHostEndValue
	stTimeScanStart
	stTimeScanEnd
)

var stateNames = map[state]string{
	stTop:                "top",
	stServer:             "server",
	stByeConfirm:         "bye",
	stLoadingCurrent:     "loading_current",
	stLoadingTotal:       "loading_total",
	stFindingHost:        "finding_host",
	stFindingPort:        "finding_port",
	stFindingDescription: "finding_description",
	stFindingOID:         "finding_oid",
	stPortHost:           "port_host",
	stPortNumber:         "port_number",
	stFeedVersion:        "feed_version",
	stPluginOID:          "plugin_oid",
	stPluginName:         "plugin_name",
	stPluginCategory:     "plugin_category",
	stPluginCopyright:    "plugin_copyright",
	stPluginDescription:  "plugin_description",
	stPluginSummary:      "plugin_summary",
	stPluginFamily:       "plugin_family",
	stPluginCVE:          "plugin_cve",
	stPluginBID:          "plugin_bid",
	stPluginXrefs:        "plugin_xrefs",
	stPluginVersion:      "plugin_version",
	stPluginFprs:         "plugin_fprs",
	stPluginTags:         "plugin_tags",
	stPrefName:           "preference_name",
	stPrefValue:          "preference_value",
	stRules:              "rules",
	stCertFingerprint:    "certificate_fingerprint",
	stCertOwner:          "certificate_owner",
	stCertTrust:          "certificate_trust",
	stCertLength:         "certificate_length",
	stCertKey:            "certificate_key",
	stDepName:            "dependency_name",
	stDepRequires:        "dependency_requires",
	stStatusHost:         "status_host",
	stStatusState:        "status_state",
	stStatusProgress:     "status_progress",
	stTimeKind:           "time_kind",
	stTimeHostStartHost:  "time_host_start_host",
	stTimeHostStartValue: "time_host_start_value",
	stTimeHostEndHost:    "time_host_end_host",
	stTimeHostEndValue:   "time_host_end_value",
	stTimeScanStart:      "time_scan_start",
	stTimeScanEnd:        "time_scan_end",
}

func (s state) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Options configures a new session.
type Options struct {
	// ID identifies the session in logs, typically the connection ID.
	ID string

	// Legacy selects the 1.x grammar. The negotiated version line may
	// override this.
	Legacy bool

	// CacheMode is the NVT cache behaviour requested for this session.
	CacheMode CacheMode

	// BufferSize caps the receive window and thereby the longest field.
	BufferSize int

	// Stores receive committed records.
	Stores Stores

	// Outbound queues commands to the scanner.
	Outbound Outbound

	// Logger defaults to the package logger when nil.
	Logger *logging.Logger
}

// DefaultBufferSize is used when Options.BufferSize is zero.
const DefaultBufferSize = 1 << 20

// Session is the per-connection parser state. It owns the receive buffer,
// the handshake and dispatch machines and all partially built records.
// A session is not safe for concurrent use; the owning connection worker
// is its only caller.
type Session struct {
	id        string
	legacy    bool
	cacheMode CacheMode

	buf   *Buffer
	phase Phase
	state state

	// Partially built records. At most one is non-nil at a time, matching
	// the dispatch state.
	finding *Finding
	plugin  *PluginRecord
	cert    *Certificate
	dep     *PluginDependency

	plugins      []*PluginRecord
	rules        []string
	certificates []Certificate
	dependencies []PluginDependency
	preferences  map[string]string

	// Cursor fields for multi-field blocks.
	findingClass   FindingClass
	currentHost    string
	prefName       string
	prefSecret     bool
	loadingCurrent int
	loadingTotal   int

	taskID      uuid.UUID
	reportID    uuid.UUID
	lastRelayed TaskStatus

	active bool

	stores Stores
	out    Outbound
	logger *logging.Logger
}

// NewSession builds a session in the connecting phase. The caller sends
// the protocol greeting and then calls VersionSent before the first
// Parse.
func NewSession(opts Options) *Session {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Session{
		id:          opts.ID,
		legacy:      opts.Legacy,
		cacheMode:   opts.CacheMode,
		buf:         NewBuffer(size),
		phase:       PhaseConnecting,
		state:       stTop,
		preferences: make(map[string]string),
		active:      true,
		stores:      opts.Stores,
		out:         opts.Outbound,
		logger:      logger,
	}
}

// VersionSent records that the greeting went out and the scanner's
// version line is expected next.
func (s *Session) VersionSent() {
	s.phase = PhaseSentVersion
}

// UserSent records that the legacy username was written to the scanner.
func (s *Session) UserSent() {
	s.phase = PhaseSentUser
}

// PasswordSent records that the legacy password was written. It completes
// the handshake, subject to a bad-login response from the scanner.
func (s *Session) PasswordSent() {
	s.phase = s.postAuthPhase()
}

// postAuthPhase maps the cache mode to the completed handshake phase.
func (s *Session) postAuthPhase() Phase {
	switch s.cacheMode {
	case CacheRebuild:
		return PhaseDoneCacheRebuild
	case CacheUpdate:
		return PhaseDoneCacheUpdate
	default:
		return PhaseDone
	}
}

// inCacheUpdate reports whether preference values should be persisted.
// Outside cache sessions preferences are parsed but discarded.
func (s *Session) inCacheUpdate() bool {
	return s.cacheMode != CacheNone && s.phase >= PhaseDoneCacheRebuild
}

// Phase returns the current handshake phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Active reports whether the session can still accept input. A fatal
// grammar violation or a goodbye deactivates it.
func (s *Session) Active() bool {
	return s.active
}

// Legacy reports whether the 1.x grammar is in effect.
func (s *Session) Legacy() bool {
	return s.legacy
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SetCurrentTask binds the session to the task and report subsequent
// findings and lifecycle messages belong to.
func (s *Session) SetCurrentTask(taskID, reportID uuid.UUID) {
	s.taskID = taskID
	s.reportID = reportID
	s.lastRelayed = ""
}

// CurrentTask returns the bound task and report identifiers.
func (s *Session) CurrentTask() (uuid.UUID, uuid.UUID) {
	return s.taskID, s.reportID
}

// Rules returns the scanner rules accumulated so far.
func (s *Session) Rules() []string {
	return s.rules
}

// Certificates returns the signing certificates the legacy scanner sent.
func (s *Session) Certificates() []Certificate {
	return s.certificates
}

// Dependencies returns the plugin dependency records the legacy scanner
// sent.
func (s *Session) Dependencies() []PluginDependency {
	return s.dependencies
}

// Preferences returns the preference values seen this session, including
// ones that were not persisted.
func (s *Session) Preferences() map[string]string {
	return s.preferences
}

// LoadingProgress returns the most recent scanner loading progress.
func (s *Session) LoadingProgress() (current, total int) {
	return s.loadingCurrent, s.loadingTotal
}

// Reset returns the session to its initial state for a reconnect. Session
// state never resets between messages, only here.
func (s *Session) Reset() {
	s.buf.Reset()
	s.phase = PhaseConnecting
	s.state = stTop
	s.releasePending()
	s.plugins = nil
	s.rules = nil
	s.certificates = nil
	s.dependencies = nil
	s.preferences = make(map[string]string)
	s.currentHost = ""
	s.prefName = ""
	s.prefSecret = false
	s.loadingCurrent = 0
	s.loadingTotal = 0
	s.taskID = uuid.Nil
	s.reportID = uuid.Nil
	s.lastRelayed = ""
	s.active = true
}

// ResetHandshake rewinds to the post-version phase after a bad login so
// the caller can retry the legacy credential exchange.
func (s *Session) ResetHandshake() {
	s.phase = PhaseGotVersion
	s.state = stTop
}

// releasePending drops partially built records. Called on fatal errors so
// nothing half-parsed survives.
func (s *Session) releasePending() {
	s.finding = nil
	s.plugin = nil
	s.cert = nil
	s.dep = nil
	s.findingClass = ""
}
