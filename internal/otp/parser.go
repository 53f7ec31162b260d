package otp

import (
	"context"
	stderrors "errors"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/openfathom/scanward/internal/errors"
	"github.com/openfathom/scanward/internal/metrics"
)

// Wire literals.
const (
	litServer         = "SERVER"
	litScannerLoading = "SCANNER_LOADING"
	litBadLogin       = "Bad login attempt !"
	litUserPrompt     = "User : "
	litPasswordPrompt = "Password : "

	cmdStopWholeTest   = "CLIENT <|> STOP_WHOLE_TEST <|> CLIENT"
	cmdPauseWholeTest  = "CLIENT <|> PAUSE_WHOLE_TEST <|> CLIENT"
	cmdResumeWholeTest = "CLIENT <|> RESUME_WHOLE_TEST <|> CLIENT"
)

var versionLine = regexp.MustCompile(`^<\s*OTP/(\d+)\.(\d+)\s*>$`)

// Parse feeds a chunk of scanner output to the session. It consumes
// complete fields, commits finished records to the stores and returns a
// verdict once a terminal message is recognised or the chunk is
// exhausted. A returned error is fatal: partially built records are
// dropped and the session deactivates. Input beyond a terminal message
// stays buffered for the next call.
func (s *Session) Parse(ctx context.Context, data []byte) (Verdict, error) {
	if !s.active {
		return VerdictContinue, errors.NewProtocolError(errors.CodeSessionClosed, "Session is no longer active")
	}

	s.relayExternalRequests(ctx)
	metrics.RecordBytesConsumed(len(data))

	rest := data
	for {
		if s.buf.Free() == 0 {
			s.buf.Compact()
		}
		n := s.buf.Feed(rest)
		rest = rest[n:]

		verdict, err := s.run(ctx)
		if err != nil {
			s.releasePending()
			s.active = false
			if errors.IsFatal(err) {
				metrics.IncrementGrammarViolations(s.state.String())
			}
			s.logger.ErrorParser("Fatal protocol error", s.id, err,
				"state", s.state.String(), "phase", s.phase.String())
			return VerdictContinue, err
		}
		if verdict != VerdictContinue {
			if verdict == VerdictGoodbye {
				s.active = false
			}
			s.stash(rest)
			return verdict, nil
		}
		if len(rest) == 0 {
			return VerdictContinue, nil
		}
	}
}

// stash buffers the unread remainder of a chunk after a terminal verdict.
func (s *Session) stash(rest []byte) {
	for len(rest) > 0 {
		s.buf.Compact()
		n := s.buf.Feed(rest)
		if n == 0 {
			s.logger.Warn("Dropping scanner input beyond full buffer",
				"session_id", s.id, "dropped", len(rest))
			return
		}
		rest = rest[n:]
	}
}

// run steps the state machine until input runs out or a terminal verdict
// is produced.
func (s *Session) run(ctx context.Context) (Verdict, error) {
	for {
		if s.state == stTop && ctx.Err() != nil {
			return VerdictContinue, errors.WrapProtocolError(errors.CodeCanceled, "Parse canceled", ctx.Err())
		}
		if s.phase == PhaseGotUser || s.phase == PhaseGotPassword {
			// The caller owes the scanner a credential line.
			return VerdictContinue, nil
		}

		verdict, err := s.step(ctx)
		if stderrors.Is(err, ErrNeedMoreInput) {
			if s.buf.Full() {
				return VerdictContinue, errors.ErrOversizedField(s.state.String())
			}
			s.buf.Compact()
			return VerdictContinue, nil
		}
		if err != nil {
			return VerdictContinue, err
		}
		if verdict != VerdictContinue {
			return verdict, nil
		}
	}
}

// step consumes exactly one field (or literal) in the current state.
func (s *Session) step(ctx context.Context) (Verdict, error) {
	switch s.phase {
	case PhaseConnecting:
		return VerdictContinue, errors.NewProtocolError(errors.CodeSessionClosed,
			"Received scanner input before the greeting was sent")
	case PhaseSentVersion:
		return VerdictContinue, s.stepVersion()
	case PhaseGotVersion:
		return VerdictContinue, s.stepPrompt(litUserPrompt, PhaseGotUser)
	case PhaseSentUser:
		return VerdictContinue, s.stepPrompt(litPasswordPrompt, PhaseGotPassword)
	}

	switch s.state {
	case stTop:
		return s.stepTop()
	case stServer:
		return VerdictContinue, s.stepCommand()
	case stByeConfirm:
		return s.stepBye()
	case stLoadingCurrent, stLoadingTotal:
		return s.stepLoading()
	case stFindingHost, stFindingPort, stFindingDescription, stFindingOID:
		return VerdictContinue, s.stepFinding(ctx)
	case stPortHost, stPortNumber:
		return VerdictContinue, s.stepPort()
	case stFeedVersion:
		return VerdictContinue, s.stepFeedVersion(ctx)
	case stPluginOID, stPluginName, stPluginCategory, stPluginCopyright,
		stPluginDescription, stPluginSummary, stPluginFamily, stPluginCVE,
		stPluginBID, stPluginXrefs, stPluginVersion, stPluginFprs,
		stPluginTags:
		return VerdictContinue, s.stepPlugin(ctx)
	case stPrefName, stPrefValue:
		return VerdictContinue, s.stepPreference(ctx)
	case stRules:
		return VerdictContinue, s.stepRule()
	case stCertFingerprint, stCertOwner, stCertTrust, stCertLength, stCertKey:
		return VerdictContinue, s.stepCertificate()
	case stDepName, stDepRequires:
		return VerdictContinue, s.stepDependency()
	case stStatusHost, stStatusState, stStatusProgress:
		return VerdictContinue, s.stepStatus(ctx)
	case stTimeKind, stTimeHostStartHost, stTimeHostStartValue,
		stTimeHostEndHost, stTimeHostEndValue, stTimeScanStart, stTimeScanEnd:
		return VerdictContinue, s.stepTime(ctx)
	default:
		return VerdictContinue, errors.NewProtocolErrorInState(errors.CodeGrammarViolation,
			"Parser reached an unknown state", s.state.String())
	}
}

// stepVersion parses the scanner's version reply and settles the grammar
// era for the rest of the session.
func (s *Session) stepVersion() error {
	line, err := s.buf.TakeField(delimNewline)
	if err != nil {
		return err
	}

	m := versionLine.FindStringSubmatch(line)
	if m == nil {
		return errors.ErrVersionMismatch(line)
	}
	major, _ := strconv.Atoi(m[1])
	switch major {
	case 1:
		s.legacy = true
		s.phase = PhaseGotVersion
	case 2:
		s.legacy = false
		s.phase = s.postAuthPhase()
	default:
		return errors.ErrVersionMismatch(line)
	}

	s.logger.InfoParser("Negotiated protocol version", s.id,
		"version", m[1]+"."+m[2], "legacy", s.legacy)
	return nil
}

// stepPrompt waits for a legacy handshake prompt literal.
func (s *Session) stepPrompt(prompt string, next Phase) error {
	s.buf.SkipLeadingSpace()
	ok, err := s.buf.MatchLiteral(prompt)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrGrammarViolation("handshake", prompt)
	}
	s.phase = next
	return nil
}

// stepTop consumes the block opener. The scanner terminates every message
// with its own name, which this state absorbs as the next block's opener;
// empty fields produced by trailing delimiters are skipped.
func (s *Session) stepTop() (Verdict, error) {
	s.buf.SkipLeadingSpace()

	// Only the legacy handshake has credentials to reject; the notice
	// arrives as a bare line outside any block.
	if s.legacy {
		badLogin, err := s.buf.MatchLiteral(litBadLogin)
		if err != nil {
			return VerdictContinue, err
		}
		if badLogin {
			s.logger.Warn("Scanner rejected credentials", "session_id", s.id)
			s.ResetHandshake()
			return VerdictBadLogin, nil
		}
	}

	// Openers are token-delimited but the trailer that echoes the block
	// name is newline-terminated, so either delimiter ends this field.
	field, atNewline, err := s.buf.TakeFieldAny()
	if err != nil {
		return VerdictContinue, err
	}

	switch field {
	case "":
		return VerdictContinue, nil
	case litServer:
		if atNewline {
			// Newline-terminated SERVER is a message trailer; the next
			// block begins with its own token-delimited opener.
			return VerdictContinue, nil
		}
		s.state = stServer
		return VerdictContinue, nil
	case litScannerLoading:
		if s.legacy {
			return VerdictContinue, errors.ErrGrammarViolation(s.state.String(), field)
		}
		s.state = stLoadingCurrent
		return VerdictContinue, nil
	default:
		return VerdictContinue, errors.ErrGrammarViolation(s.state.String(), field)
	}
}

// stepLoading parses the two progress fields of a loading notice. The
// whole notice is consumed so a retry starts from a clean stream.
func (s *Session) stepLoading() (Verdict, error) {
	switch s.state {
	case stLoadingCurrent:
		field, err := s.buf.TakeField(delimToken)
		if err != nil {
			return VerdictContinue, err
		}
		s.loadingCurrent = atoiOrZero(field)
		s.state = stLoadingTotal
		return VerdictContinue, nil
	default:
		field, _, err := s.buf.TakeFieldAny()
		if err != nil {
			return VerdictContinue, err
		}
		s.loadingTotal = atoiOrZero(field)
		s.state = stTop
		s.logger.InfoParser("Scanner still loading plugins", s.id,
			"loaded", s.loadingCurrent, "total", s.loadingTotal)
		return VerdictScannerLoading, nil
	}
}

// stepCommand dispatches on the message name following a SERVER opener.
func (s *Session) stepCommand() error {
	cmd, err := s.buf.TakeField(delimToken)
	if err != nil {
		return err
	}
	metrics.IncrementMessages(cmd)

	if class, ok := s.findingClassFor(cmd); ok {
		s.findingClass = class
		s.finding = &Finding{Class: class}
		s.state = stFindingHost
		return nil
	}

	switch cmd {
	case "BYE":
		s.state = stByeConfirm
	case "PORT":
		s.state = stPortHost
	case "STATUS":
		s.state = stStatusHost
	case "TIME":
		s.state = stTimeKind
	case "PLUGIN_LIST":
		s.plugin = nil
		s.plugins = nil
		s.state = stPluginOID
	case "PLUGINS_MD5":
		if !s.legacy {
			return errors.ErrGrammarViolation(s.state.String(), cmd)
		}
		s.state = stFeedVersion
	case "NVT_INFO":
		if s.legacy {
			return errors.ErrGrammarViolation(s.state.String(), cmd)
		}
		s.state = stFeedVersion
	case "PREFERENCES":
		s.state = stPrefName
	case "RULES":
		if !s.legacy {
			return errors.ErrGrammarViolation(s.state.String(), cmd)
		}
		s.state = stRules
	case "CERTIFICATES":
		if !s.legacy {
			return errors.ErrGrammarViolation(s.state.String(), cmd)
		}
		s.state = stCertFingerprint
	case "PLUGIN_DEPENDENCY":
		if !s.legacy {
			return errors.ErrGrammarViolation(s.state.String(), cmd)
		}
		s.dependencies = nil
		s.state = stDepName
	default:
		return errors.ErrGrammarViolation(s.state.String(), cmd)
	}
	return nil
}

// findingClassFor maps a finding message name to its class, enforcing the
// grammar era each name belongs to.
func (s *Session) findingClassFor(cmd string) (FindingClass, bool) {
	switch cmd {
	case "ERRMSG":
		return ClassError, true
	case "HOLE":
		return ClassHole, true
	case "ALARM":
		if !s.legacy {
			return ClassAlarm, true
		}
	case "INFO":
		if s.legacy {
			return ClassWarning, true
		}
	case "LOG":
		return ClassLog, true
	case "NOTE":
		return ClassNote, true
	}
	return "", false
}

// stepBye consumes the confirmation field of SERVER <|> BYE <|> BYE and
// ends the session.
func (s *Session) stepBye() (Verdict, error) {
	field, err := s.buf.TakeField(delimToken)
	if err != nil {
		return VerdictContinue, err
	}
	if field != "BYE" {
		return VerdictContinue, errors.ErrGrammarViolation(s.state.String(), field)
	}
	s.state = stTop
	s.logger.InfoParser("Scanner said goodbye", s.id)
	return VerdictGoodbye, nil
}

// atoiOrZero parses a decimal field, degrading to zero on malformed
// input. Numeric scanner fields never abort a session.
func atoiOrZero(field string) int {
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0
	}
	return n
}

// relayExternalRequests forwards an externally requested task status
// change to the scanner. It runs before parsing on every invocation and
// resends only when the requested state changes.
func (s *Session) relayExternalRequests(ctx context.Context) {
	if s.taskID == uuid.Nil || s.stores.Tasks == nil {
		return
	}

	requested, ok, err := s.stores.Tasks.RequestedChange(ctx, s.taskID)
	if err != nil {
		s.logger.ErrorParser("Failed to check for requested status change", s.id, err,
			"task_id", s.taskID.String())
		return
	}
	if !ok || requested == s.lastRelayed {
		return
	}

	var cmd string
	switch requested {
	case StatusStopRequested, StatusDeleteRequested, StatusDeleteUltimateRequested:
		cmd = cmdStopWholeTest
	case StatusPauseRequested:
		cmd = cmdPauseWholeTest
	case StatusResumeRequested:
		cmd = cmdResumeWholeTest
	default:
		return
	}

	if err := s.out.Enqueue(cmd); err != nil {
		s.logger.ErrorParser("Failed to queue scanner command", s.id, err, "command", cmd)
		return
	}
	s.lastRelayed = requested
	s.logger.InfoParser("Relayed status change to scanner", s.id,
		"task_id", s.taskID.String(), "requested", string(requested))
}
