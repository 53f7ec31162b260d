package otp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openfathom/scanward/internal/errors"
)

// fakeStore implements every collaborator interface in memory.
type fakeStore struct {
	results      []*Finding
	resultTasks  []uuid.UUID
	details      map[string][]string
	statuses     map[uuid.UUID]TaskStatus
	requested    map[uuid.UUID]TaskStatus
	deleted      []uuid.UUID
	scanStarts   map[uuid.UUID][]time.Time
	scanEnds     map[uuid.UUID]time.Time
	hostStarts   map[string]time.Time
	hostEnds     map[string]time.Time
	attackStates map[string]string
	progress     map[string][2]int
	committed    [][]*PluginRecord
	resyncModes  []ResyncMode
	feedVersion  string
	prefs        map[string]string
	overwrites   map[string]bool
	failAll      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		details:      make(map[string][]string),
		statuses:     make(map[uuid.UUID]TaskStatus),
		requested:    make(map[uuid.UUID]TaskStatus),
		scanStarts:   make(map[uuid.UUID][]time.Time),
		scanEnds:     make(map[uuid.UUID]time.Time),
		hostStarts:   make(map[string]time.Time),
		hostEnds:     make(map[string]time.Time),
		attackStates: make(map[string]string),
		progress:     make(map[string][2]int),
		prefs:        make(map[string]string),
		overwrites:   make(map[string]bool),
	}
}

func (f *fakeStore) AppendResult(_ context.Context, taskID, _ uuid.UUID, finding *Finding) error {
	if f.failAll != nil {
		return f.failAll
	}
	f.results = append(f.results, finding)
	f.resultTasks = append(f.resultTasks, taskID)
	return nil
}

func (f *fakeStore) AppendHostDetail(_ context.Context, _ uuid.UUID, host, detail string) error {
	if f.failAll != nil {
		return f.failAll
	}
	f.details[host] = append(f.details[host], detail)
	return nil
}

func (f *fakeStore) RunStatus(_ context.Context, taskID uuid.UUID) (TaskStatus, error) {
	if f.failAll != nil {
		return "", f.failAll
	}
	return f.statuses[taskID], nil
}

func (f *fakeStore) SetRunStatus(_ context.Context, taskID uuid.UUID, status TaskStatus) error {
	if f.failAll != nil {
		return f.failAll
	}
	f.statuses[taskID] = status
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID uuid.UUID) error {
	f.deleted = append(f.deleted, taskID)
	return nil
}

func (f *fakeStore) RequestedChange(_ context.Context, taskID uuid.UUID) (TaskStatus, bool, error) {
	if f.failAll != nil {
		return "", false, f.failAll
	}
	status, ok := f.requested[taskID]
	return status, ok, nil
}

func (f *fakeStore) SetScanStartTime(_ context.Context, reportID uuid.UUID, at time.Time) error {
	f.scanStarts[reportID] = append(f.scanStarts[reportID], at)
	return nil
}

func (f *fakeStore) SetScanEndTime(_ context.Context, reportID uuid.UUID, at time.Time) error {
	f.scanEnds[reportID] = at
	return nil
}

func (f *fakeStore) SetHostStartTime(_ context.Context, _ uuid.UUID, host string, at time.Time) error {
	f.hostStarts[host] = at
	return nil
}

func (f *fakeStore) SetHostEndTime(_ context.Context, _ uuid.UUID, host string, at time.Time) error {
	f.hostEnds[host] = at
	return nil
}

func (f *fakeStore) SetAttackState(_ context.Context, _ uuid.UUID, host, state string) error {
	f.attackStates[host] = state
	return nil
}

func (f *fakeStore) SetPortsProgress(_ context.Context, _ uuid.UUID, host string, current, maxPorts int) error {
	f.progress[host] = [2]int{current, maxPorts}
	return nil
}

func (f *fakeStore) BulkUpsert(_ context.Context, plugins []*PluginRecord, mode ResyncMode) error {
	if f.failAll != nil {
		return f.failAll
	}
	f.committed = append(f.committed, plugins)
	f.resyncModes = append(f.resyncModes, mode)
	return nil
}

func (f *fakeStore) SetFeedVersion(_ context.Context, version string) error {
	f.feedVersion = version
	return nil
}

func (f *fakeStore) UpsertPreference(_ context.Context, name, value string, overwrite bool) error {
	if f.failAll != nil {
		return f.failAll
	}
	f.prefs[name] = value
	f.overwrites[name] = overwrite
	return nil
}

func (f *fakeStore) stores() Stores {
	return Stores{
		Results:     f,
		Tasks:       f,
		Reports:     f,
		Progress:    f,
		NVTs:        f,
		Preferences: f,
	}
}

// fakeOutbound collects enqueued commands.
type fakeOutbound struct {
	queued []string
	fail   error
}

func (f *fakeOutbound) Enqueue(command string) error {
	if f.fail != nil {
		return f.fail
	}
	f.queued = append(f.queued, command)
	return nil
}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeStore, *fakeOutbound) {
	t.Helper()

	store := newFakeStore()
	out := &fakeOutbound{}
	opts.ID = "test-session"
	opts.Stores = store.stores()
	opts.Outbound = out
	if opts.BufferSize == 0 {
		opts.BufferSize = 4096
	}
	return NewSession(opts), store, out
}

// modernSession returns a session with the 2.0 handshake completed.
func modernSession(t *testing.T, cache CacheMode) (*Session, *fakeStore, *fakeOutbound) {
	t.Helper()

	s, store, out := newTestSession(t, Options{CacheMode: cache})
	s.VersionSent()
	verdict, err := s.Parse(context.Background(), []byte("< OTP/2.0 >\n"))
	if err != nil || verdict != VerdictContinue {
		t.Fatalf("Handshake failed: verdict=%v err=%v", verdict, err)
	}
	if !s.Phase().Done() {
		t.Fatalf("Modern handshake should complete after version line, phase=%v", s.Phase())
	}
	return s, store, out
}

func mustParse(t *testing.T, s *Session, input string) Verdict {
	t.Helper()
	verdict, err := s.Parse(context.Background(), []byte(input))
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return verdict
}

func TestModernHandshake(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	s.VersionSent()

	verdict := mustParse(t, s, "< OTP/2.0 >\n")
	if verdict != VerdictContinue {
		t.Errorf("Expected continue, got %v", verdict)
	}
	if s.Legacy() {
		t.Error("Version 2.0 must select the modern grammar")
	}
	if s.Phase() != PhaseDone {
		t.Errorf("Expected phase done, got %v", s.Phase())
	}
}

func TestModernHandshakeCacheModes(t *testing.T) {
	tests := []struct {
		mode  CacheMode
		phase Phase
	}{
		{CacheNone, PhaseDone},
		{CacheRebuild, PhaseDoneCacheRebuild},
		{CacheUpdate, PhaseDoneCacheUpdate},
	}
	for _, tt := range tests {
		s, _, _ := newTestSession(t, Options{CacheMode: tt.mode})
		s.VersionSent()
		mustParse(t, s, "< OTP/2.0 >\n")
		if s.Phase() != tt.phase {
			t.Errorf("Cache mode %v: expected phase %v, got %v", tt.mode, tt.phase, s.Phase())
		}
	}
}

func TestLegacyHandshake(t *testing.T) {
	s, _, _ := newTestSession(t, Options{Legacy: true})
	s.VersionSent()

	mustParse(t, s, "< OTP/1.0 >\n")
	if !s.Legacy() {
		t.Fatal("Version 1.0 must select the legacy grammar")
	}
	if s.Phase() != PhaseGotVersion {
		t.Fatalf("Expected got_version phase, got %v", s.Phase())
	}

	mustParse(t, s, "User : ")
	if s.Phase() != PhaseGotUser {
		t.Fatalf("Expected got_user after prompt, got %v", s.Phase())
	}
	s.UserSent()

	mustParse(t, s, "Password : ")
	if s.Phase() != PhaseGotPassword {
		t.Fatalf("Expected got_password after prompt, got %v", s.Phase())
	}
	s.PasswordSent()

	if s.Phase() != PhaseDone {
		t.Errorf("Expected done after password, got %v", s.Phase())
	}
}

func TestVersionLineOverridesConfiguredEra(t *testing.T) {
	// Configured modern, but the scanner answers with a 1.x version.
	s, _, _ := newTestSession(t, Options{Legacy: false})
	s.VersionSent()

	mustParse(t, s, "< OTP/1.2 >\n")
	if !s.Legacy() {
		t.Error("Negotiated 1.x version must switch to the legacy grammar")
	}
}

func TestVersionMismatch(t *testing.T) {
	for _, line := range []string{"< OTP/3.0 >\n", "SSH-2.0-OpenSSH\n", "< NTP/1.2 >\n"} {
		s, _, _ := newTestSession(t, Options{})
		s.VersionSent()

		_, err := s.Parse(context.Background(), []byte(line))
		if !errors.IsCode(err, errors.CodeVersionMismatch) {
			t.Errorf("Line %q: expected version mismatch, got %v", line, err)
		}
		if s.Active() {
			t.Error("Version mismatch must deactivate the session")
		}
	}
}

func TestBadLoginResetsHandshake(t *testing.T) {
	s, _, _ := newTestSession(t, Options{Legacy: true})
	s.VersionSent()
	mustParse(t, s, "< OTP/1.0 >\nUser : ")
	s.UserSent()
	mustParse(t, s, "Password : ")
	s.PasswordSent()

	verdict := mustParse(t, s, "Bad login attempt !\n")
	if verdict != VerdictBadLogin {
		t.Fatalf("Expected bad login verdict, got %v", verdict)
	}
	if !s.Active() {
		t.Error("Bad login is not fatal; the caller may retry credentials")
	}
	if s.Phase() != PhaseGotVersion {
		t.Errorf("Bad login should rewind to the credential exchange, phase=%v", s.Phase())
	}
}

func TestBadLoginSplitAcrossReads(t *testing.T) {
	s, _, _ := newTestSession(t, Options{Legacy: true})
	s.VersionSent()
	mustParse(t, s, "< OTP/1.0 >\nUser : ")
	s.UserSent()
	mustParse(t, s, "Password : ")
	s.PasswordSent()

	if verdict := mustParse(t, s, "Bad login at"); verdict != VerdictContinue {
		t.Fatalf("Partial literal should wait for more input, got %v", verdict)
	}
	if verdict := mustParse(t, s, "tempt !\n"); verdict != VerdictBadLogin {
		t.Fatalf("Expected bad login after completion, got %v", verdict)
	}
}

func TestBadLoginNoticeOnModernIsFatal(t *testing.T) {
	s, _, _ := modernSession(t, CacheNone)

	// Modern sessions have no credential exchange, so the rejection
	// literal is just an unknown top-level field.
	_, err := s.Parse(context.Background(), []byte("Bad login attempt !\n"))
	if !errors.IsCode(err, errors.CodeGrammarViolation) {
		t.Errorf("Expected grammar violation, got %v", err)
	}
}

func TestScannerLoading(t *testing.T) {
	s, _, _ := modernSession(t, CacheNone)

	verdict := mustParse(t, s, "SCANNER_LOADING <|> 523 <|> 7000\n")
	if verdict != VerdictScannerLoading {
		t.Fatalf("Expected scanner loading verdict, got %v", verdict)
	}
	current, total := s.LoadingProgress()
	if current != 523 || total != 7000 {
		t.Errorf("Expected progress 523/7000, got %d/%d", current, total)
	}
	if !s.Active() {
		t.Error("Loading notice must leave the session usable for a retry")
	}

	// The whole notice was consumed, so the stream stays aligned.
	taskID, reportID := uuid.New(), uuid.New()
	s.SetCurrentTask(taskID, reportID)
	store := s.stores.Results.(*fakeStore)
	mustParse(t, s, "SERVER <|> NOTE <|> h1 <|> 22/tcp <|> banner <|> 1.2.3 <|> SERVER\n")
	if len(store.results) != 1 {
		t.Fatalf("Expected 1 finding after retry, got %d", len(store.results))
	}
}

func TestScannerLoadingRejectedOnLegacy(t *testing.T) {
	s, _, _ := newTestSession(t, Options{Legacy: true})
	s.VersionSent()
	mustParse(t, s, "< OTP/1.0 >\nUser : ")
	s.UserSent()
	mustParse(t, s, "Password : ")
	s.PasswordSent()

	_, err := s.Parse(context.Background(), []byte("SCANNER_LOADING <|> 1 <|> 2\n"))
	if !errors.IsCode(err, errors.CodeGrammarViolation) {
		t.Errorf("Legacy grammar has no loading notice, got %v", err)
	}
}

func TestHoleFindingCommitted(t *testing.T) {
	s, store, _ := modernSession(t, CacheNone)
	taskID, reportID := uuid.New(), uuid.New()
	s.SetCurrentTask(taskID, reportID)

	msg := "SERVER <|> HOLE <|> 10.0.0.5 <|> www (80/tcp) <|> " +
		"Outdated server detected <|> 1.3.6.1.4.1.25623.1.0.10107 <|> <|> SERVER\n"
	mustParse(t, s, msg)

	if len(store.results) != 1 {
		t.Fatalf("Expected 1 finding, got %d", len(store.results))
	}
	f := store.results[0]
	if f.Class != ClassHole {
		t.Errorf("Expected Security Hole class, got %q", f.Class)
	}
	if f.Host != "10.0.0.5" {
		t.Errorf("Unexpected host %q", f.Host)
	}
	if f.Port.Number != 80 || f.Port.Protocol != ProtocolTCP {
		t.Errorf("Expected 80/tcp, got %d/%s", f.Port.Number, f.Port.Protocol)
	}
	if f.Description != "Outdated server detected" {
		t.Errorf("Unexpected description %q", f.Description)
	}
	if f.OID != "1.3.6.1.4.1.25623.1.0.10107" {
		t.Errorf("Unexpected OID %q", f.OID)
	}
	if store.resultTasks[0] != taskID {
		t.Error("Finding must carry the bound task")
	}
}

func TestFindingResumableAtEverySplitPoint(t *testing.T) {
	msg := "SERVER <|> NOTE <|> host.example <|> ssh (22/tcp) <|> " +
		"SSH banner observed <|> 1.3.6.1.4.1.25623.1.0.10267 <|> SERVER\n"

	for split := 0; split <= len(msg); split++ {
		s, store, _ := modernSession(t, CacheNone)
		s.SetCurrentTask(uuid.New(), uuid.New())

		mustParse(t, s, msg[:split])
		mustParse(t, s, msg[split:])

		if len(store.results) != 1 {
			t.Fatalf("Split at %d: expected 1 finding, got %d", split, len(store.results))
		}
		f := store.results[0]
		if f.Host != "host.example" || f.Port.Number != 22 || f.Class != ClassNote {
			t.Fatalf("Split at %d: finding corrupted: %+v", split, f)
		}
	}
}

func TestMultipleMessagesInOneChunk(t *testing.T) {
	s, store, _ := modernSession(t, CacheNone)
	s.SetCurrentTask(uuid.New(), uuid.New())

	var input string
	for i := 0; i < 3; i++ {
		input += fmt.Sprintf(
			"SERVER <|> LOG <|> 10.0.0.%d <|> 443/tcp <|> tls service <|> 1.2.%d <|> SERVER\n", i, i)
	}
	mustParse(t, s, input)

	if len(store.results) != 3 {
		t.Errorf("Expected 3 findings from one chunk, got %d", len(store.results))
	}
}

func TestByeEndsSession(t *testing.T) {
	s, _, _ := modernSession(t, CacheNone)

	verdict := mustParse(t, s, "SERVER <|> BYE <|> BYE <|> SERVER\n")
	if verdict != VerdictGoodbye {
		t.Fatalf("Expected goodbye verdict, got %v", verdict)
	}
	if s.Active() {
		t.Error("Goodbye must deactivate the session")
	}

	_, err := s.Parse(context.Background(), []byte("SERVER <|> "))
	if !errors.IsCode(err, errors.CodeSessionClosed) {
		t.Errorf("Parse after goodbye should fail with session closed, got %v", err)
	}
}

func TestGrammarViolationIsFatal(t *testing.T) {
	s, store, _ := modernSession(t, CacheNone)
	s.SetCurrentTask(uuid.New(), uuid.New())

	_, err := s.Parse(context.Background(), []byte("SERVER <|> BOGUS_COMMAND <|> x <|> SERVER\n"))
	if !errors.IsCode(err, errors.CodeGrammarViolation) {
		t.Fatalf("Expected grammar violation, got %v", err)
	}
	if s.Active() {
		t.Error("Grammar violation must deactivate the session")
	}
	if len(store.results) != 0 {
		t.Error("No findings should have been committed")
	}
}

func TestUnexpectedTopFieldIsFatal(t *testing.T) {
	s, _, _ := modernSession(t, CacheNone)

	_, err := s.Parse(context.Background(), []byte("CLIENT <|> "))
	if !errors.IsCode(err, errors.CodeGrammarViolation) {
		t.Errorf("Expected grammar violation for unknown opener, got %v", err)
	}
}

func TestOversizedFieldIsFatal(t *testing.T) {
	s, _, _ := newTestSession(t, Options{BufferSize: 64})
	s.VersionSent()
	mustParse(t, s, "< OTP/2.0 >\n")

	long := make([]byte, 128)
	for i := range long {
		long[i] = 'a'
	}
	_, err := s.Parse(context.Background(), long)
	if !errors.IsCode(err, errors.CodeOversizedField) {
		t.Fatalf("Expected oversized field error, got %v", err)
	}
	if s.Active() {
		t.Error("Oversized field must deactivate the session")
	}
}

func TestPartialFieldIsNotOversized(t *testing.T) {
	// A field shorter than the buffer that simply has no delimiter yet
	// must wait, not fail.
	s, _, _ := newTestSession(t, Options{BufferSize: 64})
	s.VersionSent()
	mustParse(t, s, "< OTP/2.0 >\n")

	if verdict := mustParse(t, s, "SERVER <|> HOL"); verdict != VerdictContinue {
		t.Errorf("Expected continue for partial field, got %v", verdict)
	}
	if !s.Active() {
		t.Error("Partial field must keep the session active")
	}
}

func TestFatalErrorDropsPartialRecords(t *testing.T) {
	s, _, _ := modernSession(t, CacheNone)
	s.SetCurrentTask(uuid.New(), uuid.New())

	// Half a finding, then garbage in the OID position is fine (any text
	// is a valid OID), so break it inside a TIME block instead.
	_, err := s.Parse(context.Background(), []byte("SERVER <|> TIME <|> NONSENSE <|> "))
	if !errors.IsCode(err, errors.CodeGrammarViolation) {
		t.Fatalf("Expected grammar violation, got %v", err)
	}
	if s.finding != nil || s.plugin != nil || s.cert != nil || s.dep != nil {
		t.Error("Fatal errors must release partially built records")
	}
}

func TestStoreFailureDoesNotAbortParsing(t *testing.T) {
	s, store, _ := modernSession(t, CacheNone)
	s.SetCurrentTask(uuid.New(), uuid.New())
	store.failAll = errors.NewDatabaseError(errors.CodeDatabaseConnection, "down")

	msg := "SERVER <|> HOLE <|> h <|> 80/tcp <|> d <|> 1.2.3 <|> SERVER\n"
	verdict := mustParse(t, s, msg)
	if verdict != VerdictContinue {
		t.Errorf("Store failures are logged, not fatal; got %v", verdict)
	}
	if !s.Active() {
		t.Error("Session must survive store failures")
	}
}

func TestRelayExternalStopRequest(t *testing.T) {
	s, store, out := modernSession(t, CacheNone)
	taskID := uuid.New()
	s.SetCurrentTask(taskID, uuid.New())
	store.requested[taskID] = StatusStopRequested

	mustParse(t, s, "")
	if len(out.queued) != 1 || out.queued[0] != cmdStopWholeTest {
		t.Fatalf("Expected one stop command queued, got %v", out.queued)
	}

	// The same pending request is not resent.
	mustParse(t, s, "")
	if len(out.queued) != 1 {
		t.Errorf("Unchanged request must not be resent, got %v", out.queued)
	}

	// A different request goes out.
	store.requested[taskID] = StatusResumeRequested
	mustParse(t, s, "")
	if len(out.queued) != 2 || out.queued[1] != cmdResumeWholeTest {
		t.Errorf("Expected resume command, got %v", out.queued)
	}
}

func TestRelayPauseRequest(t *testing.T) {
	s, store, out := modernSession(t, CacheNone)
	taskID := uuid.New()
	s.SetCurrentTask(taskID, uuid.New())
	store.requested[taskID] = StatusPauseRequested

	mustParse(t, s, "")
	if len(out.queued) != 1 || out.queued[0] != cmdPauseWholeTest {
		t.Errorf("Expected pause command, got %v", out.queued)
	}
}

func TestRelayDeleteRequestSendsStop(t *testing.T) {
	s, store, out := modernSession(t, CacheNone)
	taskID := uuid.New()
	s.SetCurrentTask(taskID, uuid.New())
	store.requested[taskID] = StatusDeleteRequested

	mustParse(t, s, "")
	if len(out.queued) != 1 || out.queued[0] != cmdStopWholeTest {
		t.Errorf("Delete requests stop the scan, got %v", out.queued)
	}
}

func TestSessionReset(t *testing.T) {
	s, _, _ := modernSession(t, CacheNone)
	s.SetCurrentTask(uuid.New(), uuid.New())
	mustParse(t, s, "SERVER <|> HOLE <|> h ")

	s.Reset()
	if s.Phase() != PhaseConnecting {
		t.Errorf("Reset should return to connecting, got %v", s.Phase())
	}
	if !s.Active() {
		t.Error("Reset session must be active")
	}
	taskID, reportID := s.CurrentTask()
	if taskID != uuid.Nil || reportID != uuid.Nil {
		t.Error("Reset must release the task binding")
	}
	if s.buf.Len() != 0 {
		t.Error("Reset must discard buffered input")
	}
}

func TestInputBeforeGreetingIsFatal(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	_, err := s.Parse(context.Background(), []byte("< OTP/2.0 >\n"))
	if err == nil {
		t.Error("Input before the greeting was sent should be rejected")
	}
}
