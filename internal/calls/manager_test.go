package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voice-platform/internal/audio"
	"voice-platform/internal/conversation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type hangupCall struct {
	ccid   string
	reason string
}

type fakeCarrier struct {
	mu      sync.Mutex
	hangups []hangupCall
	err     error
}

func (f *fakeCarrier) Hangup(_ context.Context, ccid, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, hangupCall{ccid, reason})
	return f.err
}

func (f *fakeCarrier) calls() []hangupCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hangupCall(nil), f.hangups...)
}

type fakeEngine struct {
	mu       sync.Mutex
	open     map[string]bool
	messages []conversation.Message
	reply    string
	next     int
}

func newFakeEngine() *fakeEngine { return &fakeEngine{open: map[string]bool{}} }

func (e *fakeEngine) CreateSession(context.Context, string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := fmt.Sprintf("sess-%d", e.next)
	e.open[id] = true
	return id, nil
}

func (e *fakeEngine) Reply(_ context.Context, msg conversation.Message) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	return e.reply, nil
}

func (e *fakeEngine) EndSession(_ context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.open, id)
}

func (e *fakeEngine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

func (e *fakeEngine) received() []conversation.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]conversation.Message(nil), e.messages...)
}

type stubSession struct {
	mu sync.Mutex
	cb func(audio.Transcript)
}

func (s *stubSession) SendAudio([]byte) error { return nil }
func (s *stubSession) EndAudio() error        { return nil }
func (s *stubSession) Close() error           { return nil }
func (s *stubSession) OnPartial(fn func(audio.Transcript)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = fn
}

type stubSTT struct {
	mu       sync.Mutex
	sessions []*stubSession
}

func (p *stubSTT) CreateSession(context.Context, audio.STTConfig) (audio.STTSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &stubSession{}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *stubSTT) last() *stubSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// countingRepo counts end-of-call updates.
type countingRepo struct {
	*MemoryRepo
	endUpdates atomic.Int32
}

func (r *countingRepo) Update(ctx context.Context, id string, u CallUpdate) error {
	if u.EndReason != nil {
		r.endUpdates.Add(1)
	}
	return r.MemoryRepo.Update(ctx, id, u)
}

type fakeGate struct {
	mu       sync.Mutex
	allow    bool
	acquired int
	released int
}

func (g *fakeGate) Acquire(context.Context, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.allow {
		return false, nil
	}
	g.acquired++
	return true, nil
}

func (g *fakeGate) Release(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
	return nil
}

type fixture struct {
	m       *Manager
	repo    *countingRepo
	carrier *fakeCarrier
	engine  *fakeEngine
	stt     *stubSTT
	events  *RecordingSink
	clock   *fakeClock
}

func newFixture(max int) *fixture {
	f := &fixture{
		repo:    &countingRepo{MemoryRepo: NewMemoryRepo()},
		carrier: &fakeCarrier{},
		engine:  newFakeEngine(),
		stt:     &stubSTT{},
		events:  &RecordingSink{},
		clock:   &fakeClock{now: time.Unix(1700000000, 0).UTC()},
	}
	f.m = NewManager(ManagerConfig{MaxConcurrent: max, Recording: true}, ManagerDeps{
		Repo:    f.repo,
		Carrier: f.carrier,
		Engine:  f.engine,
		STT:     f.stt,
		Events:  f.events,
		Clock:   f.clock.Now,
	})
	return f
}

func inbound(ccid string) InboundCall {
	return InboundCall{CallControlID: ccid, CallLegID: "leg-" + ccid, From: "+15550001", To: "+15559999", TenantID: "t1"}
}

func TestManager_RegisterInbound(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()

	c, ok, err := f.m.RegisterInboundCall(ctx, inbound("cc-1"))
	if err != nil || !ok {
		t.Fatalf("expected accepted, got ok=%v err=%v", ok, err)
	}
	if c.State != StateRinging || c.Direction != DirectionInbound || !c.Recording {
		t.Fatalf("unexpected call: %+v", c)
	}
	if c.ID == "" || c.SessionID == "" {
		t.Fatalf("expected generated ids, got %+v", c)
	}
	if f.m.ActiveCount() != 1 {
		t.Fatalf("expected 1 active call")
	}
	stored, err := f.repo.FindByCallControlID(ctx, "cc-1")
	if err != nil || stored.ID != c.ID {
		t.Fatalf("expected persisted call, got %+v err=%v", stored, err)
	}
	if f.events.Count(EventCallStarted) != 1 {
		t.Fatalf("expected started event")
	}
}

func TestManager_RejectsAtCapacityWithoutMutation(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()

	if _, ok, _ := f.m.RegisterInboundCall(ctx, inbound("cc-1")); !ok {
		t.Fatalf("expected first call accepted")
	}
	if f.m.CanAcceptCall() {
		t.Fatalf("expected CanAcceptCall false at cap")
	}
	_, ok, err := f.m.RegisterInboundCall(ctx, inbound("cc-2"))
	if err != nil || ok {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	if f.m.ActiveCount() != 1 || f.repo.Len() != 1 {
		t.Fatalf("rejection mutated state: active=%d stored=%d", f.m.ActiveCount(), f.repo.Len())
	}
	if _, found := f.m.GetCall("cc-2"); found {
		t.Fatalf("rejected call is tracked")
	}
	if f.engine.openCount() != 1 {
		t.Fatalf("expected no conversation session for rejected call")
	}
}

func TestManager_ConcurrentRegistrationHonorsCap(t *testing.T) {
	f := newFixture(3)
	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok, err := f.m.RegisterInboundCall(context.Background(), inbound(fmt.Sprintf("cc-%d", i))); ok && err == nil {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if accepted.Load() != 3 || f.m.ActiveCount() != 3 {
		t.Fatalf("expected 3 accepted, got %d (active %d)", accepted.Load(), f.m.ActiveCount())
	}
}

func TestManager_OutboundAtCapacity(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()
	if _, err := f.m.InitiateOutboundCall(ctx, OutboundCall{CallControlID: "out-1", To: "+1", From: "+2", TenantID: "t1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_, err := f.m.InitiateOutboundCall(ctx, OutboundCall{CallControlID: "out-2", To: "+1", From: "+2", TenantID: "t1"})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestManager_DuplicateRegistration(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	_, _, _ = f.m.RegisterInboundCall(ctx, inbound("cc-1"))
	if _, _, err := f.m.RegisterInboundCall(ctx, inbound("cc-1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if f.m.ActiveCount() != 1 {
		t.Fatalf("expected one active call")
	}
}

func TestManager_RegisterPersistFailureUntracks(t *testing.T) {
	f := newFixture(10)
	f.repo.FailInsert = errors.New("db down")

	_, ok, err := f.m.RegisterInboundCall(context.Background(), inbound("cc-1"))
	if !errors.Is(err, ErrPersistence) || ok {
		t.Fatalf("expected persistence failure, got ok=%v err=%v", ok, err)
	}
	if f.m.ActiveCount() != 0 {
		t.Fatalf("failed registration left call tracked")
	}
	if f.engine.openCount() != 0 {
		t.Fatalf("expected conversation session ended")
	}
	if f.events.Count(EventCallStarted) != 0 {
		t.Fatalf("unexpected started event")
	}
}

func TestManager_TransitionCall(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	_, _, _ = f.m.RegisterInboundCall(ctx, inbound("cc-1"))

	f.m.TransitionCall(ctx, "cc-1", StateConnected) // illegal from ringing
	if c, _ := f.m.GetCall("cc-1"); c.State != StateRinging {
		t.Fatalf("illegal transition applied: %s", c.State)
	}

	f.m.TransitionCall(ctx, "cc-1", StateAnswering)
	f.m.TransitionCall(ctx, "cc-1", StateConnected)
	c, _ := f.m.GetCall("cc-1")
	if c.State != StateConnected || c.ConnectedAt == nil {
		t.Fatalf("expected connected with timestamp, got %+v", c)
	}
	first := *c.ConnectedAt

	f.clock.Advance(time.Minute)
	f.m.TransitionCall(ctx, "cc-1", StateHold)
	f.m.TransitionCall(ctx, "cc-1", StateConnected)
	c, _ = f.m.GetCall("cc-1")
	if !c.ConnectedAt.Equal(first) {
		t.Fatalf("connectedAt overwritten: %v vs %v", c.ConnectedAt, first)
	}

	// unknown call is a no-op
	f.m.TransitionCall(ctx, "missing", StateAnswering)
}

func TestManager_EndCallFullLifecycle(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	c, _, _ := f.m.RegisterInboundCall(ctx, inbound("cc-1"))
	f.m.TransitionCall(ctx, "cc-1", StateAnswering)
	f.m.TransitionCall(ctx, "cc-1", StateConnected)
	f.clock.Advance(61500 * time.Millisecond)

	f.m.EndCall(ctx, "cc-1", "hangup", false)

	if f.m.ActiveCount() != 0 {
		t.Fatalf("expected call removed")
	}
	hs := f.carrier.calls()
	if len(hs) != 1 || hs[0].ccid != "cc-1" || hs[0].reason != "hangup" {
		t.Fatalf("expected one carrier hangup, got %+v", hs)
	}
	stored, _ := f.repo.FindByCallControlID(ctx, "cc-1")
	if stored.State != StateEnded || stored.EndReason != "hangup" || stored.DurationMs != 61500 || stored.EndedAt == nil {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
	evs := f.events.Events()
	last := evs[len(evs)-1]
	if last.Type != EventCallEnded || last.DurationMs != 61500 || last.DurationSeconds != 62 {
		t.Fatalf("unexpected ended event: %+v", last)
	}
	if last.Call.ID != c.ID {
		t.Fatalf("ended event for wrong call")
	}
	if f.engine.openCount() != 0 {
		t.Fatalf("expected conversation session closed")
	}
}

func TestManager_EndCallNeverConnectedHasZeroDuration(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	_, _, _ = f.m.RegisterInboundCall(ctx, inbound("cc-1"))
	f.clock.Advance(5 * time.Second)

	f.m.EndCall(ctx, "cc-1", "timeout", true)

	if len(f.carrier.calls()) != 0 {
		t.Fatalf("expected no carrier hangup when skipped")
	}
	stored, _ := f.repo.FindByCallControlID(ctx, "cc-1")
	if stored.DurationMs != 0 || stored.State != StateEnded {
		t.Fatalf("unexpected record: %+v", stored)
	}
}

func TestManager_EndCallConcurrentIsIdempotent(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	_, _, _ = f.m.RegisterInboundCall(ctx, inbound("cc-1"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.m.EndCall(ctx, "cc-1", "hangup", i%2 == 0)
		}(i)
	}
	wg.Wait()

	if n := f.events.Count(EventCallEnded); n != 1 {
		t.Fatalf("expected exactly one ended event, got %d", n)
	}
	if n := f.repo.endUpdates.Load(); n != 1 {
		t.Fatalf("expected exactly one end update, got %d", n)
	}
}

func TestManager_EndCallUnknownIsNoop(t *testing.T) {
	f := newFixture(10)
	f.m.EndCall(context.Background(), "nope", "hangup", false)
	if len(f.carrier.calls()) != 0 || len(f.events.Events()) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestManager_EndCallSurvivesCarrierAndStorageFailures(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	_, _, _ = f.m.RegisterInboundCall(ctx, inbound("cc-1"))
	f.carrier.err = errors.New("carrier unreachable")
	f.repo.FailUpdate = errors.New("db down")

	f.m.EndCall(ctx, "cc-1", "hangup", false)

	if f.m.ActiveCount() != 0 {
		t.Fatalf("expected call untracked despite failures")
	}
	if f.events.Count(EventCallEnded) != 1 {
		t.Fatalf("expected ended event despite failures")
	}
}

func TestManager_ShutdownAll(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _, _ = f.m.RegisterInboundCall(ctx, inbound(fmt.Sprintf("cc-%d", i)))
	}

	f.m.ShutdownAll(ctx)

	if f.m.ActiveCount() != 0 {
		t.Fatalf("expected no active calls")
	}
	hs := f.carrier.calls()
	if len(hs) != 4 {
		t.Fatalf("expected 4 hangups, got %d", len(hs))
	}
	for _, h := range hs {
		if h.reason != "shutdown" {
			t.Fatalf("expected shutdown reason, got %q", h.reason)
		}
	}
	if f.events.Count(EventCallEnded) != 4 {
		t.Fatalf("expected 4 ended events")
	}
}

func TestManager_MediaStopEndsCallWithCarrierHangup(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	_, _, _ = f.m.RegisterInboundCall(ctx, inbound("cc-1"))

	if err := f.m.HandleMediaEvent("cc-1", audio.Event{Kind: audio.EventStart, StreamID: "s"}); err != nil {
		t.Fatalf("media start: %v", err)
	}
	if err := f.m.HandleMediaEvent("cc-1", audio.Event{Kind: audio.EventStop}); err != nil {
		t.Fatalf("media stop: %v", err)
	}

	if f.m.ActiveCount() != 0 {
		t.Fatalf("expected call ended by stream stop")
	}
	hs := f.carrier.calls()
	if len(hs) != 1 || hs[0].reason != ReasonStreamClosed {
		t.Fatalf("expected carrier hangup on stream close, got %+v", hs)
	}
	if err := f.m.HandleMediaEvent("cc-1", audio.Event{Kind: audio.EventStop}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after end, got %v", err)
	}
	stored, err := f.repo.FindByCallControlID(ctx, "cc-1")
	if err != nil || stored.EndReason != ReasonStreamClosed {
		t.Fatalf("expected end reason %q, got %+v err=%v", ReasonStreamClosed, stored, err)
	}
}

func TestManager_TranscriptsAreTaggedForConversation(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()
	c, _, _ := f.m.RegisterInboundCall(ctx, inbound("cc-1"))
	defer f.m.EndCall(ctx, "cc-1", "test", true)

	_ = f.m.HandleMediaEvent("cc-1", audio.Event{Kind: audio.EventStart, StreamID: "s"})
	sess := f.stt.last()
	sess.mu.Lock()
	cb := sess.cb
	sess.mu.Unlock()
	cb(audio.Transcript{Text: "what are your hours", IsFinal: true})

	deadline := time.Now().Add(2 * time.Second)
	for len(f.engine.received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	msgs := f.engine.received()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.Sender != "phone:+15550001" || msg.SessionID != c.SessionID || msg.Text != "what are your hours" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Channel != (conversation.Channel{Type: "voice", ID: "cc-1", Name: "+15550001"}) {
		t.Fatalf("unexpected channel: %+v", msg.Channel)
	}
}

func TestManager_TenantGate(t *testing.T) {
	gate := &fakeGate{allow: false}
	m := NewManager(ManagerConfig{}, ManagerDeps{Repo: NewMemoryRepo(), Gate: gate})
	ctx := context.Background()

	if _, ok, err := m.RegisterInboundCall(ctx, inbound("cc-1")); ok || err != nil {
		t.Fatalf("expected gate rejection, got ok=%v err=%v", ok, err)
	}

	gate.allow = true
	if _, ok, _ := m.RegisterInboundCall(ctx, inbound("cc-2")); !ok {
		t.Fatalf("expected acceptance")
	}
	m.EndCall(ctx, "cc-2", "hangup", true)
	if gate.acquired != 1 || gate.released != 1 {
		t.Fatalf("expected balanced gate, got acquired=%d released=%d", gate.acquired, gate.released)
	}
}

func TestManager_DefaultCap(t *testing.T) {
	m := NewManager(ManagerConfig{}, ManagerDeps{})
	if m.MaxConcurrent() != 10 {
		t.Fatalf("expected default cap 10, got %d", m.MaxConcurrent())
	}
}

// stallingRepo blocks Insert until release is closed.
type stallingRepo struct {
	*MemoryRepo
	entered chan struct{}
	release chan struct{}
	fail    error
}

func newStallingRepo(fail error) *stallingRepo {
	return &stallingRepo{
		MemoryRepo: NewMemoryRepo(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		fail:       fail,
	}
}

func (r *stallingRepo) Insert(ctx context.Context, c Call) error {
	close(r.entered)
	<-r.release
	if r.fail != nil {
		return r.fail
	}
	return r.MemoryRepo.Insert(ctx, c)
}

// endDuringInsert registers cc-1 against repo and fires EndCall while Insert
// is stalled. It returns once both have finished.
func endDuringInsert(t *testing.T, m *Manager, repo *stallingRepo) error {
	t.Helper()
	ctx := context.Background()

	regErr := make(chan error, 1)
	go func() {
		_, _, err := m.RegisterInboundCall(ctx, inbound("cc-1"))
		regErr <- err
	}()
	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("insert never started")
	}

	endDone := make(chan struct{})
	go func() {
		m.EndCall(ctx, "cc-1", ReasonHangup, true)
		close(endDone)
	}()
	// EndCall must not complete while the record is still being stored.
	select {
	case <-endDone:
		t.Fatalf("expected EndCall to wait for registration")
	case <-time.After(50 * time.Millisecond):
	}
	close(repo.release)

	var err error
	select {
	case err = <-regErr:
	case <-time.After(2 * time.Second):
		t.Fatalf("registration never returned")
	}
	select {
	case <-endDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("EndCall never returned")
	}
	return err
}

func TestManager_EndCallDuringRegistrationPersistsEnded(t *testing.T) {
	repo := newStallingRepo(nil)
	events := &RecordingSink{}
	gate := &fakeGate{allow: true}
	m := NewManager(ManagerConfig{}, ManagerDeps{Repo: repo, Events: events, Gate: gate})

	if err := endDuringInsert(t, m, repo); err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}

	stored, err := repo.FindByCallControlID(context.Background(), "cc-1")
	if err != nil {
		t.Fatalf("expected persisted call, got %v", err)
	}
	if stored.State != StateEnded || stored.EndedAt == nil || stored.EndReason != ReasonHangup {
		t.Fatalf("expected ended record, got %+v", stored)
	}
	evs := events.Events()
	if len(evs) != 2 || evs[0].Type != EventCallStarted || evs[1].Type != EventCallEnded {
		t.Fatalf("expected started then ended, got %+v", evs)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("expected no active calls")
	}
	if gate.released != 1 {
		t.Fatalf("expected one gate release, got %d", gate.released)
	}
}

func TestManager_EndCallDuringFailedRegistrationTearsDownOnce(t *testing.T) {
	repo := newStallingRepo(errors.New("db down"))
	events := &RecordingSink{}
	gate := &fakeGate{allow: true}
	engine := newFakeEngine()
	m := NewManager(ManagerConfig{}, ManagerDeps{Repo: repo, Events: events, Gate: gate, Engine: engine})

	if err := endDuringInsert(t, m, repo); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}

	if gate.acquired != 1 || gate.released != 1 {
		t.Fatalf("expected balanced gate, got acquired=%d released=%d", gate.acquired, gate.released)
	}
	if engine.openCount() != 0 {
		t.Fatalf("expected conversation session ended")
	}
	if n := len(events.Events()); n != 0 {
		t.Fatalf("expected no lifecycle events, got %d", n)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("expected no active calls")
	}
}
