package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-platform/internal/audio"
	"voice-platform/internal/conversation"

	"github.com/google/uuid"
)

var ErrDuplicate = errors.New("calls: call already registered")

// Hangupper is the carrier command the manager needs when tearing a call down.
type Hangupper interface {
	Hangup(ctx context.Context, callControlID, reason string) error
}

// CapacityGate is an optional cluster-wide per-tenant limit checked after the
// local cap.
type CapacityGate interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

type ManagerConfig struct {
	// MaxConcurrent caps active calls in this process. Default 10.
	MaxConcurrent int
	// Recording marks new calls for carrier-side recording once answered.
	Recording bool
	Bridge    audio.BridgeConfig
	// EndTimeout bounds teardown started by the media stream closing. Default 30s.
	EndTimeout time.Duration
}

type ManagerDeps struct {
	Repo    Repository
	Carrier Hangupper
	Engine  conversation.Engine
	STT     audio.STTProvider
	TTS     audio.Synthesizer
	Events  EventSink
	Gate    CapacityGate
	Logger  *slog.Logger
	Clock   func() time.Time
}

type handle struct {
	mu     sync.Mutex
	call   Call
	sm     *StateMachine
	bridge *audio.Bridge
	gated  bool
	// torn is set when registration failed after the handle was published;
	// its teardown has already run.
	torn bool
}

// Manager is the registry of active calls keyed by carrier call-control ID.
// All mutation of a call or its audio bridge goes through its methods.
type Manager struct {
	cfg     ManagerConfig
	repo    Repository
	carrier Hangupper
	engine  conversation.Engine
	stt     audio.STTProvider
	tts     audio.Synthesizer
	events  EventSink
	gate    CapacityGate
	log     *slog.Logger
	clock   func() time.Time

	mu     sync.Mutex
	active map[string]*handle
}

func NewManager(cfg ManagerConfig, deps ManagerDeps) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = 30 * time.Second
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		cfg:     cfg,
		repo:    deps.Repo,
		carrier: deps.Carrier,
		engine:  deps.Engine,
		stt:     deps.STT,
		tts:     deps.TTS,
		events:  deps.Events,
		gate:    deps.Gate,
		log:     log,
		clock:   clock,
		active:  map[string]*handle{},
	}
}

func (m *Manager) MaxConcurrent() int { return m.cfg.MaxConcurrent }

func (m *Manager) CanAcceptCall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) < m.cfg.MaxConcurrent
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// RegisterInboundCall tracks a new inbound call. accepted is false when the call
// was rejected for capacity; the caller is then responsible for hanging up at
// the carrier.
func (m *Manager) RegisterInboundCall(ctx context.Context, in InboundCall) (c Call, accepted bool, err error) {
	return m.register(ctx, DirectionInbound, in.CallControlID, in.CallLegID, in.From, in.To, in.TenantID)
}

// InitiateOutboundCall tracks a call already placed at the carrier. It fails with
// ErrCapacityExceeded when at the cap; carrier-side cleanup is the caller's job.
func (m *Manager) InitiateOutboundCall(ctx context.Context, out OutboundCall) (Call, error) {
	c, accepted, err := m.register(ctx, DirectionOutbound, out.CallControlID, out.CallLegID, out.From, out.To, out.TenantID)
	if err != nil {
		return Call{}, err
	}
	if !accepted {
		return Call{}, ErrCapacityExceeded
	}
	return c, nil
}

func (m *Manager) register(ctx context.Context, dir Direction, ccid, legID, from, to, tenantID string) (Call, bool, error) {
	if ccid == "" {
		return Call{}, false, errors.New("calls: call_control_id is required")
	}
	log := m.log.With("call_control_id", ccid, "tenant_id", tenantID, "direction", string(dir))

	m.mu.Lock()
	_, dup := m.active[ccid]
	full := len(m.active) >= m.cfg.MaxConcurrent
	m.mu.Unlock()
	if dup {
		return Call{}, false, ErrDuplicate
	}
	if full {
		log.Warn("call rejected: at capacity", "max", m.cfg.MaxConcurrent)
		return Call{}, false, nil
	}

	gated := false
	if m.gate != nil && tenantID != "" {
		ok, err := m.gate.Acquire(ctx, tenantID)
		switch {
		case err != nil:
			log.Warn("tenant capacity gate unavailable, continuing", "err", err)
		case !ok:
			log.Warn("call rejected: tenant at capacity")
			return Call{}, false, nil
		default:
			gated = true
		}
	}

	sessionID, err := m.createSession(ctx, tenantID)
	if err != nil {
		m.releaseGate(ctx, tenantID, gated)
		return Call{}, false, err
	}

	now := m.clock()
	h := &handle{
		call: Call{
			ID:            uuid.NewString(),
			CallControlID: ccid,
			CallLegID:     legID,
			TenantID:      tenantID,
			From:          from,
			To:            to,
			Direction:     dir,
			SessionID:     sessionID,
			State:         StateRinging,
			Recording:     m.cfg.Recording,
			StartedAt:     now,
		},
		sm:    NewStateMachine(StateRinging, WithClock(m.clock)),
		gated: gated,
	}
	h.bridge = m.newBridge(ccid, from, tenantID, sessionID, log)

	// h.mu is held until the record is stored and call.started is emitted, so
	// an EndCall racing registration runs after it.
	h.mu.Lock()
	m.mu.Lock()
	_, dup = m.active[ccid]
	full = len(m.active) >= m.cfg.MaxConcurrent
	if !dup && !full {
		m.active[ccid] = h
	}
	m.mu.Unlock()
	if dup || full {
		h.mu.Unlock()
		m.discard(ctx, h)
		if dup {
			return Call{}, false, ErrDuplicate
		}
		log.Warn("call rejected: at capacity", "max", m.cfg.MaxConcurrent)
		return Call{}, false, nil
	}

	snapshot := h.call.clone()
	if m.repo != nil {
		if err := m.repo.Insert(ctx, snapshot); err != nil {
			m.mu.Lock()
			if m.active[ccid] == h {
				delete(m.active, ccid)
			}
			m.mu.Unlock()
			h.torn = true
			h.mu.Unlock()
			m.discard(ctx, h)
			log.Error("call registration persist failed", "err", err)
			return Call{}, false, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}

	log.Info("call registered", "call_id", snapshot.ID, "from", from, "to", to)
	m.emit(ctx, Event{Type: EventCallStarted, Call: snapshot, OccurredAt: now})
	h.mu.Unlock()
	return snapshot, true, nil
}

func (m *Manager) createSession(ctx context.Context, tenantID string) (string, error) {
	if m.engine == nil {
		return uuid.NewString(), nil
	}
	id, err := m.engine.CreateSession(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("calls: create conversation session: %w", err)
	}
	return id, nil
}

func (m *Manager) newBridge(ccid, from, tenantID, sessionID string, log *slog.Logger) *audio.Bridge {
	reply := func(ctx context.Context, text string) (string, error) {
		if m.engine == nil {
			return "", nil
		}
		return m.engine.Reply(ctx, conversation.Message{
			SessionID: sessionID,
			TenantID:  tenantID,
			Sender:    "phone:" + from,
			Text:      text,
			Channel:   conversation.Channel{Type: conversation.ChannelVoice, ID: ccid, Name: from},
		})
	}
	onEnd := func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EndTimeout)
		defer cancel()
		m.EndCall(ctx, ccid, ReasonStreamClosed, false)
	}
	return audio.NewBridge(m.cfg.Bridge, audio.BridgeDeps{
		STT:    m.stt,
		TTS:    m.tts,
		Reply:  reply,
		OnEnd:  onEnd,
		Logger: log,
	})
}

// discard tears down a handle that never became (or no longer is) tracked.
func (m *Manager) discard(ctx context.Context, h *handle) {
	h.bridge.Close()
	if m.engine != nil {
		m.engine.EndSession(ctx, h.call.SessionID)
	}
	m.releaseGate(ctx, h.call.TenantID, h.gated)
}

func (m *Manager) releaseGate(ctx context.Context, tenantID string, gated bool) {
	if !gated || m.gate == nil {
		return
	}
	if err := m.gate.Release(ctx, tenantID); err != nil {
		m.log.Warn("tenant capacity release failed", "tenant_id", tenantID, "err", err)
	}
}

func (m *Manager) lookup(ccid string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[ccid]
}

// TransitionCall moves a call to state. Unknown calls and illegal edges are
// ignored (the latter with a warning).
func (m *Manager) TransitionCall(ctx context.Context, ccid string, state CallState) {
	h := m.lookup(ccid)
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.sm.Transition(state); err != nil {
		m.log.Warn("ignoring call transition", "call_control_id", ccid, "err", err)
		return
	}
	h.call.State = state
	upd := CallUpdate{State: &state}
	if state == StateConnected && h.call.ConnectedAt == nil {
		now := m.clock()
		h.call.ConnectedAt = &now
		upd.ConnectedAt = &now
	}
	if m.repo != nil {
		if err := m.repo.Update(ctx, h.call.ID, upd); err != nil {
			m.log.Warn("call transition persist failed", "call_control_id", ccid, "state", string(state), "err", err)
		}
	}
}

// EndCall terminates a call. The handle leaves the registry before anything
// else happens, so concurrent callers for the same ID reduce to one teardown.
func (m *Manager) EndCall(ctx context.Context, ccid, reason string, skipCarrierHangup bool) {
	m.mu.Lock()
	h, ok := m.active[ccid]
	if ok {
		delete(m.active, ccid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	if h.torn {
		h.mu.Unlock()
		return
	}
	if !h.sm.IsTerminal() {
		if h.sm.Current() != StateEnding {
			if err := h.sm.Transition(StateEnding); err != nil {
				m.log.Warn("end transition failed", "call_control_id", ccid, "err", err)
			}
		}
		if err := h.sm.Transition(StateEnded); err != nil {
			m.log.Warn("end transition failed", "call_control_id", ccid, "err", err)
		}
	}
	now := m.clock()
	h.call.State = h.sm.Current()
	h.call.EndedAt = &now
	h.call.EndReason = reason
	var dur int64
	if h.call.ConnectedAt != nil {
		dur = max(now.Sub(*h.call.ConnectedAt).Milliseconds(), 0)
	}
	h.call.DurationMs = dur
	final := h.call.clone()
	h.mu.Unlock()

	log := m.log.With("call_control_id", ccid, "call_id", final.ID, "tenant_id", final.TenantID)

	if !skipCarrierHangup && m.carrier != nil {
		if err := m.carrier.Hangup(ctx, ccid, reason); err != nil {
			log.Warn("carrier hangup failed", "reason", reason, "err", err)
		}
	}

	h.bridge.Close()

	if m.repo != nil {
		state := final.State
		h.mu.Lock()
		err := m.repo.Update(ctx, final.ID, CallUpdate{
			State:      &state,
			EndedAt:    final.EndedAt,
			EndReason:  &final.EndReason,
			DurationMs: &final.DurationMs,
		})
		h.mu.Unlock()
		if err != nil {
			log.Error("call end persist failed", "err", err)
		}
	}

	if m.engine != nil {
		m.engine.EndSession(ctx, final.SessionID)
	}
	m.releaseGate(ctx, final.TenantID, h.gated)

	log.Info("call ended", "reason", reason, "duration_ms", dur)
	m.emit(ctx, Event{
		Type:            EventCallEnded,
		Call:            final,
		DurationMs:      dur,
		DurationSeconds: ceilSeconds(dur),
		OccurredAt:      now,
	})
}

// ShutdownAll ends every active call with ReasonShutdown and waits for all of them.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.EndCall(ctx, id, ReasonShutdown, false)
		}(id)
	}
	wg.Wait()
}

// GetCall returns a snapshot of an active call.
func (m *Manager) GetCall(ccid string) (Call, bool) {
	h := m.lookup(ccid)
	if h == nil {
		return Call{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.call.clone(), true
}

// History returns the state transitions of an active call.
func (m *Manager) History(ccid string) ([]Transition, bool) {
	h := m.lookup(ccid)
	if h == nil {
		return nil, false
	}
	return h.sm.History(), true
}

// ActiveCalls returns snapshots of active calls, filtered by tenant when tenantID is set.
func (m *Manager) ActiveCalls(tenantID string) []Call {
	m.mu.Lock()
	hs := make([]*handle, 0, len(m.active))
	for _, h := range m.active {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	out := make([]Call, 0, len(hs))
	for _, h := range hs {
		h.mu.Lock()
		c := h.call.clone()
		h.mu.Unlock()
		if tenantID == "" || c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out
}

// AttachTransport binds the media connection of a call to its audio bridge.
func (m *Manager) AttachTransport(ccid string, t audio.Transport) error {
	h := m.lookup(ccid)
	if h == nil {
		return ErrNotFound
	}
	h.bridge.Attach(t)
	return nil
}

// HandleMediaEvent forwards a media stream event to the call's audio bridge.
func (m *Manager) HandleMediaEvent(ccid string, ev audio.Event) error {
	h := m.lookup(ccid)
	if h == nil {
		return ErrNotFound
	}
	h.bridge.HandleEvent(ev)
	return nil
}

// SetPendingGreeting queues text to be spoken once the media stream is up.
func (m *Manager) SetPendingGreeting(ccid, text string) {
	h := m.lookup(ccid)
	if h == nil {
		return
	}
	h.bridge.SetGreeting(text)
}

func (m *Manager) emit(ctx context.Context, e Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Emit(ctx, e); err != nil {
		m.log.Warn("call event emit failed", "type", e.Type, "err", err)
	}
}
