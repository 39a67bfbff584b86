package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type BridgeConfig struct {
	Voice    string
	Language string

	// SynthesisRate is the rate requested from the synthesizer. Default 24000.
	SynthesisRate int
	// FrameInterval paces outbound frames. Default 20ms.
	FrameInterval time.Duration
	// BargeInThreshold is the RMS level an inbound frame must reach to interrupt
	// playback. Zero means any inbound frame interrupts.
	BargeInThreshold float64
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	out := c
	if out.SynthesisRate <= 0 {
		out.SynthesisRate = 24000
	}
	if out.FrameInterval <= 0 {
		out.FrameInterval = 20 * time.Millisecond
	}
	if out.Language == "" {
		out.Language = "en"
	}
	return out
}

type BridgeDeps struct {
	STT   STTProvider
	TTS   Synthesizer
	Reply ReplyFunc
	// OnEnd fires once when the transport reports stop.
	OnEnd  func()
	Logger *slog.Logger
}

type turn struct {
	transcript string
	say        string
}

// Bridge is the audio pipeline of one call. Transport events arrive through
// HandleEvent; final transcripts are processed one at a time on the bridge's own
// goroutine so a reply is fully spoken before listening resumes.
type Bridge struct {
	cfg   BridgeConfig
	stt   STTProvider
	tts   Synthesizer
	reply ReplyFunc
	onEnd func()
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	turns  chan turn

	// sessMu serializes STT session swaps: the previous session is closed
	// before the next one is created.
	sessMu sync.Mutex

	mu        sync.Mutex
	streamID  string
	session   STTSession
	transport Transport
	greeting  string

	playing     atomic.Bool
	interrupted atomic.Bool
	closed      atomic.Bool

	closeOnce sync.Once
	endOnce   sync.Once
}

func NewBridge(cfg BridgeConfig, deps BridgeDeps) *Bridge {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:    cfg.withDefaults(),
		stt:    deps.STT,
		tts:    deps.TTS,
		reply:  deps.Reply,
		onEnd:  deps.OnEnd,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		turns:  make(chan turn, 8),
	}
	go b.run()
	return b
}

func (b *Bridge) Playing() bool     { return b.playing.Load() }
func (b *Bridge) Interrupted() bool { return b.interrupted.Load() }
func (b *Bridge) Closed() bool      { return b.closed.Load() || b.ctx.Err() != nil }

// Attach binds the outbound transport. A transport already attached is closed
// and replaced. A pending greeting is spoken once the stream has started.
func (b *Bridge) Attach(t Transport) {
	if b.Closed() {
		_ = t.Close()
		return
	}
	b.mu.Lock()
	old := b.transport
	b.transport = t
	b.mu.Unlock()
	if old != nil && old != t {
		if err := old.Close(); err != nil {
			b.log.Debug("replaced transport close failed", "err", err)
		}
	}
	b.flushGreeting()
}

// SetGreeting stashes text to speak as soon as the transport is attached and started.
func (b *Bridge) SetGreeting(text string) {
	b.mu.Lock()
	b.greeting = text
	b.mu.Unlock()
	b.flushGreeting()
}

func (b *Bridge) flushGreeting() {
	b.mu.Lock()
	g := b.greeting
	ready := b.transport != nil && b.streamID != ""
	if ready {
		b.greeting = ""
	}
	b.mu.Unlock()
	if ready && strings.TrimSpace(g) != "" {
		b.enqueue(turn{say: g})
	}
}

// HandleEvent dispatches one transport message. It is a no-op once the bridge is closed.
func (b *Bridge) HandleEvent(ev Event) {
	if b.Closed() {
		return
	}
	switch ev.Kind {
	case EventStart:
		b.start(ev.StreamID)
	case EventMedia:
		b.media(ev)
	case EventStop:
		b.Close()
		b.endOnce.Do(func() {
			if b.onEnd != nil {
				b.onEnd()
			}
		})
	}
}

func (b *Bridge) start(streamID string) {
	b.mu.Lock()
	b.streamID = streamID
	b.mu.Unlock()

	if err := b.reopenSession(); err != nil {
		b.log.Warn("stt session open failed", "stream_id", streamID, "err", err)
	}
	b.flushGreeting()
}

func (b *Bridge) media(ev Event) {
	if ev.Track != "" && ev.Track != TrackInbound {
		return
	}
	pcm := DecodeMulawFrame(ev.Payload)

	if b.playing.Load() && b.isSpeech(pcm) {
		b.interrupted.Store(true)
		b.playing.Store(false)
		b.log.Debug("playback interrupted by caller")
	}

	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return
	}
	up := Resample(pcm, CarrierSampleRate, STTSampleRate)
	if err := sess.SendAudio(PCM16ToBytes(up)); err != nil {
		b.log.Debug("stt send failed", "err", err)
	}
}

func (b *Bridge) isSpeech(pcm []int16) bool {
	if b.cfg.BargeInThreshold <= 0 {
		return true
	}
	return RMS(pcm) >= b.cfg.BargeInThreshold
}

// reopenSession closes the current STT session, if any, and opens a new one.
func (b *Bridge) reopenSession() error {
	b.sessMu.Lock()
	defer b.sessMu.Unlock()

	b.mu.Lock()
	old := b.session
	b.session = nil
	b.mu.Unlock()
	if old != nil {
		b.closeSession(old)
	}
	if b.Closed() {
		return nil
	}
	return b.openSession()
}

// openSession must run under sessMu.
func (b *Bridge) openSession() error {
	if b.stt == nil {
		return fmt.Errorf("audio: no stt provider")
	}
	sess, err := b.stt.CreateSession(b.ctx, STTConfig{
		SampleRate: STTSampleRate,
		Encoding:   "pcm_s16le",
		Language:   b.cfg.Language,
		VAD:        true,
	})
	if err != nil {
		return fmt.Errorf("audio: open stt: %w", err)
	}
	sess.OnPartial(func(t Transcript) {
		if t.IsFinal && strings.TrimSpace(t.Text) != "" {
			b.enqueue(turn{transcript: t.Text})
		}
	})

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		b.closeSession(sess)
		return nil
	}
	stale := b.session
	b.session = sess
	b.mu.Unlock()
	if stale != nil {
		b.closeSession(stale)
	}
	return nil
}

func (b *Bridge) closeSession(s STTSession) {
	if err := s.EndAudio(); err != nil {
		b.log.Debug("stt end audio failed", "err", err)
	}
	if err := s.Close(); err != nil {
		b.log.Debug("stt close failed", "err", err)
	}
}

func (b *Bridge) enqueue(t turn) {
	select {
	case b.turns <- t:
	case <-b.ctx.Done():
	default:
		b.log.Warn("turn queue full, dropping transcript")
	}
}

func (b *Bridge) run() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case t := <-b.turns:
			if t.say != "" {
				b.speak(t.say)
				continue
			}
			b.handleTranscript(t.transcript)
		}
	}
}

func (b *Bridge) handleTranscript(text string) {
	if b.Closed() || b.reply == nil {
		return
	}
	reply, err := b.reply(b.ctx, text)
	if err != nil {
		b.log.Warn("reply failed", "err", err)
		return
	}
	if b.Closed() || strings.TrimSpace(reply) == "" {
		return
	}
	b.speak(reply)
	if b.Closed() {
		return
	}

	if err := b.reopenSession(); err != nil {
		b.log.Warn("stt session reopen failed", "err", err)
	}
}

func (b *Bridge) speak(text string) {
	b.playing.Store(true)
	b.interrupted.Store(false)
	defer b.playing.Store(false)

	if b.tts == nil {
		b.log.Warn("no synthesizer configured")
		return
	}
	syn, err := b.tts.Synthesize(b.ctx, text, SynthesisOptions{Voice: b.cfg.Voice, SampleRate: b.cfg.SynthesisRate})
	if err != nil {
		b.log.Warn("synthesis failed", "err", err)
		return
	}
	rate := syn.SampleRate
	if rate <= 0 {
		rate = b.cfg.SynthesisRate
	}
	out := EncodeMulawFrame(Resample(BytesToPCM16(syn.Audio), rate, CarrierSampleRate))

	b.mu.Lock()
	t := b.transport
	streamID := b.streamID
	b.mu.Unlock()
	if t == nil {
		b.log.Warn("no transport attached, dropping playback")
		return
	}

	ticker := time.NewTicker(b.cfg.FrameInterval)
	defer ticker.Stop()
	for off := 0; off < len(out); off += FrameBytes {
		if b.interrupted.Load() || b.Closed() {
			return
		}
		end := min(off+FrameBytes, len(out))
		if err := t.SendMedia(streamID, out[off:end]); err != nil {
			b.log.Warn("media send failed", "err", err)
			return
		}
		if end == len(out) {
			return
		}
		select {
		case <-ticker.C:
		case <-b.ctx.Done():
			return
		}
	}
}

// Close releases the STT session and transport. Safe to call more than once.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.playing.Store(false)
		b.cancel()

		b.mu.Lock()
		sess := b.session
		b.session = nil
		t := b.transport
		b.transport = nil
		b.mu.Unlock()

		if sess != nil {
			b.closeSession(sess)
		}
		if t != nil {
			if err := t.Close(); err != nil {
				b.log.Debug("transport close failed", "err", err)
			}
		}
		b.closed.Store(true)
	})
}
