package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"voice-platform/internal/audio"

	"github.com/gorilla/websocket"
)

// CartesiaSTT opens streaming recognition sessions over Cartesia's websocket API.
type CartesiaSTT struct {
	cfg Config
	log *slog.Logger
}

func NewCartesiaSTT(cfg Config, log *slog.Logger) (*CartesiaSTT, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = slog.Default()
	}
	return &CartesiaSTT{cfg: cfg.withDefaults(), log: log}, nil
}

func (p *CartesiaSTT) CreateSession(ctx context.Context, cfg audio.STTConfig) (audio.STTSession, error) {
	u, err := url.Parse(p.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("speech: parse websocket url: %w", err)
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = audio.STTSampleRate
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.cfg.Language
	}
	q := u.Query()
	q.Set("model", p.cfg.STTModel)
	q.Set("language", lang)
	q.Set("encoding", encoding)
	q.Set("sample_rate", strconv.Itoa(rate))
	if cfg.VAD {
		q.Set("min_volume", "0.01")
		q.Set("max_silence_duration_secs", "0.6")
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", p.cfg.APIKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("speech: stt connect: %w", readAPIError(resp))
		}
		return nil, fmt.Errorf("speech: stt connect: %w", err)
	}

	s := &sttSession{conn: conn, log: p.log, done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

type sttSession struct {
	conn    *websocket.Conn
	log     *slog.Logger
	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}

	cbMu      sync.RWMutex
	onPartial func(audio.Transcript)
}

type sttMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *sttSession) OnPartial(fn func(audio.Transcript)) {
	s.cbMu.Lock()
	s.onPartial = fn
	s.cbMu.Unlock()
}

func (s *sttSession) emit(t audio.Transcript) {
	s.cbMu.RLock()
	fn := s.onPartial
	s.cbMu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

func (s *sttSession) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("stt read failed", "err", err)
			}
			return
		}
		var msg sttMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "transcript":
			s.emit(audio.Transcript{Text: msg.Text, IsFinal: msg.IsFinal})
		case "done":
			return
		case "error":
			detail := msg.Error
			if detail == "" {
				detail = msg.Message
			}
			s.log.Warn("stt session error", "err", detail)
			return
		}
	}
}

func (s *sttSession) write(kind int, data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(kind, data)
}

func (s *sttSession) SendAudio(pcm []byte) error {
	return s.write(websocket.BinaryMessage, pcm)
}

// EndAudio asks Cartesia to flush pending audio into a final transcript.
func (s *sttSession) EndAudio() error {
	return s.write(websocket.TextMessage, []byte("finalize"))
}

func (s *sttSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
