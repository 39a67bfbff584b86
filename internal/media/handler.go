package media

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"voice-platform/internal/audio"
	"voice-platform/internal/calls"
	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// CallMedia is the slice of calls.Manager the media endpoint needs.
type CallMedia interface {
	GetCall(callControlID string) (calls.Call, bool)
	AttachTransport(callControlID string, t audio.Transport) error
	HandleMediaEvent(callControlID string, ev audio.Event) error
}

// Handler upgrades GET /media/:call_control_id to the carrier media websocket
// and pumps frames into the call's audio bridge.
type Handler struct {
	Calls CallMedia
	// IdleTimeout closes streams that stop sending frames. Default 60s.
	IdleTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewHandler(cm CallMedia, idle time.Duration) *Handler {
	if idle <= 0 {
		idle = 60 * time.Second
	}
	return &Handler{
		Calls:       cm,
		IdleTimeout: idle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Carriers do not send an Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Serve(c *gin.Context) {
	log := logger.FromGin(c)
	ccid := c.Param("call_control_id")

	if _, ok := h.Calls.GetCall(ccid); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media websocket upgrade failed", "call_control_id", ccid, "err", err)
		return
	}
	conn := NewConn(ws)
	defer func() { _ = conn.Close() }()

	if err := h.Calls.AttachTransport(ccid, conn); err != nil {
		log.Warn("media attach failed", "call_control_id", ccid, "err", err)
		return
	}
	log.Info("media stream connected", "call_control_id", ccid)

	h.readLoop(ccid, conn, log)

	// A dropped socket ends the call the same way a stop frame does. A conn
	// closed on our side was either replaced by a newer stream or torn down
	// with its call, so it has nothing left to end.
	if conn.Closed() {
		log.Info("media stream released", "call_control_id", ccid)
		return
	}
	if err := h.Calls.HandleMediaEvent(ccid, audio.Event{Kind: audio.EventStop}); err != nil && !errors.Is(err, calls.ErrNotFound) {
		log.Warn("media stop delivery failed", "call_control_id", ccid, "err", err)
	}
	log.Info("media stream closed", "call_control_id", ccid)
}

func (h *Handler) readLoop(ccid string, conn *Conn, log *slog.Logger) {
	for {
		_ = conn.ws.SetReadDeadline(time.Now().Add(h.IdleTimeout))
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.Closed() {
				log.Debug("media read ended", "call_control_id", ccid, "err", err)
			}
			return
		}

		ev, twilio, ok, err := decodeFrame(data)
		if err != nil {
			log.Debug("media frame dropped", "call_control_id", ccid, "err", err)
			continue
		}
		if twilio {
			conn.twilio.Store(true)
		}
		if !ok {
			continue
		}
		if conn.Closed() {
			return
		}
		if err := h.Calls.HandleMediaEvent(ccid, ev); err != nil {
			// Call ended underneath us.
			return
		}
		if ev.Kind == audio.EventStop {
			return
		}
	}
}
