package media

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("media: connection closed")

const writeTimeout = 5 * time.Second

// Conn is one carrier media websocket. It implements audio.Transport; writes
// are serialized, reads belong to the handler's read loop.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	// twilio is set once a Twilio-style frame is seen; outbound frames then carry streamSid.
	twilio atomic.Bool
	closed atomic.Bool
	once   sync.Once
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) SendMedia(streamID string, mulaw []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	sid := ""
	if c.twilio.Load() {
		sid = streamID
	}
	msg, err := encodeMedia(sid, mulaw)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) Closed() bool { return c.closed.Load() }
