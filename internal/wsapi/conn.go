package wsapi

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/beacon/internal/beacon/types"
)

var (
	ErrSendQueueFull = errors.New("websocket send queue full")
	ErrConnClosed    = errors.New("websocket connection closed")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendQueueSize  = 64
)

// conn adapts a gorilla connection to service.Conn. Send only enqueues;
// writeLoop is the single writer.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan types.Message
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

func newConn(ws *websocket.Conn, kind string, log zerolog.Logger) *conn {
	id := uuid.NewString()
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan types.Message, sendQueueSize),
		done: make(chan struct{}),
		log:  log.With().Str("conn_id", id).Str("kind", kind).Logger(),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(msg types.Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

// Close stops the writer, which sends a close frame and tears down the
// socket. Safe to call more than once.
func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Str("event", msg.Event).Msg("websocket write")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("websocket ping")
				_ = c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued, so a final error or ack is not lost.
func (c *conn) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readLoop delivers every text frame to fn until the peer goes away or the
// connection is closed locally.
func (c *conn) readLoop(fn func(data []byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		fn(data)
	}
}
