package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	return conn.ReadJSON(v)
}

// Client owns one connection. Reads happen on the caller's goroutine; every
// write goes through a single write pump, so events raised on other
// goroutines never interleave frames.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	send      chan interface{}
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn and starts its write pump.
func NewClient(conn *websocket.Conn, log zerolog.Logger) *Client {
	c := &Client{
		conn:     conn,
		log:      log,
		send:     make(chan interface{}, sendBuffer),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()
	return c
}

// Send queues v for writing. It reports false if the client is closed or too
// far behind, in which case v is dropped.
func (c *Client) Send(v interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- v:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("WebSocket send buffer full, dropping event")
		return false
	}
}

// SendError queues an ErrorResponse.
func (c *Client) SendError(code, errMsg string) bool {
	return c.Send(ErrorResponse{Event: EventError, Code: code, Error: errMsg})
}

// ReadJSON reads the next inbound frame.
func (c *Client) ReadJSON(v interface{}) error {
	return ReadJSON(c.conn, v)
}

// Close flushes queued events, stops the write pump and closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.pumpDone
		c.conn.Close()
	})
}

func (c *Client) writePump() {
	defer close(c.pumpDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v := <-c.send:
			if err := WriteTyped(c.conn, v); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write failed")
				c.drain()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket ping failed")
				c.drain()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, e.g. the final submitted event.
func (c *Client) flush() {
	for {
		select {
		case v := <-c.send:
			if err := WriteTyped(c.conn, v); err != nil {
				return
			}
		default:
			return
		}
	}
}

// drain discards queued events after the connection broke, until Close.
func (c *Client) drain() {
	for {
		select {
		case <-c.send:
		case <-c.done:
			return
		}
	}
}
