// ABOUTME: WebSocket adapter that carries fixed-size frames as binary messages
// ABOUTME: Read deadlines are enforced locally so a timeout never breaks the socket

package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Path is where the server mounts the WebSocket endpoint
const Path = "/ws"

// WebSocketConn adapts a WebSocket connection to the net.Conn interface.
//
// gorilla/websocket treats a read deadline as fatal, while frame readers
// here poll with short deadlines. A pump goroutine therefore owns the
// underlying reads and Read waits on it with its own timer.
type WebSocketConn struct {
	ws *websocket.Conn

	incoming chan []byte
	readErr  error // valid once incoming is closed
	readBuf  bytes.Buffer
	readMu   sync.Mutex

	deadlineMu      sync.Mutex
	readDeadline    time.Time
	deadlineChanged chan struct{}

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

// Upgrader accepts every origin; the frame protocol carries no browser state
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Upgrade switches an HTTP request to a WebSocket frame transport
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(ws), nil
}

// NewWebSocketConn wraps ws and starts its read pump
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	c := &WebSocketConn{
		ws:              ws,
		incoming:        make(chan []byte, 16),
		deadlineChanged: make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *WebSocketConn) pump() {
	defer close(c.incoming)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = translateReadError(err)
			return
		}

		// We only accept binary messages
		if messageType != websocket.BinaryMessage {
			c.readErr = io.ErrUnexpectedEOF
			return
		}

		select {
		case c.incoming <- data:
		case <-c.done:
			c.readErr = net.ErrClosed
			return
		}
	}
}

func translateReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return io.EOF
	}
	if errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return err
}

// Read implements net.Conn.Read
func (c *WebSocketConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	// If we have buffered data, read from buffer first
	if c.readBuf.Len() > 0 {
		return c.readBuf.Read(b)
	}

	for {
		data, ok, err := c.waitMessage()
		if err == errDeadlineChanged {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, c.readErr
		}
		c.readBuf.Write(data)
		return c.readBuf.Read(b)
	}
}

var errDeadlineChanged = errors.New("read deadline changed")

// waitMessage blocks until the pump delivers a message, the read deadline
// passes or the deadline is moved
func (c *WebSocketConn) waitMessage() ([]byte, bool, error) {
	var timeout <-chan time.Time
	if deadline := c.getReadDeadline(); !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, false, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-c.incoming:
		return data, ok, nil
	case <-timeout:
		return nil, false, os.ErrDeadlineExceeded
	case <-c.deadlineChanged:
		return nil, false, errDeadlineChanged
	}
}

// Write implements net.Conn.Write. Each call is sent as one binary message.
func (c *WebSocketConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return 0, net.ErrClosed
	}
	c.closeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close implements net.Conn.Close
func (c *WebSocketConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)
	return c.ws.Close()
}

// LocalAddr implements net.Conn.LocalAddr
func (c *WebSocketConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr implements net.Conn.RemoteAddr
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetDeadline implements net.Conn.SetDeadline
func (c *WebSocketConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn.SetReadDeadline
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.readDeadline = t
	c.deadlineMu.Unlock()

	select {
	case c.deadlineChanged <- struct{}{}:
	default:
	}
	return nil
}

// SetWriteDeadline implements net.Conn.SetWriteDeadline
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *WebSocketConn) getReadDeadline() time.Time {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	return c.readDeadline
}
