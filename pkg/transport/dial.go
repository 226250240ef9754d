package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// DialTimeout bounds both the TCP connect and the WebSocket handshake
const DialTimeout = 10 * time.Second

// Dial connects to a chat server. addr is either host:port for a raw TCP
// connection or a ws:// / wss:// URL for the WebSocket transport.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		ws, err := DialWebSocket(ctx, addr)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}

	dialer := &net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

// DialWebSocket connects to a WebSocket endpoint. A URL without a path gets
// the default endpoint path.
func DialWebSocket(ctx context.Context, rawURL string) (*WebSocketConn, error) {
	if !strings.Contains(strings.SplitN(rawURL, "://", 2)[1], "/") {
		rawURL += Path
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: DialTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	ws, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		// Improve error message for common TLS/handshake issues
		if strings.Contains(err.Error(), "bad handshake") {
			return nil, fmt.Errorf("handshake failed - check the endpoint path and ws:// vs wss://: %w", err)
		}
		return nil, err
	}

	return NewWebSocketConn(ws), nil
}
