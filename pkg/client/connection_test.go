package client

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerAddressTCP(t *testing.T) {
	cfg, err := parseServerAddress("example.com:1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.display != "example.com:1234" {
		t.Fatalf("expected display address example.com:1234, got %s", cfg.display)
	}

	if cfg.dial == nil {
		t.Fatal("expected dial function to be set")
	}
}

func TestParseServerAddressTCPDefaultPort(t *testing.T) {
	cfg, err := parseServerAddress("example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.display != "example.com:6465" {
		t.Fatalf("expected default port to be appended, got %s", cfg.display)
	}
}

func TestParseServerAddressSchemes(t *testing.T) {
	tests := []struct {
		raw     string
		display string
	}{
		{"tcp://example.com:7000", "example.com:7000"},
		{"tcp://example.com", "example.com:6465"},
		{"[::1]", "[::1]:6465"},
		{"ws://example.com:8080/ws", "ws://example.com:8080/ws"},
		{"wss://chat.example.com", "wss://chat.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cfg, err := parseServerAddress(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.display, cfg.display)
		})
	}
}

func TestParseServerAddressInvalidScheme(t *testing.T) {
	if _, err := parseServerAddress("udp://example.com"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	} else if !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseServerAddressEmpty(t *testing.T) {
	_, err := parseServerAddress("   ")
	assert.Error(t, err)

	_, err = parseServerAddress("ws://")
	assert.Error(t, err)
}

func TestConnectTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload, _ := protocol.DecodeFrame(conn, protocol.DefaultFrameSize)
		accepted <- payload
	}()

	conn, display, err := Connect(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, ln.Addr().String(), display)

	require.NoError(t, protocol.EncodeFrame(conn, protocol.DefaultFrameSize, "/checklogin:alice"))
	assert.Equal(t, "/checklogin:alice", <-accepted)
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, _, err = Connect(context.Background(), addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
