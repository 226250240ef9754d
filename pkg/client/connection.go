package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/aeolun/framechat/pkg/transport"
)

const defaultTCPPort = "6465"

type dialConfig struct {
	display string
	dial    func(ctx context.Context) (net.Conn, error)
}

// parseServerAddress accepts host, host:port, tcp://host:port or a
// ws:// / wss:// URL
func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}
		hostPort = u.Host
	}

	switch scheme {
	case "tcp":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			dial: func(ctx context.Context) (net.Conn, error) {
				return transport.Dial(ctx, address)
			},
		}, nil

	case "ws", "wss":
		if hostPort == "" {
			return nil, errors.New("missing host in server address")
		}
		return &dialConfig{
			display: trimmed,
			dial: func(ctx context.Context) (net.Conn, error) {
				return transport.Dial(ctx, trimmed)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

// Connect dials the server named by addr
func Connect(ctx context.Context, addr string) (net.Conn, string, error) {
	cfg, err := parseServerAddress(addr)
	if err != nil {
		return nil, "", err
	}

	conn, err := cfg.dial(ctx)
	if err != nil {
		return nil, cfg.display, fmt.Errorf("failed to connect to %s: %w", cfg.display, err)
	}
	return conn, cfg.display, nil
}
