package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/aeolun/framechat/pkg/chat"
	"github.com/aeolun/framechat/pkg/chatlog"
	"github.com/aeolun/framechat/pkg/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "server")

var (
	// ErrAlreadyRunning means another server owns the temp dir
	ErrAlreadyRunning = errors.New("server already running")
	// ErrUserActive refuses to remove a signed-in user
	ErrUserActive = errors.New("user is logged in, kick first")
	// ErrNotLoggedIn means a kick target has no active session
	ErrNotLoggedIn = errors.New("user is not logged in")
)

// Server is the supervisor: it owns the listeners, spawns one Connection per
// client and reaps them when they exit
type Server struct {
	store    Store
	config   ServerConfig
	chatLog  *chatlog.Log
	metrics  *Metrics
	registry *prometheus.Registry

	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	tempDir      string

	conns   *connRegistry
	exits   chan exitNotice
	spawnMu sync.Mutex

	shutdownOnce sync.Once
	shutdown     chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
	connWG       sync.WaitGroup
	startTime    time.Time
}

// NewServer creates a server backed by store. chatLog may be nil.
func NewServer(store Store, config ServerConfig, chatLog *chatlog.Log) *Server {
	registry := prometheus.NewRegistry()

	return &Server{
		store:    store,
		config:   config,
		chatLog:  chatLog,
		metrics:  NewMetrics(registry),
		registry: registry,
		conns:    newConnRegistry(config.MaxConnectionsPerIP),
		exits:    make(chan exitNotice, 16),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start claims the temp dir, clears stale sessions and starts listening
func (s *Server) Start() error {
	s.startTime = time.Now()

	if s.config.TempDir != "" {
		if err := os.Mkdir(s.config.TempDir, 0700); err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%w: %s exists", ErrAlreadyRunning, s.config.TempDir)
			}
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		s.tempDir = s.config.TempDir
	}

	cleared, err := s.store.ClearSessions()
	if err != nil {
		s.removeTempDir()
		return fmt.Errorf("failed to clear stale sessions: %w", err)
	}
	if cleared > 0 {
		log.Infof("Cleared %d stale session(s) from a previous run", cleared)
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", s.config.ListenAddr)
	if err != nil {
		s.removeTempDir()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener
	log.Infof("TCP server listening on %s", listener.Addr())

	if s.config.HTTPAddr != "" {
		httpListener, err := net.Listen("tcp", s.config.HTTPAddr)
		if err != nil {
			listener.Close()
			s.removeTempDir()
			return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddr, err)
		}
		s.httpListener = httpListener
		s.httpServer = &http.Server{
			Handler:           s.httpHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.wg.Add(1)
		go s.serveHTTP()
	}

	go s.reapLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the TCP listen address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the HTTP listen address, or nil when HTTP is disabled
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Done is closed when shutdown has completed
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("accept failed")
			continue
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.spawn(conn, "tcp")
	}
}

// spawn starts the connection goroutine for conn
func (s *Server) spawn(conn net.Conn, transport string) error {
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()

	select {
	case <-s.shutdown:
		conn.Close()
		s.metrics.RecordConnectionRejected()
		return ErrShuttingDown
	default:
	}

	c := newConnection(s.conns.allocPID(), conn, transport)
	if err := s.conns.add(c); err != nil {
		c.log.WithError(err).Warn("connection refused")
		c.cancel(err)
		conn.Close()
		s.metrics.RecordConnectionRejected()
		return err
	}

	s.metrics.RecordConnectionOpened()
	c.log.Info("New connection")

	s.connWG.Add(1)
	go s.serveConnection(c)
	return nil
}

// notifyExit reports a finished child to the reaper
func (s *Server) notifyExit(pid uint32) {
	select {
	case s.exits <- exitNotice{pid: pid}:
	case <-s.done:
	}
}

// reapLoop consumes child exit notices until shutdown completes
func (s *Server) reapLoop() {
	for {
		select {
		case n := <-s.exits:
			s.reap(n)
		case <-s.done:
			return
		}
	}
}

func (s *Server) reap(n exitNotice) {
	if n.pid == ConsolePID {
		log.Info("Console exited, shutting down")
		// Shutdown waits for children that still need the reaper
		go s.Shutdown()
		return
	}

	if s.conns.remove(n.pid) {
		s.metrics.RecordConnectionClosed()
	}
	ended, err := s.store.EndSessionByPID(n.pid)
	if err != nil {
		log.WithError(err).WithField("conn_id", n.pid).Error("failed to reconcile session registry")
		s.metrics.RecordPersistenceError("end_session")
		return
	}
	if ended {
		log.WithField("conn_id", n.pid).Debug("reaped leftover session row")
	}
}

// ListUsers returns every registered user with its session, if any
func (s *Server) ListUsers() ([]chat.User, error) {
	return s.store.ListUsers()
}

// ListSessions returns the active session registry
func (s *Server) ListSessions() ([]chat.ActiveSession, error) {
	return s.store.ActiveSessions()
}

// Kick terminates the connection of a signed-in user. The connection sends
// a kick response to its client before closing.
func (s *Server) Kick(login string) error {
	user, err := s.store.GetUser(login)
	if err != nil {
		return err
	}

	active, err := s.store.GetActiveSession(user.ID)
	if err != nil {
		if errors.Is(err, database.ErrNoSession) {
			return ErrNotLoggedIn
		}
		return err
	}

	if err := s.store.EndSession(user.ID); err != nil {
		log.WithError(err).Error("failed to clear kicked session")
		s.metrics.RecordPersistenceError("end_session")
	}

	c, ok := s.conns.get(active.PID)
	if !ok {
		log.WithField("conn_id", active.PID).Warnf("no live connection for %s, cleared stale session", login)
		return nil
	}

	log.WithField("conn_id", active.PID).Infof("Kicking %s", login)
	c.Kick()
	s.metrics.RecordKick()
	return nil
}

// RemoveUser deletes a user who is not signed in
func (s *Server) RemoveUser(login string) error {
	user, err := s.store.GetUser(login)
	if err != nil {
		return err
	}

	if _, err := s.store.GetActiveSession(user.ID); err == nil {
		return ErrUserActive
	} else if !errors.Is(err, database.ErrNoSession) {
		return err
	}

	if err := s.store.DeleteUser(login); err != nil {
		return err
	}
	log.Infof("User '%s' has been removed", login)
	return nil
}

// Shutdown stops accepting connections, kicks every child, waits for them
// up to the grace period and removes the temp dir. Safe to call repeatedly.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("Shutting down server")

		s.spawnMu.Lock()
		close(s.shutdown)
		s.spawnMu.Unlock()

		if s.listener != nil {
			s.listener.Close()
		}

		for _, c := range s.conns.all() {
			c.cancel(ErrShuttingDown)
		}

		if !waitTimeout(&s.connWG, s.config.ShutdownGrace) {
			log.Warnf("connections still open after %s grace period", s.config.ShutdownGrace)
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownGrace)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.WithError(err).Warn("http shutdown")
			}
			cancel()
		}

		s.wg.Wait()
		s.removeTempDir()
		close(s.done)
		log.Info("Server stopped")
	})
}

func (s *Server) serveHTTP() {
	defer s.wg.Done()

	log.Infof("HTTP server listening on %s", s.httpListener.Addr())
	if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("http server failed")
	}
}

func (s *Server) removeTempDir() {
	if s.tempDir == "" {
		return
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		log.WithError(err).Warn("failed to remove temp dir")
	}
	s.tempDir = ""
}

// waitTimeout waits for wg and reports whether it finished in time
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
