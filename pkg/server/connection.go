package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var (
	// ErrKicked is the cancellation cause of a connection kicked from the console
	ErrKicked = errors.New("kicked by administrator")
	// ErrShuttingDown is the cancellation cause of connections during shutdown
	ErrShuttingDown = errors.New("server shutting down")

	errClientExit       = errors.New("client requested exit")
	errConnectionClosed = errors.New("connection closed")
)

// Connection is one accepted client connection and the goroutine serving it
type Connection struct {
	pid        uint32
	conn       net.Conn
	transport  string
	remoteIP   string
	remotePort int
	started    time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	log    *logrus.Entry
}

func newConnection(pid uint32, conn net.Conn, transport string) *Connection {
	ip, port := splitRemoteAddr(conn.RemoteAddr())
	ctx, cancel := context.WithCancelCause(context.Background())

	return &Connection{
		pid:        pid,
		conn:       conn,
		transport:  transport,
		remoteIP:   ip,
		remotePort: port,
		started:    time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log: log.WithFields(logrus.Fields{
			"conn_id":   pid,
			"remote":    conn.RemoteAddr().String(),
			"transport": transport,
		}),
	}
}

// PID returns the connection id recorded in the session registry
func (c *Connection) PID() uint32 {
	return c.pid
}

// Kick asks the connection to notify its client and exit
func (c *Connection) Kick() {
	c.cancel(ErrKicked)
}

// Done is closed once the connection goroutine has finished
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func splitRemoteAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// serveConnection runs the connection loop and its orderly teardown
func (s *Server) serveConnection(c *Connection) {
	defer s.connWG.Done()
	defer close(c.done)
	defer s.notifyExit(c.pid)

	sess := newSession(c, s.config.FrameSize, s.config.MessageRateLimit, s.metrics)
	reader := protocol.NewFrameReader(c.conn, s.config.FrameSize)

	// A cancelled connection wakes from its read immediately
	stop := context.AfterFunc(c.ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})

	reason := s.messageLoop(sess, reader)
	stop()

	s.finishConnection(c, sess, reason)
}

// messageLoop reads frames until the client leaves or the connection is
// cancelled. Each read waits at most one poll interval; idle ticks deliver
// pending messages to an authenticated user.
func (s *Server) messageLoop(sess *Session, reader *protocol.FrameReader) error {
	for {
		sess.conn.SetReadDeadline(time.Now().Add(s.config.PollInterval))
		if err := sess.ctx.Err(); err != nil {
			return context.Cause(sess.ctx)
		}

		payload, err := reader.ReadFrame()
		if err != nil {
			if isTimeout(err) {
				if sess.ctx.Err() != nil {
					return context.Cause(sess.ctx)
				}
				if sess.Authenticated() {
					if err := s.deliverPending(sess); err != nil {
						return err
					}
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}

		if exit := s.handleFrame(sess, payload); exit {
			return errClientExit
		}
	}
}

// finishConnection clears the session registry row owned by this
// connection, tells a kicked client why it is being dropped and closes the
// socket
func (s *Server) finishConnection(c *Connection, sess *Session, reason error) {
	switch {
	case errors.Is(reason, io.EOF):
		sess.log.Info("client disconnected")
	case errors.Is(reason, errClientExit):
		sess.log.Info("client exited")
	case errors.Is(reason, ErrKicked), errors.Is(reason, ErrShuttingDown):
		sess.log.WithField("reason", reason).Info("terminating connection")
	default:
		sess.log.WithError(reason).Warn("connection failed")
	}

	sess.signOut()
	if _, err := s.store.EndSessionByPID(c.pid); err != nil {
		sess.log.WithError(err).Error("failed to clear session registry row")
		s.metrics.RecordPersistenceError("end_session")
	}

	if errors.Is(reason, ErrKicked) || errors.Is(reason, ErrShuttingDown) {
		// Best effort: the client may already be gone
		if err := sess.respond(protocol.Simple(protocol.StatusKick)); err != nil {
			sess.log.WithError(err).Debug("kick notification not delivered")
		}
	}

	c.cancel(errConnectionClosed)
	c.conn.Close()
}
