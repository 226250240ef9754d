package server

import (
	"context"
	"net"
	"time"

	"github.com/aeolun/framechat/pkg/chat"
	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// writeTimeout bounds every frame written to a client
const writeTimeout = 5 * time.Second

// Session is the state of one connection. It is owned by the connection's
// loop and passed explicitly to every handler.
type Session struct {
	PID        uint32
	RemoteIP   string
	RemotePort int

	// User is set while the session is authenticated
	User *chat.User

	ctx     context.Context
	conn    net.Conn
	writer  *protocol.FrameWriter
	limiter *rate.Limiter
	log     *logrus.Entry
	metrics *Metrics
}

func newSession(c *Connection, frameSize int, messagesPerMinute int, metrics *Metrics) *Session {
	limit := rate.Inf
	burst := 0
	if messagesPerMinute > 0 {
		limit = rate.Limit(float64(messagesPerMinute) / 60)
		burst = messagesPerMinute
	}

	return &Session{
		PID:        c.pid,
		RemoteIP:   c.remoteIP,
		RemotePort: c.remotePort,
		ctx:        c.ctx,
		conn:       c.conn,
		writer:     protocol.NewFrameWriter(c.conn, frameSize),
		limiter:    rate.NewLimiter(limit, burst),
		log:        c.log,
		metrics:    metrics,
	}
}

// Authenticated reports whether a user is signed in on this session
func (s *Session) Authenticated() bool {
	return s.User != nil
}

// Login returns the signed-in login or an empty string
func (s *Session) Login() string {
	if s.User == nil {
		return ""
	}
	return s.User.Login
}

func (s *Session) signIn(user *chat.User) {
	s.User = user
	s.log = s.log.WithField("login", user.Login)
	s.metrics.RecordSignin()
}

func (s *Session) signOut() {
	if s.User == nil {
		return
	}
	s.User = nil
	s.log = s.log.WithField("login", "")
	s.metrics.RecordSignout()
}

// respond writes a response frame to the client
func (s *Session) respond(resp protocol.Response) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.writer.WriteResponse(resp); err != nil {
		s.log.WithError(err).Warnf("failed to send %s response", resp.Status)
		return err
	}
	s.metrics.RecordResponseSent(string(resp.Status))
	return nil
}

// push writes a push frame to the client
func (s *Session) push(p protocol.Push) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.writer.WritePush(p)
}
