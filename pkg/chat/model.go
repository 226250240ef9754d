// Package chat holds the user and message model shared by the server,
// the persistence layer and the client.
package chat

import (
	"errors"
	"regexp"
	"sort"
	"time"

	"github.com/aeolun/framechat/pkg/protocol"
)

var (
	ErrEmptyLogin   = errors.New("login is empty")
	ErrInvalidLogin = errors.New("login may only contain letters, digits, '-' and '_'")
)

var loginPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidLogin reports whether login is usable as a user identity
func ValidLogin(login string) error {
	if login == "" {
		return ErrEmptyLogin
	}
	if !loginPattern.MatchString(login) {
		return ErrInvalidLogin
	}
	return nil
}

// User is a registered account
type User struct {
	ID           uint64
	Login        string
	PasswordHash string
	Name         string
	LastLogin    *time.Time

	// Session is set while the user has an active session
	Session *SessionInfo
}

// SessionInfo describes where a user is connected from
type SessionInfo struct {
	IP           string
	Port         int
	PID          uint32
	Started      time.Time
	LastActivity time.Time
}

// ActiveSession is one row of the active session registry
type ActiveSession struct {
	UserID       uint64
	Login        string
	IP           string
	Port         int
	PID          uint32
	Started      time.Time
	LastActivity time.Time
}

// Info returns the session part of the row
func (s ActiveSession) Info() *SessionInfo {
	return &SessionInfo{
		IP:           s.IP,
		Port:         s.Port,
		PID:          s.PID,
		Started:      s.Started,
		LastActivity: s.LastActivity,
	}
}

// Envelope holds the fields common to every message kind
type Envelope struct {
	ID     uint64
	Sender string
	Text   string
	Sent   time.Time
}

// Message is either *Broadcast or *Private
type Message interface {
	envelope() *Envelope
	isMessage()
}

// Broadcast is sent to every known user. UnreadBy shrinks as each
// recipient's copy is delivered.
type Broadcast struct {
	Envelope
	UnreadBy map[string]struct{}
}

// Private is sent to exactly one receiver
type Private struct {
	Envelope
	Receiver string
	Read     bool
}

func (b *Broadcast) envelope() *Envelope { return &b.Envelope }
func (p *Private) envelope() *Envelope   { return &p.Envelope }
func (*Broadcast) isMessage()            {}
func (*Private) isMessage()              {}

// NewBroadcast builds a broadcast owed to every login in users
func NewBroadcast(sender, text string, users []User) *Broadcast {
	unread := make(map[string]struct{}, len(users))
	for _, u := range users {
		unread[u.Login] = struct{}{}
	}
	return &Broadcast{
		Envelope: Envelope{Sender: sender, Text: text, Sent: time.Now()},
		UnreadBy: unread,
	}
}

// NewPrivate builds an unread private message
func NewPrivate(sender, receiver, text string) *Private {
	return &Private{
		Envelope: Envelope{Sender: sender, Text: text, Sent: time.Now()},
		Receiver: receiver,
	}
}

// EnvelopeOf returns the common fields of m
func EnvelopeOf(m Message) *Envelope {
	return m.envelope()
}

// IsRead reports whether every intended recipient has received m
func IsRead(m Message) bool {
	switch m := m.(type) {
	case *Broadcast:
		return len(m.UnreadBy) == 0
	case *Private:
		return m.Read
	}
	return false
}

// MarkDelivered records that login has received m. It reports whether
// login was still owed the message.
func MarkDelivered(m Message, login string) bool {
	switch m := m.(type) {
	case *Broadcast:
		if _, ok := m.UnreadBy[login]; !ok {
			return false
		}
		delete(m.UnreadBy, login)
		return true
	case *Private:
		if m.Read || m.Receiver != login {
			return false
		}
		m.Read = true
		return true
	}
	return false
}

// Recipients returns the logins still owed m, sorted
func Recipients(m Message) []string {
	switch m := m.(type) {
	case *Broadcast:
		logins := make([]string, 0, len(m.UnreadBy))
		for login := range m.UnreadBy {
			logins = append(logins, login)
		}
		sort.Strings(logins)
		return logins
	case *Private:
		if m.Read {
			return nil
		}
		return []string{m.Receiver}
	}
	return nil
}

// PushFor returns the push frame that delivers m
func PushFor(m Message) protocol.Push {
	env := m.envelope()
	kind := protocol.PushBroadcast
	if _, ok := m.(*Private); ok {
		kind = protocol.PushPrivate
	}
	return protocol.Push{Kind: kind, Sender: env.Sender, Text: env.Text}
}

// LogLine renders m the way it is written to a chat log
func LogLine(m Message) string {
	switch m := m.(type) {
	case *Private:
		return m.Sender + ": @" + m.Receiver + " " + m.Text
	case *Broadcast:
		return m.Sender + ": " + m.Text
	}
	return ""
}
