package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aeolun/framechat/pkg/chat"
	"github.com/aeolun/framechat/pkg/database"
)

var errMockFailure = errors.New("mock store failure")

// mockStore is a simple in-memory Store for handler tests
type mockStore struct {
	mu       sync.Mutex
	users    map[string]*chat.User
	sessions map[uint64]*chat.ActiveSession
	messages []storedMessage
	unread   map[uint64]map[uint64]bool // message id -> user id
	nextUser uint64
	nextMsg  uint64

	// failOps makes the named operations return errMockFailure
	failOps map[string]bool
}

type storedMessage struct {
	msg chat.Message
}

func newMockStore() *mockStore {
	return &mockStore{
		users:    make(map[string]*chat.User),
		sessions: make(map[uint64]*chat.ActiveSession),
		unread:   make(map[uint64]map[uint64]bool),
		failOps:  make(map[string]bool),
	}
}

func (m *mockStore) fail(op string) error {
	if m.failOps[op] {
		return errMockFailure
	}
	return nil
}

func (m *mockStore) userByID(id uint64) *chat.User {
	for _, u := range m.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (m *mockStore) ListUsers() ([]chat.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListUsers"); err != nil {
		return nil, err
	}

	users := make([]chat.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *mockStore) GetUser(login string) (*chat.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUser"); err != nil {
		return nil, err
	}

	u, ok := m.users[login]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *mockStore) LoginExists(login string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("LoginExists"); err != nil {
		return false, err
	}

	_, ok := m.users[login]
	return ok, nil
}

func (m *mockStore) CreateUser(login, passwordHash, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateUser"); err != nil {
		return 0, err
	}

	if _, ok := m.users[login]; ok {
		return 0, database.ErrLoginTaken
	}
	id := m.nextUser
	m.nextUser++
	m.users[login] = &chat.User{ID: id, Login: login, PasswordHash: passwordHash, Name: name}
	return id, nil
}

func (m *mockStore) DeleteUser(login string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteUser"); err != nil {
		return err
	}

	u, ok := m.users[login]
	if !ok {
		return database.ErrUserNotFound
	}
	delete(m.users, login)
	delete(m.sessions, u.ID)
	for _, recipients := range m.unread {
		delete(recipients, u.ID)
	}
	return nil
}

func (m *mockStore) StartSession(userID uint64, ip string, port int, pid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("StartSession"); err != nil {
		return err
	}

	u := m.userByID(userID)
	if u == nil {
		return database.ErrUserNotFound
	}
	now := time.Now()
	m.sessions[userID] = &chat.ActiveSession{
		UserID:       userID,
		Login:        u.Login,
		IP:           ip,
		Port:         port,
		PID:          pid,
		Started:      now,
		LastActivity: now,
	}
	u.LastLogin = &now
	return nil
}

func (m *mockStore) EndSession(userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EndSession"); err != nil {
		return err
	}

	delete(m.sessions, userID)
	return nil
}

func (m *mockStore) EndSessionByPID(pid uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EndSessionByPID"); err != nil {
		return false, err
	}

	for id, s := range m.sessions {
		if s.PID == pid {
			delete(m.sessions, id)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) ClearSessions() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ClearSessions"); err != nil {
		return 0, err
	}

	n := int64(len(m.sessions))
	m.sessions = make(map[uint64]*chat.ActiveSession)
	return n, nil
}

func (m *mockStore) ActiveSessions() ([]chat.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ActiveSessions"); err != nil {
		return nil, err
	}

	sessions := make([]chat.ActiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, *s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UserID < sessions[j].UserID })
	return sessions, nil
}

func (m *mockStore) GetActiveSession(userID uint64) (*chat.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetActiveSession"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[userID]
	if !ok {
		return nil, database.ErrNoSession
	}
	copied := *s
	return &copied, nil
}

func (m *mockStore) TouchSession(userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TouchSession"); err != nil {
		return err
	}

	if s, ok := m.sessions[userID]; ok {
		s.LastActivity = time.Now()
	}
	return nil
}

func (m *mockStore) SaveMessage(msg chat.Message) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SaveMessage"); err != nil {
		return 0, err
	}

	recipients := make(map[uint64]bool)
	for _, login := range chat.Recipients(msg) {
		u, ok := m.users[login]
		if !ok {
			if _, private := msg.(*chat.Private); private {
				return 0, database.ErrUserNotFound
			}
			continue
		}
		recipients[u.ID] = true
	}

	id := m.nextMsg
	m.nextMsg++
	chat.EnvelopeOf(msg).ID = id
	m.messages = append(m.messages, storedMessage{msg: msg})
	m.unread[id] = recipients
	return id, nil
}

func (m *mockStore) UnreadFor(userID uint64) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UnreadFor"); err != nil {
		return nil, err
	}

	var pending []chat.Message
	for _, sm := range m.messages {
		if m.unread[chat.EnvelopeOf(sm.msg).ID][userID] {
			pending = append(pending, sm.msg)
		}
	}
	return pending, nil
}

func (m *mockStore) MarkDelivered(messageID, userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkDelivered"); err != nil {
		return err
	}

	delete(m.unread[messageID], userID)
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

// pendingCount returns how many unread rows remain for messageID
func (m *mockStore) pendingCount(messageID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unread[messageID])
}

func (m *mockStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

var _ Store = (*mockStore)(nil)
