package server

import "github.com/aeolun/framechat/pkg/chat"

// Store defines the persistence operations used by the server.
// *database.DB implements it; tests use an in-memory fake.
type Store interface {
	// User operations
	ListUsers() ([]chat.User, error)
	GetUser(login string) (*chat.User, error)
	LoginExists(login string) (bool, error)
	CreateUser(login, passwordHash, name string) (uint64, error)
	DeleteUser(login string) error

	// Active session registry
	StartSession(userID uint64, ip string, port int, pid uint32) error
	EndSession(userID uint64) error
	EndSessionByPID(pid uint32) (bool, error)
	ClearSessions() (int64, error)
	ActiveSessions() ([]chat.ActiveSession, error)
	GetActiveSession(userID uint64) (*chat.ActiveSession, error)
	TouchSession(userID uint64) error

	// Message operations
	SaveMessage(m chat.Message) (uint64, error)
	UnreadFor(userID uint64) ([]chat.Message, error)
	MarkDelivered(messageID, userID uint64) error

	// Close the store
	Close() error
}
