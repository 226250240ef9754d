package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/aeolun/framechat/pkg/chat"
	"github.com/bradenaw/juniper/xslices"
)

const userColumns = `
	u.id, u.login, u.password_hash, u.name, u.last_login,
	s.ip, s.port, s.pid, s.session_start, s.last_activity`

const userFrom = `
	FROM users u
	LEFT JOIN active_sessions s ON s.user_id = u.id`

// userRow is one users row with its optional session columns
type userRow struct {
	id           int64
	login        string
	passwordHash string
	name         string
	lastLogin    sql.NullInt64
	ip           sql.NullString
	port         sql.NullInt64
	pid          sql.NullInt64
	sessionStart sql.NullInt64
	lastActivity sql.NullInt64
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (userRow, error) {
	var r userRow
	err := s.Scan(&r.id, &r.login, &r.passwordHash, &r.name, &r.lastLogin,
		&r.ip, &r.port, &r.pid, &r.sessionStart, &r.lastActivity)
	return r, err
}

func (r userRow) toUser() chat.User {
	u := chat.User{
		ID:           uint64(r.id),
		Login:        r.login,
		PasswordHash: r.passwordHash,
		Name:         r.name,
	}
	if r.lastLogin.Valid {
		t := fromMillis(r.lastLogin.Int64)
		u.LastLogin = &t
	}
	if r.pid.Valid {
		u.Session = &chat.SessionInfo{
			IP:           r.ip.String,
			Port:         int(r.port.Int64),
			PID:          uint32(r.pid.Int64),
			Started:      fromMillis(r.sessionStart.Int64),
			LastActivity: fromMillis(r.lastActivity.Int64),
		}
	}
	return u
}

// ListUsers returns every registered user ordered by id, with session info attached
func (db *DB) ListUsers() ([]chat.User, error) {
	rows, err := db.conn.Query(`SELECT ` + userColumns + userFrom + ` ORDER BY u.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scanned []userRow
	for rows.Next() {
		r, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return xslices.Map(scanned, userRow.toUser), nil
}

// GetUser loads one user by login
func (db *DB) GetUser(login string) (*chat.User, error) {
	row := db.conn.QueryRow(db.rebind(`SELECT `+userColumns+userFrom+` WHERE u.login = ?`), login)
	r, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u := r.toUser()
	return &u, nil
}

// LoginExists reports whether a user with login is registered
func (db *DB) LoginExists(login string) (bool, error) {
	var exists int
	err := db.conn.QueryRow(db.rebind(`SELECT COUNT(*) FROM users WHERE login = ?`), login).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// CreateUser registers a user under the next free id and returns that id
func (db *DB) CreateUser(login, passwordHash, name string) (uint64, error) {
	db.allocMu.Lock()
	defer db.allocMu.Unlock()

	taken, err := db.loginExistsForWrite(login)
	if err != nil {
		return 0, err
	}
	if taken {
		return 0, ErrLoginTaken
	}

	var id int64
	err = db.writeConn.QueryRow(db.rebind(`
		INSERT INTO users (id, login, password_hash, name)
		SELECT COALESCE(MAX(id), -1) + 1, CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS TEXT) FROM users
		RETURNING id
	`), login, passwordHash, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	log.WithField("login", login).WithField("id", id).Debug("user created")
	return uint64(id), nil
}

// loginExistsForWrite checks on the write connection so the answer cannot
// lag behind a just-committed insert
func (db *DB) loginExistsForWrite(login string) (bool, error) {
	var exists int
	err := db.writeConn.QueryRow(db.rebind(`SELECT COUNT(*) FROM users WHERE login = ?`), login).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// DeleteUser removes a user together with their session and pending deliveries
func (db *DB) DeleteUser(login string) error {
	res, err := db.writeConn.Exec(db.rebind(`DELETE FROM users WHERE login = ?`), login)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
