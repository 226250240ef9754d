package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/aeolun/framechat/pkg/chat"
	"github.com/bradenaw/juniper/xslices"
)

const sessionSelect = `
	SELECT s.user_id, u.login, s.ip, s.port, s.pid, s.session_start, s.last_activity
	FROM active_sessions s
	JOIN users u ON u.id = s.user_id`

type sessionRow struct {
	userID       int64
	login        string
	ip           string
	port         int64
	pid          int64
	started      int64
	lastActivity int64
}

func scanSession(s scanner) (sessionRow, error) {
	var r sessionRow
	err := s.Scan(&r.userID, &r.login, &r.ip, &r.port, &r.pid, &r.started, &r.lastActivity)
	return r, err
}

func (r sessionRow) toActiveSession() chat.ActiveSession {
	return chat.ActiveSession{
		UserID:       uint64(r.userID),
		Login:        r.login,
		IP:           r.ip,
		Port:         int(r.port),
		PID:          uint32(r.pid),
		Started:      fromMillis(r.started),
		LastActivity: fromMillis(r.lastActivity),
	}
}

// StartSession records an active session for userID, replacing any stale
// row, and stamps the user's last login
func (db *DB) StartSession(userID uint64, ip string, port int, pid uint32) error {
	now := nowMillis()

	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(db.rebind(`DELETE FROM active_sessions WHERE user_id = ?`), int64(userID)); err != nil {
		return fmt.Errorf("failed to clear stale session: %w", err)
	}

	if _, err := tx.Exec(db.rebind(`
		INSERT INTO active_sessions (user_id, ip, port, pid, session_start, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
	`), int64(userID), ip, port, int64(pid), now, now); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if _, err := tx.Exec(db.rebind(`UPDATE users SET last_login = ? WHERE id = ?`), now, int64(userID)); err != nil {
		return fmt.Errorf("failed to stamp last login: %w", err)
	}

	return tx.Commit()
}

// EndSession removes the session row of userID
func (db *DB) EndSession(userID uint64) error {
	_, err := db.writeConn.Exec(db.rebind(`DELETE FROM active_sessions WHERE user_id = ?`), int64(userID))
	return err
}

// EndSessionByPID removes the session owned by a connection and reports
// whether there was one
func (db *DB) EndSessionByPID(pid uint32) (bool, error) {
	res, err := db.writeConn.Exec(db.rebind(`DELETE FROM active_sessions WHERE pid = ?`), int64(pid))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearSessions drops every session row and returns how many there were
func (db *DB) ClearSessions() (int64, error) {
	res, err := db.writeConn.Exec(`DELETE FROM active_sessions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActiveSessions lists the registry ordered by session start
func (db *DB) ActiveSessions() ([]chat.ActiveSession, error) {
	rows, err := db.conn.Query(sessionSelect + ` ORDER BY s.session_start ASC, s.user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scanned []sessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return xslices.Map(scanned, sessionRow.toActiveSession), nil
}

// GetActiveSession returns the session row of userID or ErrNoSession
func (db *DB) GetActiveSession(userID uint64) (*chat.ActiveSession, error) {
	r, err := scanSession(db.conn.QueryRow(db.rebind(sessionSelect+` WHERE s.user_id = ?`), int64(userID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	s := r.toActiveSession()
	return &s, nil
}

// TouchSession refreshes the last activity timestamp of userID
func (db *DB) TouchSession(userID uint64) error {
	_, err := db.writeConn.Exec(db.rebind(`UPDATE active_sessions SET last_activity = ? WHERE user_id = ?`),
		nowMillis(), int64(userID))
	return err
}
