package database

import (
	"database/sql"
	"fmt"

	"github.com/aeolun/framechat/pkg/chat"
)

const (
	messageTypeBroadcast = "broadcast"
	messageTypePrivate   = "private"
)

// SaveMessage persists m under the next free id together with one unread
// row per pending recipient. The assigned id is written back to m.
// A private message to an unknown receiver is rejected with ErrUserNotFound
// and nothing is stored.
func (db *DB) SaveMessage(m chat.Message) (uint64, error) {
	env := chat.EnvelopeOf(m)

	var (
		msgType  string
		receiver sql.NullString
		read     int
	)
	switch m := m.(type) {
	case *chat.Broadcast:
		msgType = messageTypeBroadcast
		if chat.IsRead(m) {
			read = 1
		}
	case *chat.Private:
		msgType = messageTypePrivate
		receiver = sql.NullString{String: m.Receiver, Valid: true}
		if m.Read {
			read = 1
		}
	default:
		return 0, fmt.Errorf("unsupported message type %T", m)
	}

	sent := env.Sent.UnixMilli()
	if env.Sent.IsZero() {
		sent = nowMillis()
	}

	db.allocMu.Lock()
	defer db.allocMu.Unlock()

	tx, err := db.writeConn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(db.rebind(`
		INSERT INTO messages (id, type, sender, receiver, text, is_read, sent)
		SELECT COALESCE(MAX(id), -1) + 1, CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS TEXT), CAST(? AS TEXT),
			CAST(? AS INTEGER), CAST(? AS BIGINT)
		FROM messages
		RETURNING id
	`), msgType, env.Sender, receiver, env.Text, read, sent).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	for _, login := range chat.Recipients(m) {
		res, err := tx.Exec(db.rebind(`
			INSERT INTO unread_messages (message_id, user_id)
			SELECT CAST(? AS BIGINT), id FROM users WHERE login = ?
		`), id, login)
		if err != nil {
			return 0, fmt.Errorf("failed to queue delivery to %s: %w", login, err)
		}
		if n, _ := res.RowsAffected(); n == 0 && msgType == messageTypePrivate {
			return 0, ErrUserNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	env.ID = uint64(id)
	return env.ID, nil
}

// UnreadFor returns the messages still owed to userID, oldest first. The
// returned messages carry their envelope and receiver only; recipient sets
// are not loaded.
func (db *DB) UnreadFor(userID uint64) ([]chat.Message, error) {
	rows, err := db.conn.Query(db.rebind(`
		SELECT m.id, m.type, m.sender, m.receiver, m.text, m.is_read, m.sent
		FROM unread_messages um
		JOIN messages m ON m.id = um.message_id
		WHERE um.user_id = ?
		ORDER BY m.sent ASC, m.id ASC
	`), int64(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var (
			id       int64
			msgType  string
			sender   string
			receiver sql.NullString
			text     string
			read     int
			sent     int64
		)
		if err := rows.Scan(&id, &msgType, &sender, &receiver, &text, &read, &sent); err != nil {
			return nil, err
		}

		env := chat.Envelope{ID: uint64(id), Sender: sender, Text: text, Sent: fromMillis(sent)}
		if msgType == messageTypePrivate {
			messages = append(messages, &chat.Private{Envelope: env, Receiver: receiver.String, Read: read != 0})
		} else {
			messages = append(messages, &chat.Broadcast{Envelope: env})
		}
	}
	return messages, rows.Err()
}

// MarkDelivered deletes the unread row for (messageID, userID). Private
// messages also get their read flag set.
func (db *DB) MarkDelivered(messageID, userID uint64) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(db.rebind(`DELETE FROM unread_messages WHERE message_id = ? AND user_id = ?`),
		int64(messageID), int64(userID)); err != nil {
		return err
	}

	if _, err := tx.Exec(db.rebind(`UPDATE messages SET is_read = 1 WHERE id = ? AND type = ?`),
		int64(messageID), messageTypePrivate); err != nil {
		return err
	}

	return tx.Commit()
}

// PendingRecipients returns the logins still owed messageID, sorted
func (db *DB) PendingRecipients(messageID uint64) ([]string, error) {
	rows, err := db.conn.Query(db.rebind(`
		SELECT u.login
		FROM unread_messages um
		JOIN users u ON u.id = um.user_id
		WHERE um.message_id = ?
		ORDER BY u.login ASC
	`), int64(messageID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logins []string
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return nil, err
		}
		logins = append(logins, login)
	}
	return logins, rows.Err()
}

// IsMessageRead reports whether nobody is owed messageID any more
func (db *DB) IsMessageRead(messageID uint64) (bool, error) {
	var pending int
	err := db.conn.QueryRow(db.rebind(`SELECT COUNT(*) FROM unread_messages WHERE message_id = ?`),
		int64(messageID)).Scan(&pending)
	if err != nil {
		return false, err
	}
	return pending == 0, nil
}
