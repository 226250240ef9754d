package server

import (
	"fmt"
	"time"

	"github.com/aeolun/framechat/pkg/chat"
)

// deliverPending pushes every message still owed to the signed-in user, in
// send order. Each unread row is removed after its push is attempted, so a
// failed write is never retried. A failed push may have left a partial frame
// on the wire, so it ends the batch with an error and the connection with it.
func (s *Server) deliverPending(sess *Session) error {
	start := time.Now()
	user := sess.User

	pending, err := s.store.UnreadFor(user.ID)
	if err != nil {
		sess.log.WithError(err).Error("failed to poll unread messages")
		s.metrics.RecordPersistenceError("unread_for")
		return nil
	}
	if len(pending) == 0 {
		return nil
	}

	delivered := 0
	var pushErr error
	for _, msg := range pending {
		// Termination wins over finishing the batch
		if sess.ctx.Err() != nil {
			break
		}

		env := chat.EnvelopeOf(msg)
		push := chat.PushFor(msg)
		if err := sess.push(push); err != nil {
			sess.log.WithError(err).WithField("message_id", env.ID).Warn("push failed")
			pushErr = fmt.Errorf("push message %d: %w", env.ID, err)
		} else {
			delivered++
			s.metrics.RecordPushDelivered(pushKindLabel(push.Kind))
		}

		if err := s.store.MarkDelivered(env.ID, user.ID); err != nil {
			sess.log.WithError(err).WithField("message_id", env.ID).Error("failed to clear unread row")
			s.metrics.RecordPersistenceError("mark_delivered")
		}
		if pushErr != nil {
			break
		}
	}

	s.metrics.RecordDelivery(len(pending), time.Since(start).Seconds())
	sess.log.WithField("delivered", delivered).Debug("delivered pending messages")
	return pushErr
}
