package server

import (
	"errors"
	"strings"

	"github.com/aeolun/framechat/pkg/auth"
	"github.com/aeolun/framechat/pkg/chat"
	"github.com/aeolun/framechat/pkg/database"
	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// handleFrame dispatches one request frame. It reports whether the client
// asked to end the connection.
func (s *Server) handleFrame(sess *Session, payload string) bool {
	req, err := protocol.ParseRequest(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyRequest) {
			sess.log.Debug("ignoring empty frame")
			return false
		}
		s.metrics.RecordMalformedFrame()
		sess.log.WithError(err).Warnf("discarding malformed frame %q", truncate(payload, 64))
		return false
	}
	s.metrics.RecordFrameReceived(req.Command.String())

	switch req.Command {
	case protocol.CommandCheckLogin:
		s.handleCheckLogin(sess, req)
	case protocol.CommandSignup:
		s.handleSignup(sess, req)
	case protocol.CommandSignin:
		s.handleSignin(sess, req)
	case protocol.CommandLogout:
		s.handleLogout(sess)
	case protocol.CommandRemove:
		s.handleRemove(sess)
	case protocol.CommandSend:
		s.handleSend(sess, req)
	case protocol.CommandExit:
		return true
	}
	return false
}

// handleCheckLogin answers available when no user holds the login
func (s *Server) handleCheckLogin(sess *Session, req protocol.Request) {
	if req.Login == "" {
		sess.respond(protocol.Simple(protocol.StatusBusy))
		return
	}

	exists, err := s.store.LoginExists(req.Login)
	if err != nil {
		sess.log.WithError(err).Error("login lookup failed")
		s.metrics.RecordPersistenceError("login_exists")
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	if exists {
		sess.respond(protocol.Simple(protocol.StatusBusy))
		return
	}
	sess.respond(protocol.Simple(protocol.StatusAvailable))
}

// handleSignup registers a new user
func (s *Server) handleSignup(sess *Session, req protocol.Request) {
	if req.Login == "" || req.Password == "" || req.Name == "" {
		sess.log.Warn("signup rejected: empty field")
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}
	if err := chat.ValidLogin(req.Login); err != nil {
		sess.log.WithError(err).Warnf("signup rejected for %q", req.Login)
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}
	if err := auth.ValidatePasswordFormat(req.Password); err != nil {
		sess.log.WithError(err).Warnf("signup rejected for %q", req.Login)
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	digest := auth.HashPassword(req.Password, req.Login)
	id, err := s.store.CreateUser(req.Login, digest, req.Name)
	if err != nil {
		if errors.Is(err, database.ErrLoginTaken) {
			sess.log.Warnf("signup rejected: login %q taken", req.Login)
		} else {
			sess.log.WithError(err).Error("failed to create user")
			s.metrics.RecordPersistenceError("create_user")
		}
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	sess.log.WithField("user_id", id).Infof("User '%s' has been registered", req.Login)
	sess.respond(protocol.Simple(protocol.StatusSuccess))
}

// handleSignin authenticates the session. The user row and the registry are
// re-read from the store on every attempt.
func (s *Server) handleSignin(sess *Session, req protocol.Request) {
	if sess.Authenticated() {
		sess.log.Warn("signin while already authenticated")
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	user, err := s.store.GetUser(req.Login)
	if err != nil {
		if !errors.Is(err, database.ErrUserNotFound) {
			sess.log.WithError(err).Error("failed to load user")
			s.metrics.RecordPersistenceError("get_user")
		}
		s.signinFailed(sess, req.Login)
		return
	}

	if !auth.VerifyPassword(req.Password, user.Login, user.PasswordHash) {
		s.signinFailed(sess, req.Login)
		return
	}

	// Only a caller holding the password learns that the user is online
	if _, err := s.store.GetActiveSession(user.ID); err == nil {
		sess.log.Infof("signin refused: %s is already logged in", user.Login)
		sess.respond(protocol.Simple(protocol.StatusLoggedIn))
		return
	} else if !errors.Is(err, database.ErrNoSession) {
		sess.log.WithError(err).Error("failed to read session registry")
		s.metrics.RecordPersistenceError("get_active_session")
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	if err := s.store.StartSession(user.ID, sess.RemoteIP, sess.RemotePort, sess.PID); err != nil {
		sess.log.WithError(err).Error("failed to record session")
		s.metrics.RecordPersistenceError("start_session")
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	sess.signIn(user)
	sess.log.Info("user signed in")
	sess.respond(protocol.SigninSuccess(user.Name, user.ID))
}

func (s *Server) signinFailed(sess *Session, login string) {
	sess.log.Warnf("Failed signin for %q from %s:%d", login, sess.RemoteIP, sess.RemotePort)
	sess.respond(protocol.Simple(protocol.StatusFail))
}

// handleLogout drops the registry row and returns to the unauthenticated
// state. No response is sent.
func (s *Server) handleLogout(sess *Session) {
	if !sess.Authenticated() {
		sess.log.Debug("logout while not authenticated")
		return
	}

	if err := s.store.EndSession(sess.User.ID); err != nil {
		sess.log.WithError(err).Error("failed to clear session on logout")
		s.metrics.RecordPersistenceError("end_session")
	}
	sess.log.Info("user signed out")
	sess.signOut()
}

// handleRemove deletes the signed-in account
func (s *Server) handleRemove(sess *Session) {
	if !sess.Authenticated() {
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	user := sess.User
	if _, err := s.store.GetActiveSession(user.ID); err != nil {
		if !errors.Is(err, database.ErrNoSession) {
			sess.log.WithError(err).Error("failed to read session registry")
			s.metrics.RecordPersistenceError("get_active_session")
		}
		sess.respond(protocol.Simple(protocol.StatusFail))
		return
	}

	sess.respond(protocol.Simple(protocol.StatusSuccess))

	if err := s.store.EndSession(user.ID); err != nil {
		sess.log.WithError(err).Error("failed to clear session on remove")
		s.metrics.RecordPersistenceError("end_session")
	}
	if err := s.store.DeleteUser(user.Login); err != nil {
		sess.log.WithError(err).Error("failed to delete user")
		s.metrics.RecordPersistenceError("delete_user")
	}
	sess.log.Infof("User '%s' has been removed", user.Login)
	sess.signOut()
}

// handleSend stores a chat message for later delivery. Nothing is sent
// back to the sender.
func (s *Server) handleSend(sess *Session, req protocol.Request) {
	if !sess.Authenticated() {
		sess.log.Debug("send while not authenticated")
		return
	}
	if !sess.limiter.Allow() {
		sess.log.Warn("send dropped: rate limit exceeded")
		return
	}

	if err := s.store.TouchSession(sess.User.ID); err != nil {
		sess.log.WithError(err).Warn("failed to refresh last activity")
		s.metrics.RecordPersistenceError("touch_session")
	}

	var msg chat.Message
	if req.Receiver != "" {
		msg = chat.NewPrivate(sess.User.Login, req.Receiver, req.Text)
	} else {
		users, err := s.store.ListUsers()
		if err != nil {
			sess.log.WithError(err).Error("failed to list broadcast recipients")
			s.metrics.RecordPersistenceError("list_users")
			return
		}
		msg = chat.NewBroadcast(sess.User.Login, req.Text, users)
	}

	id, err := s.store.SaveMessage(msg)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			sess.log.Errorf("private message to unknown user %q dropped", req.Receiver)
			return
		}
		sess.log.WithError(err).Error("failed to store message")
		s.metrics.RecordPersistenceError("save_message")
		return
	}

	kind := pushKindLabel(chat.PushFor(msg).Kind)
	s.metrics.RecordMessageStored(kind)
	sess.log.WithFields(logrus.Fields{"message_id": id, "kind": kind}).Debug("message stored")

	if s.chatLog != nil {
		if err := s.chatLog.Write(chat.LogLine(msg)); err != nil {
			sess.log.WithError(err).Warn("failed to append chat log")
		}
	}
}

func pushKindLabel(kind protocol.PushKind) string {
	return strings.ToLower(string(kind))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
