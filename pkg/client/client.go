package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/framechat/pkg/chat"
	"github.com/aeolun/framechat/pkg/chatlog"
	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "client")

const helpText = `Commands:
  /help          show this help
  /signup        register a new account
  /signin        sign in
  /logout        sign out
  /remove        delete your account
  /exit, /quit   leave
Once signed in, any other line is sent to everyone.
Start a line with @login to send it to one user.`

const lostMessage = "connection with server was lost"

var (
	errConnectionLost = errors.New("connection lost")
	errUnexpectedPush = errors.New("unexpected frame before signin")
)

// Client is the interactive side of a chat session. Before signin it talks
// to the server directly; afterwards the Poller owns every socket read and
// responses arrive through the mailbox.
type Client struct {
	opts Options

	conn    net.Conn
	display string
	writer  *protocol.FrameWriter
	reader  *protocol.FrameReader // nil while the poller owns it

	term    *Terminal
	input   *Input
	mailbox Mailbox
	chatLog *chatlog.Log
	tempDir string

	login  string
	poller *Poller

	ctx      context.Context
	cancel   context.CancelCauseFunc
	lostOnce sync.Once
}

// Dial connects to opts.ServerAddr and prepares a client on that connection
func Dial(ctx context.Context, opts Options, in io.Reader, out io.Writer) (*Client, error) {
	conn, display, err := Connect(ctx, opts.ServerAddr)
	if err != nil {
		return nil, err
	}

	c, err := New(conn, opts, in, out)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.display = display
	return c, nil
}

// New prepares a client on an established connection. It creates the
// per-process temp dir holding the mailbox.
func New(conn net.Conn, opts Options, in io.Reader, out io.Writer) (*Client, error) {
	if opts.FrameSize == 0 {
		opts.FrameSize = protocol.DefaultFrameSize
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	tempDir := filepath.Join(opts.TempDir, fmt.Sprintf("framechat-client-%d", os.Getpid()))
	if err := os.MkdirAll(tempDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	mailbox, err := NewMailbox(opts.Mailbox, tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	var chatLog *chatlog.Log
	if opts.ChatLogPath != "" {
		chatLog, err = chatlog.Open(opts.ChatLogPath)
		if err != nil {
			log.WithError(err).Warn("chat log disabled")
			chatLog = nil
		}
	}

	writer, reader := protocol.Split(conn, opts.FrameSize)
	return &Client{
		opts:    opts,
		conn:    conn,
		display: conn.RemoteAddr().String(),
		writer:  writer,
		reader:  reader,
		term:    NewTerminal(out, opts.Color),
		input:   NewInput(in),
		mailbox: mailbox,
		chatLog: chatLog,
		tempDir: tempDir,
	}, nil
}

// TempDir returns the per-process directory holding the mailbox
func (c *Client) TempDir() string {
	return c.tempDir
}

// Run reads operator commands until /exit, end of input, ctx cancellation
// or loss of the connection. Each of those is an orderly exit.
func (c *Client) Run(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancelCause(ctx)
	defer c.cancel(nil)
	defer c.close()

	c.term.Info("Connected to %s. Type /help for commands.", c.display)

	for {
		c.term.Prompt()
		line, err := c.input.ReadLine(c.ctx, false)
		if err != nil {
			if errors.Is(context.Cause(c.ctx), errConnectionLost) {
				return nil
			}
			if errors.Is(err, errInputClosed) || c.ctx.Err() != nil {
				c.term.Println("")
				return nil
			}
			return err
		}

		if c.handleLine(line) {
			return nil
		}
		if c.ctx.Err() != nil {
			return nil
		}
	}
}

// handleLine runs one operator line and reports whether the client should exit
func (c *Client) handleLine(line string) bool {
	command := strings.TrimSpace(line)
	switch command {
	case "/help":
		c.term.Println(helpText)
	case "/signup":
		c.signup()
	case "/signin":
		c.signin()
	case "/logout":
		c.logout()
	case "/remove":
		c.remove()
	case "/exit", "/quit":
		return true
	default:
		c.send(line)
	}
	return false
}

func (c *Client) signup() {
	if c.login != "" {
		c.term.Error("sign out first")
		return
	}

	login, ok := c.ask("Login: ", false)
	if !ok {
		return
	}
	if err := chat.ValidLogin(login); err != nil {
		c.term.Error("Invalid login: %v", err)
		return
	}

	resp, err := c.exchange(protocol.Request{Command: protocol.CommandCheckLogin, Login: login})
	if err != nil {
		c.exchangeFailed(err)
		return
	}
	if resp.Status != protocol.StatusAvailable {
		c.term.Error("Login '%s' is already taken", login)
		return
	}

	password, ok := c.ask("Password: ", true)
	if !ok {
		return
	}
	if password == "" || strings.ContainsAny(password, ":\n") {
		c.term.Error("Password can not be empty or contain ':'")
		return
	}

	name, ok := c.ask("Name: ", false)
	if !ok {
		return
	}
	if strings.TrimSpace(name) == "" || strings.ContainsRune(name, '\n') {
		c.term.Error("Name can not be empty")
		return
	}

	resp, err = c.exchange(protocol.Request{
		Command:  protocol.CommandSignup,
		Login:    login,
		Password: password,
		Name:     name,
	})
	if err != nil {
		c.exchangeFailed(err)
		return
	}
	if resp.Status != protocol.StatusSuccess {
		c.term.Error("Registration failed")
		return
	}
	c.term.Info("User '%s' has been registered, use /signin to sign in", login)
}

func (c *Client) signin() {
	if c.login != "" {
		c.term.Error("sign out first")
		return
	}

	login, ok := c.ask("Login: ", false)
	if !ok {
		return
	}
	password, ok := c.ask("Password: ", true)
	if !ok {
		return
	}
	if login == "" || password == "" {
		c.term.Error("Login and password can not be empty")
		return
	}

	resp, err := c.exchange(protocol.Request{Command: protocol.CommandSignin, Login: login, Password: password})
	if err != nil {
		c.exchangeFailed(err)
		return
	}

	switch resp.Status {
	case protocol.StatusSuccess:
		c.login = login
		c.term.SetPrompt(login + "> ")
		c.term.Info("Welcome, %s!", resp.Name)
		c.startPoller()
	case protocol.StatusLoggedIn:
		c.term.Error("User '%s' is already logged in", login)
	default:
		c.term.Error("Invalid login or password")
	}
}

func (c *Client) logout() {
	if c.login == "" {
		c.term.Error("You are not logged in")
		return
	}

	if err := c.writer.WriteRequest(protocol.Request{Command: protocol.CommandLogout}); err != nil {
		log.WithError(err).Warn("failed to send logout")
		c.connectionLost()
		return
	}
	c.signedOut()
	c.term.Info("You have been logged out")
}

func (c *Client) remove() {
	if c.login == "" {
		c.term.Error("You are not logged in")
		return
	}

	// Drop a reply nobody waited for so it is not taken as ours
	if stale, ok, _ := c.mailbox.TryTake(); ok {
		log.WithField("payload", stale).Debug("discarding stale response")
	}

	if err := c.writer.WriteRequest(protocol.Request{Command: protocol.CommandRemove}); err != nil {
		log.WithError(err).Warn("failed to send remove")
		c.connectionLost()
		return
	}

	payload, err := AwaitResponse(c.ctx, c.mailbox, c.opts.RetryInterval)
	if err != nil {
		if c.ctx.Err() == nil {
			log.WithError(err).Warn("failed to read remove response")
		}
		return
	}

	resp, err := protocol.ParseResponse(payload)
	if err != nil || resp.Status != protocol.StatusSuccess {
		c.term.Error("Can not remove account")
		return
	}

	login := c.login
	c.signedOut()
	c.term.Info("User '%s' has been removed", login)
}

func (c *Client) send(line string) {
	if c.login == "" {
		if strings.TrimSpace(line) != "" {
			c.term.Error("Unknown command, type /help for usage")
		}
		return
	}
	if strings.TrimSpace(line) == "" {
		c.term.Error("Can not send an empty message")
		return
	}

	req, err := protocol.ParseRequest(line)
	if err != nil || req.Command != protocol.CommandSend {
		c.term.Error("Can not send this message")
		return
	}
	if req.Receiver != "" {
		if err := chat.ValidLogin(req.Receiver); err != nil {
			c.term.Error("Invalid receiver: %v", err)
			return
		}
	}

	if err := c.writer.WriteRequest(req); err != nil {
		if errors.Is(err, protocol.ErrPayloadTooLarge) {
			c.term.Error("Message is too long")
			return
		}
		log.WithError(err).Warn("failed to send message")
		c.connectionLost()
	}
}

// ask prompts for one line of input. It reports false when input ended or
// the client is shutting down.
func (c *Client) ask(question string, secret bool) (string, bool) {
	c.term.Ask(question)
	line, err := c.input.ReadLine(c.ctx, secret)
	if secret {
		c.term.Println("")
	}
	if err != nil {
		if errors.Is(err, errInputClosed) {
			c.cancel(err)
		}
		return "", false
	}
	return strings.TrimSpace(line), true
}

// exchange writes req and reads the reply directly from the socket. Only
// valid while no poller is running.
func (c *Client) exchange(req protocol.Request) (protocol.Response, error) {
	if err := c.writer.WriteRequest(req); err != nil {
		return protocol.Response{}, err
	}

	stop := context.AfterFunc(c.ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		payload, err := c.reader.ReadFrame()
		if err != nil {
			return protocol.Response{}, err
		}

		in := protocol.Classify(payload)
		switch in.Kind {
		case protocol.InboundResponse:
			if in.Response.Status == protocol.StatusKick {
				return protocol.Response{}, errConnectionLost
			}
			return in.Response, nil
		case protocol.InboundPush:
			log.WithError(errUnexpectedPush).WithField("sender", in.Push.Sender).Debug("dropping push")
		default:
			log.WithField("payload", truncate(payload, 64)).Debug("ignoring malformed frame")
		}
	}
}

func (c *Client) exchangeFailed(err error) {
	if c.ctx.Err() != nil {
		return
	}
	log.WithError(err).Debug("exchange failed")
	c.connectionLost()
}

func (c *Client) startPoller() {
	c.poller = startPoller(pollerConfig{
		conn:    c.conn,
		reader:  c.reader,
		mailbox: c.mailbox,
		term:    c.term,
		chatLog: c.chatLog,
		notify:  c.opts.Notify,
		login:   c.login,
		lost:    c.connectionLost,
	})
	c.reader = nil
}

// signedOut takes the receive side back from the poller
func (c *Client) signedOut() {
	if c.poller != nil {
		c.reader = c.poller.Stop()
		c.poller = nil
	}
	c.login = ""
	c.term.SetPrompt("> ")
}

// connectionLost reports the loss once and ends Run
func (c *Client) connectionLost() {
	c.lostOnce.Do(func() {
		c.term.Notice(lostMessage)
		c.cancel(errConnectionLost)
	})
}

// close tells the server we are leaving and releases local state
func (c *Client) close() {
	lost := errors.Is(context.Cause(c.ctx), errConnectionLost)

	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
	if !lost {
		if err := c.writer.WriteRequest(protocol.Request{Command: protocol.CommandExit}); err != nil {
			log.WithError(err).Debug("failed to send exit")
		}
	}
	c.conn.Close()

	if err := c.mailbox.Close(); err != nil {
		log.WithError(err).Warn("failed to close mailbox")
	}
	if err := os.RemoveAll(c.tempDir); err != nil {
		log.WithError(err).Warn("failed to remove temp dir")
	}
	if c.chatLog != nil {
		c.chatLog.Close()
	}
}
