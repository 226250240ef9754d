package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/framechat/pkg/chatlog"
	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/gen2brain/beeep"
)

// notifyDesktop raises a desktop notification; replaced in tests
var notifyDesktop = func(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Poller owns the receive side of the connection while a user is signed in.
// Responses go to the mailbox, pushes are printed as they arrive.
type Poller struct {
	conn    net.Conn
	reader  *protocol.FrameReader
	mailbox Mailbox
	term    *Terminal
	chatLog *chatlog.Log
	notify  bool
	login   string

	// lost is called once the server kicks us or the connection drops
	lost func()

	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

type pollerConfig struct {
	conn    net.Conn
	reader  *protocol.FrameReader
	mailbox Mailbox
	term    *Terminal
	chatLog *chatlog.Log
	notify  bool
	login   string
	lost    func()
}

// startPoller takes over reader and starts reading
func startPoller(cfg pollerConfig) *Poller {
	p := &Poller{
		conn:    cfg.conn,
		reader:  cfg.reader,
		mailbox: cfg.mailbox,
		term:    cfg.term,
		chatLog: cfg.chatLog,
		notify:  cfg.notify,
		login:   cfg.login,
		lost:    cfg.lost,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Poller) run() {
	defer close(p.done)

	for !p.stopping.Load() {
		payload, err := p.reader.ReadFrame()
		if err != nil {
			if p.stopping.Load() {
				return
			}
			log.WithError(err).Debug("poller read failed")
			p.lost()
			return
		}

		in := protocol.Classify(payload)
		switch in.Kind {
		case protocol.InboundResponse:
			if in.Response.Status == protocol.StatusKick {
				log.Info("kicked by server")
				p.lost()
				return
			}
			if err := p.mailbox.Put(context.Background(), payload); err != nil {
				log.WithError(err).Warn("failed to store response")
			}

		case protocol.InboundPush:
			p.show(in.Push)

		default:
			log.WithField("payload", truncate(payload, 64)).Debug("ignoring malformed frame")
		}
	}
}

func (p *Poller) show(push protocol.Push) {
	private := push.Kind == protocol.PushPrivate
	text := push.Text
	if private {
		text = "@" + p.login + " " + push.Text
	}
	p.term.Message(push.Sender, text, private)

	if p.chatLog != nil {
		if err := p.chatLog.Write(push.Sender + ": " + text); err != nil {
			log.WithError(err).Warn("failed to append to chat log")
		}
	}

	if private && p.notify {
		if err := notifyDesktop("framechat", fmt.Sprintf("%s: %s", push.Sender, push.Text)); err != nil {
			log.WithError(err).Debug("desktop notification failed")
		}
	}
}

// Stop ends the poller and hands the receive side back. A blocked read is
// woken with an expired deadline; a partially read frame stays buffered in
// the returned reader.
func (p *Poller) Stop() *protocol.FrameReader {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		if err := p.conn.SetReadDeadline(time.Now()); err != nil && !errors.Is(err, net.ErrClosed) {
			log.WithError(err).Debug("failed to wake poller")
		}
		<-p.done
		p.conn.SetReadDeadline(time.Time{})
	})
	return p.reader
}

// Done is closed when the poller has stopped reading
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
