package protocol

import (
	"errors"
	"strings"
)

// Command identifies a client request
type Command int

const (
	// CommandSend is any frame that is not a slash command: a chat message
	CommandSend Command = iota
	CommandCheckLogin
	CommandSignup
	CommandSignin
	CommandLogout
	CommandRemove
	CommandExit
)

var (
	ErrEmptyRequest     = errors.New("empty request")
	ErrMalformedPrivate = errors.New("private message without text")
	ErrMultilineText    = errors.New("message text contains a newline")
)

var commandNames = map[Command]string{
	CommandSend:       "send",
	CommandCheckLogin: "checklogin",
	CommandSignup:     "signup",
	CommandSignin:     "signin",
	CommandLogout:     "logout",
	CommandRemove:     "remove",
	CommandExit:       "exit",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "unknown"
}

// commandWords maps the leading word of a frame to its command
var commandWords = map[string]Command{
	"/checklogin": CommandCheckLogin,
	"/signup":     CommandSignup,
	"/signin":     CommandSignin,
	"/logout":     CommandLogout,
	"/remove":     CommandRemove,
	"/exit":       CommandExit,
	"/quit":       CommandExit,
}

// Request is the decoded form of a client frame
type Request struct {
	Command  Command
	Login    string
	Password string
	Name     string

	// Receiver is set for private sends; empty means broadcast
	Receiver string
	Text     string
}

// ParseRequest decodes a client frame payload.
//
// Grammar:
//
//	/checklogin:<login>
//	/signup:<login>:<password>:<name>
//	/signin:<login>:<password>
//	/logout | /remove | /exit | /quit
//	@<login> <text>          private send
//	<text>                   broadcast send
//
// Missing command fields decode as empty strings; deciding whether that is
// acceptable is left to the handler.
func ParseRequest(payload string) (Request, error) {
	if payload == "" {
		return Request{}, ErrEmptyRequest
	}

	if cmd, ok := commandWords[commandWord(payload)]; ok {
		req := Request{Command: cmd}
		switch cmd {
		case CommandCheckLogin:
			fields := strings.SplitN(payload, ":", 2)
			req.Login = field(fields, 1)
		case CommandSignup:
			fields := strings.SplitN(payload, ":", 4)
			req.Login = field(fields, 1)
			req.Password = field(fields, 2)
			req.Name = field(fields, 3)
		case CommandSignin:
			fields := strings.SplitN(payload, ":", 3)
			req.Login = field(fields, 1)
			req.Password = field(fields, 2)
		}
		return req, nil
	}

	if strings.ContainsRune(payload, '\n') {
		return Request{}, ErrMultilineText
	}

	if strings.HasPrefix(payload, "@") {
		receiver, text, found := strings.Cut(payload[1:], " ")
		if !found || receiver == "" {
			return Request{}, ErrMalformedPrivate
		}
		return Request{Command: CommandSend, Receiver: receiver, Text: text}, nil
	}

	return Request{Command: CommandSend, Text: payload}, nil
}

// Encode returns the wire payload for the request
func (r Request) Encode() string {
	switch r.Command {
	case CommandCheckLogin:
		return "/checklogin:" + r.Login
	case CommandSignup:
		return "/signup:" + r.Login + ":" + r.Password + ":" + r.Name
	case CommandSignin:
		return "/signin:" + r.Login + ":" + r.Password
	case CommandLogout:
		return "/logout"
	case CommandRemove:
		return "/remove"
	case CommandExit:
		return "/exit"
	}
	if r.Receiver != "" {
		return "@" + r.Receiver + " " + r.Text
	}
	return r.Text
}

// commandWord returns the part of the payload before the first ':' or ' '
func commandWord(payload string) string {
	if i := strings.IndexAny(payload, ": "); i >= 0 {
		return payload[:i]
	}
	return payload
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
