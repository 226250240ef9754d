package protocol

import (
	"errors"
	"strings"
)

// PushKind distinguishes broadcast from private pushes
type PushKind string

const (
	PushBroadcast PushKind = "BROADCAST"
	PushPrivate   PushKind = "PRIVATE"
)

var ErrMalformedPush = errors.New("malformed push")

// Push is an unsolicited server frame carrying one chat message
type Push struct {
	Kind   PushKind
	Sender string
	Text   string
}

// Encode returns the wire payload: <KIND>\n<sender>\n<text>\n
func (p Push) Encode() string {
	return string(p.Kind) + "\n" + p.Sender + "\n" + p.Text + "\n"
}

// ParsePush decodes a push payload. The payload must split on newlines into
// exactly three tokens (a single trailing newline is ignored) and the first
// token must be a known kind.
func ParsePush(payload string) (Push, error) {
	tokens := strings.Split(payload, "\n")
	if n := len(tokens); n > 0 && tokens[n-1] == "" {
		tokens = tokens[:n-1]
	}
	if len(tokens) != 3 {
		return Push{}, ErrMalformedPush
	}

	kind := PushKind(tokens[0])
	if kind != PushBroadcast && kind != PushPrivate {
		return Push{}, ErrMalformedPush
	}
	return Push{Kind: kind, Sender: tokens[1], Text: tokens[2]}, nil
}

// InboundKind classifies a frame received by a client
type InboundKind int

const (
	InboundMalformed InboundKind = iota
	InboundResponse
	InboundPush
)

func (k InboundKind) String() string {
	switch k {
	case InboundResponse:
		return "response"
	case InboundPush:
		return "push"
	default:
		return "malformed"
	}
}

// Inbound is a classified client-side frame
type Inbound struct {
	Kind     InboundKind
	Response Response
	Push     Push
	Raw      string
}

// Classify applies the disambiguation rule without any session context:
// the response tag means response, a well-formed three line payload means
// push, anything else is malformed.
func Classify(payload string) Inbound {
	in := Inbound{Raw: payload}
	if IsResponse(payload) {
		resp, err := ParseResponse(payload)
		if err != nil {
			return in
		}
		in.Kind = InboundResponse
		in.Response = resp
		return in
	}

	push, err := ParsePush(payload)
	if err != nil {
		return in
	}
	in.Kind = InboundPush
	in.Push = push
	return in
}
