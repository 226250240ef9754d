package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Request
		wantErr error
	}{
		{
			name:    "checklogin",
			payload: "/checklogin:alice",
			want:    Request{Command: CommandCheckLogin, Login: "alice"},
		},
		{
			name:    "checklogin without login",
			payload: "/checklogin",
			want:    Request{Command: CommandCheckLogin},
		},
		{
			name:    "signup",
			payload: "/signup:alice:pw123:Alice Example",
			want:    Request{Command: CommandSignup, Login: "alice", Password: "pw123", Name: "Alice Example"},
		},
		{
			name:    "signup name keeps colons",
			payload: "/signup:alice:pw:Dr: Who",
			want:    Request{Command: CommandSignup, Login: "alice", Password: "pw", Name: "Dr: Who"},
		},
		{
			name:    "signup missing fields",
			payload: "/signup:alice",
			want:    Request{Command: CommandSignup, Login: "alice"},
		},
		{
			name:    "signin",
			payload: "/signin:alice:pw123",
			want:    Request{Command: CommandSignin, Login: "alice", Password: "pw123"},
		},
		{
			name:    "signin password keeps colons",
			payload: "/signin:alice:a:b",
			want:    Request{Command: CommandSignin, Login: "alice", Password: "a:b"},
		},
		{name: "logout", payload: "/logout", want: Request{Command: CommandLogout}},
		{name: "remove", payload: "/remove", want: Request{Command: CommandRemove}},
		{name: "exit", payload: "/exit", want: Request{Command: CommandExit}},
		{name: "quit", payload: "/quit", want: Request{Command: CommandExit}},
		{
			name:    "broadcast",
			payload: "hello everyone",
			want:    Request{Command: CommandSend, Text: "hello everyone"},
		},
		{
			name:    "command word must match exactly",
			payload: "/logoutnow",
			want:    Request{Command: CommandSend, Text: "/logoutnow"},
		},
		{
			name:    "private",
			payload: "@bob hello there",
			want:    Request{Command: CommandSend, Receiver: "bob", Text: "hello there"},
		},
		{
			name:    "private with empty text",
			payload: "@bob ",
			want:    Request{Command: CommandSend, Receiver: "bob", Text: ""},
		},
		{name: "private without space", payload: "@bob", wantErr: ErrMalformedPrivate},
		{name: "private without receiver", payload: "@ hi", wantErr: ErrMalformedPrivate},
		{name: "multiline text", payload: "one\ntwo", wantErr: ErrMultilineText},
		{name: "empty", payload: "", wantErr: ErrEmptyRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.payload)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestEncode(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{Request{Command: CommandCheckLogin, Login: "bob"}, "/checklogin:bob"},
		{Request{Command: CommandSignup, Login: "bob", Password: "pw", Name: "Bob"}, "/signup:bob:pw:Bob"},
		{Request{Command: CommandSignin, Login: "bob", Password: "pw"}, "/signin:bob:pw"},
		{Request{Command: CommandLogout}, "/logout"},
		{Request{Command: CommandRemove}, "/remove"},
		{Request{Command: CommandExit}, "/exit"},
		{Request{Command: CommandSend, Text: "hi"}, "hi"},
		{Request{Command: CommandSend, Receiver: "alice", Text: "hi"}, "@alice hi"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Encode())
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "signin", CommandSignin.String())
	assert.Equal(t, "send", CommandSend.String())
	assert.Equal(t, "unknown", Command(99).String())
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Response
		wantErr error
	}{
		{name: "success", payload: "/response:success", want: Simple(StatusSuccess)},
		{name: "fail", payload: "/response:fail", want: Simple(StatusFail)},
		{name: "busy", payload: "/response:busy", want: Simple(StatusBusy)},
		{name: "available", payload: "/response:available", want: Simple(StatusAvailable)},
		{name: "loggedin", payload: "/response:loggedin", want: Simple(StatusLoggedIn)},
		{name: "kick", payload: "/response:kick", want: Simple(StatusKick)},
		{
			name:    "signin success",
			payload: "/response:success:Alice Example:0",
			want:    SigninSuccess("Alice Example", 0),
		},
		{
			name:    "signin success name with colon",
			payload: "/response:success:Dr: Who:17",
			want:    SigninSuccess("Dr: Who", 17),
		},
		{name: "bad user id", payload: "/response:success:Alice:x", wantErr: ErrInvalidUserID},
		{name: "unknown status", payload: "/response:maybe", wantErr: ErrUnknownStatus},
		{name: "no tag", payload: "success", wantErr: ErrNotResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.payload)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponseEncode(t *testing.T) {
	assert.Equal(t, "/response:kick", Simple(StatusKick).Encode())
	assert.Equal(t, "/response:success:Alice Example:0", SigninSuccess("Alice Example", 0).Encode())
}

func TestParsePush(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Push
		wantErr bool
	}{
		{
			name:    "broadcast",
			payload: "BROADCAST\nalice\nhello\n",
			want:    Push{Kind: PushBroadcast, Sender: "alice", Text: "hello"},
		},
		{
			name:    "private without trailing newline",
			payload: "PRIVATE\nbob\nhi",
			want:    Push{Kind: PushPrivate, Sender: "bob", Text: "hi"},
		},
		{
			name:    "empty text",
			payload: "BROADCAST\nalice\n\n",
			want:    Push{Kind: PushBroadcast, Sender: "alice"},
		},
		{name: "two tokens", payload: "BROADCAST\nalice\n", wantErr: true},
		{name: "four tokens", payload: "BROADCAST\nalice\nhi\nthere\n", wantErr: true},
		{name: "unknown kind", payload: "SHOUT\nalice\nhi\n", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePush(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedPush)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		payload string
		want    InboundKind
	}{
		{"/response:success", InboundResponse},
		{"/response:success:Alice:3", InboundResponse},
		{"/response:kick", InboundResponse},
		{"/response:bogus", InboundMalformed},
		{"BROADCAST\nalice\nhello\n", InboundPush},
		{"PRIVATE\nbob\nhi\n", InboundPush},
		{"hello", InboundMalformed},
		{"a\nb\n", InboundMalformed},
		{"", InboundMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.want.String()+"/"+tt.payload, func(t *testing.T) {
			in := Classify(tt.payload)
			assert.Equal(t, tt.want, in.Kind)
			assert.Equal(t, tt.payload, in.Raw)
		})
	}
}
