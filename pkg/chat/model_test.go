package chat

import (
	"testing"

	"github.com/aeolun/framechat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestValidLogin(t *testing.T) {
	assert.NoError(t, ValidLogin("alice"))
	assert.NoError(t, ValidLogin("Bob_the-2nd"))
	assert.ErrorIs(t, ValidLogin(""), ErrEmptyLogin)
	assert.ErrorIs(t, ValidLogin("al ice"), ErrInvalidLogin)
	assert.ErrorIs(t, ValidLogin("alice:x"), ErrInvalidLogin)
	assert.ErrorIs(t, ValidLogin("@bob"), ErrInvalidLogin)
}

func TestBroadcastDelivery(t *testing.T) {
	users := []User{{Login: "alice"}, {Login: "bob"}, {Login: "carol"}}
	msg := NewBroadcast("alice", "hi all", users)

	assert.False(t, IsRead(msg))
	assert.Equal(t, []string{"alice", "bob", "carol"}, Recipients(msg))

	assert.True(t, MarkDelivered(msg, "bob"))
	assert.False(t, MarkDelivered(msg, "bob"), "second delivery is a no-op")
	assert.False(t, MarkDelivered(msg, "mallory"))
	assert.False(t, IsRead(msg))

	MarkDelivered(msg, "alice")
	MarkDelivered(msg, "carol")
	assert.True(t, IsRead(msg))
	assert.Empty(t, Recipients(msg))
}

func TestPrivateDelivery(t *testing.T) {
	msg := NewPrivate("alice", "bob", "psst")

	assert.False(t, IsRead(msg))
	assert.Equal(t, []string{"bob"}, Recipients(msg))
	assert.False(t, MarkDelivered(msg, "carol"))

	assert.True(t, MarkDelivered(msg, "bob"))
	assert.True(t, IsRead(msg))
	assert.Nil(t, Recipients(msg))
}

func TestPushFor(t *testing.T) {
	assert.Equal(t,
		protocol.Push{Kind: protocol.PushBroadcast, Sender: "alice", Text: "hi"},
		PushFor(NewBroadcast("alice", "hi", nil)))
	assert.Equal(t,
		protocol.Push{Kind: protocol.PushPrivate, Sender: "alice", Text: "psst"},
		PushFor(NewPrivate("alice", "bob", "psst")))
}

func TestLogLine(t *testing.T) {
	assert.Equal(t, "alice: hi", LogLine(NewBroadcast("alice", "hi", nil)))
	assert.Equal(t, "alice: @bob psst", LogLine(NewPrivate("alice", "bob", "psst")))
}

func TestEnvelopeOf(t *testing.T) {
	msg := NewPrivate("alice", "bob", "psst")
	EnvelopeOf(msg).ID = 42
	assert.Equal(t, uint64(42), msg.ID)
}

// TestBroadcastReadAfterEveryRecipient checks a broadcast is read exactly
// when every recipient has been delivered once
func TestBroadcastReadAfterEveryRecipient(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		logins := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z]{1,8}`), func(s string) string { return s }).Draw(t, "logins")
		users := make([]User, len(logins))
		for i, l := range logins {
			users[i] = User{Login: l}
		}
		msg := NewBroadcast("sender", "text", users)

		order := rapid.Permutation(logins).Draw(t, "order")
		for i, login := range order {
			if IsRead(msg) {
				t.Fatalf("read after %d of %d deliveries", i, len(order))
			}
			if !MarkDelivered(msg, login) {
				t.Fatalf("delivery to %q not recorded", login)
			}
		}
		if !IsRead(msg) {
			t.Fatalf("not read after all deliveries")
		}
	})
}
