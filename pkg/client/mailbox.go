package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mailbox kinds accepted by the local.mailbox config key
const (
	MailboxFile   = "file"
	MailboxMemory = "memory"
)

// ErrMailboxClosed is returned by operations on a closed mailbox
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox hands command responses from the Poller to the interactive loop.
// It holds at most one payload; a newer Put replaces an unconsumed one.
type Mailbox interface {
	// Put stores a response payload
	Put(ctx context.Context, payload string) error
	// TryTake removes and returns the stored payload, if any. It never
	// waits for a writer.
	TryTake() (string, bool, error)
	// Close releases the mailbox
	Close() error
}

// NewMailbox creates the mailbox named by kind. File mailboxes live in dir.
func NewMailbox(kind, dir string) (Mailbox, error) {
	switch kind {
	case MailboxFile, "":
		return NewFileMailbox(dir)
	case MailboxMemory:
		return NewMemoryMailbox(), nil
	default:
		return nil, fmt.Errorf("unknown mailbox kind %q", kind)
	}
}

// AwaitResponse polls mb every interval until a payload appears or ctx ends
func AwaitResponse(ctx context.Context, mb Mailbox, interval time.Duration) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		payload, ok, err := mb.TryTake()
		if err != nil {
			return "", err
		}
		if ok {
			return payload, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
