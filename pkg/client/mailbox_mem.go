package client

import (
	"context"
	"sync"
)

// MemoryMailbox is a single-slot in-process mailbox
type MemoryMailbox struct {
	slot   chan string
	mu     sync.Mutex
	closed bool
}

func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{slot: make(chan string, 1)}
}

func (m *MemoryMailbox) Put(ctx context.Context, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMailboxClosed
	}
	select {
	case <-m.slot:
	default:
	}
	m.slot <- payload
	return nil
}

func (m *MemoryMailbox) TryTake() (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", false, ErrMailboxClosed
	}
	select {
	case payload := <-m.slot:
		return payload, true, nil
	default:
		return "", false, nil
	}
}

func (m *MemoryMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
