// ABOUTME: Filesystem mailbox guarded by an O_EXCL lock marker
// ABOUTME: The marker records pid, owner token and time so a dead owner's lock can be reclaimed
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	lockFileName    = "response.lock"
	payloadFileName = "response.tmp"

	lockBackoff = 10 * time.Millisecond

	// A holder keeps the marker only across one small file write or read.
	// Markers that cannot be attributed to another live process are
	// reclaimed once they are older than this.
	lockStaleAfter = 2 * time.Second
)

// FileMailbox stores the pending response in <dir>/response.tmp. Writers and
// readers hold <dir>/response.lock only while touching the payload.
type FileMailbox struct {
	dir     string
	lock    string
	payload string
	pid     int
}

// NewFileMailbox creates dir if needed and returns a mailbox in it
func NewFileMailbox(dir string) (*FileMailbox, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create mailbox directory: %w", err)
	}
	return &FileMailbox{
		dir:     dir,
		lock:    filepath.Join(dir, lockFileName),
		payload: filepath.Join(dir, payloadFileName),
		pid:     os.Getpid(),
	}, nil
}

// Put waits for the lock, writes the payload and releases the lock
func (m *FileMailbox) Put(ctx context.Context, payload string) error {
	token, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer m.release(token)

	if err := os.WriteFile(m.payload, []byte(payload), 0600); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// TryTake consumes the payload if one exists and no write is in flight
func (m *FileMailbox) TryTake() (string, bool, error) {
	if _, err := os.Stat(m.lock); err == nil && !m.reclaimStale() {
		return "", false, nil
	}
	if _, err := os.Stat(m.payload); errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}

	token, ok, err := m.tryAcquire()
	if err != nil || !ok {
		return "", false, err
	}
	defer m.release(token)

	data, err := os.ReadFile(m.payload)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read response: %w", err)
	}
	if err := os.Remove(m.payload); err != nil {
		return "", false, fmt.Errorf("failed to consume response: %w", err)
	}
	return string(data), true, nil
}

// Close removes the mailbox files. The directory itself belongs to the caller.
func (m *FileMailbox) Close() error {
	err := os.Remove(m.payload)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return err
}

// acquire busy-waits with a fixed backoff until the lock is ours
func (m *FileMailbox) acquire(ctx context.Context) (string, error) {
	for {
		token, ok, err := m.tryAcquire()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
}

// tryAcquire makes one attempt at the lock, reclaiming it first when its
// owner process is gone
func (m *FileMailbox) tryAcquire() (string, bool, error) {
	token := uuid.NewString()
	content := fmt.Sprintf("%d\n%s\n%s\n", m.pid, token, time.Now().Format(time.RFC3339Nano))

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(m.lock, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
		if err == nil {
			_, werr := f.WriteString(content)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(m.lock)
				return "", false, fmt.Errorf("failed to write lock marker: %w", errors.Join(werr, cerr))
			}
			return token, true, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", false, fmt.Errorf("failed to create lock marker: %w", err)
		}

		if attempt > 0 || !m.reclaimStale() {
			return "", false, nil
		}
	}
	return "", false, nil
}

// release removes the lock marker only if it still carries token
func (m *FileMailbox) release(token string) {
	owner, err := readLockMarker(m.lock)
	if err != nil {
		log.WithError(err).Warn("mailbox lock vanished before release")
		return
	}
	if owner.token != token {
		log.WithField("owner_pid", owner.pid).Warn("mailbox lock taken over, leaving it in place")
		return
	}
	if err := os.Remove(m.lock); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to remove mailbox lock")
	}
}

// reclaimStale removes a marker that no live holder can still own: one whose
// owner process is gone, or one that is unreadable or carries our own pid and
// has outlived lockStaleAfter. The latter cover a crash between creating and
// filling the marker, and a dead client whose pid was recycled for us.
func (m *FileMailbox) reclaimStale() bool {
	owner, err := readLockMarker(m.lock)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return true
	case err != nil || owner.pid == m.pid:
		if !m.markerOlderThan(lockStaleAfter) {
			return false
		}
	default:
		if running, _ := isProcessRunning(owner.pid); running {
			return false
		}
	}

	log.WithFields(logrus.Fields{"owner_pid": owner.pid, "since": owner.created}).Warn("reclaiming stale mailbox lock")
	if err := os.Remove(m.lock); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false
	}
	return true
}

func (m *FileMailbox) markerOlderThan(age time.Duration) bool {
	info, err := os.Stat(m.lock)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > age
}

type lockMarker struct {
	pid     int
	token   string
	created string
}

var errBadLockMarker = errors.New("malformed lock marker")

func readLockMarker(path string) (lockMarker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockMarker{}, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return lockMarker{}, errBadLockMarker
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return lockMarker{}, errBadLockMarker
	}

	marker := lockMarker{pid: pid, token: strings.TrimSpace(lines[1])}
	if len(lines) > 2 {
		marker.created = lines[2]
	}
	return marker, nil
}
