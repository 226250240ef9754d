package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newMailboxes(t *testing.T) map[string]Mailbox {
	t.Helper()
	file, err := NewMailbox(MailboxFile, t.TempDir())
	require.NoError(t, err)
	mem, err := NewMailbox(MailboxMemory, "")
	require.NoError(t, err)
	return map[string]Mailbox{MailboxFile: file, MailboxMemory: mem}
}

func TestMailboxPutTake(t *testing.T) {
	for kind, mb := range newMailboxes(t) {
		t.Run(kind, func(t *testing.T) {
			_, ok, err := mb.TryTake()
			require.NoError(t, err)
			assert.False(t, ok, "empty mailbox")

			require.NoError(t, mb.Put(context.Background(), "/response:success"))

			payload, ok, err := mb.TryTake()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "/response:success", payload)

			_, ok, err = mb.TryTake()
			require.NoError(t, err)
			assert.False(t, ok, "payload is consumed once")
		})
	}
}

func TestMailboxPutReplacesUnconsumed(t *testing.T) {
	for kind, mb := range newMailboxes(t) {
		t.Run(kind, func(t *testing.T) {
			require.NoError(t, mb.Put(context.Background(), "/response:fail"))
			require.NoError(t, mb.Put(context.Background(), "/response:success"))

			payload, ok, err := mb.TryTake()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "/response:success", payload)
		})
	}
}

func TestNewMailboxUnknownKind(t *testing.T) {
	_, err := NewMailbox("carrier-pigeon", t.TempDir())
	assert.Error(t, err)
}

func TestMemoryMailboxClosed(t *testing.T) {
	mb := NewMemoryMailbox()
	require.NoError(t, mb.Close())

	assert.ErrorIs(t, mb.Put(context.Background(), "x"), ErrMailboxClosed)
	_, _, err := mb.TryTake()
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestFileMailboxLayout(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewFileMailbox(dir)
	require.NoError(t, err)

	require.NoError(t, mb.Put(context.Background(), "/response:success"))

	assert.FileExists(t, filepath.Join(dir, "response.tmp"))
	assert.NoFileExists(t, filepath.Join(dir, "response.lock"), "lock is held only across the write")

	_, ok, err := mb.TryTake()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "response.tmp"))
	assert.NoFileExists(t, filepath.Join(dir, "response.lock"))
}

func TestFileMailboxTakeSkipsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewFileMailbox(dir)
	require.NoError(t, err)
	require.NoError(t, mb.Put(context.Background(), "/response:success"))

	token, ok, err := mb.tryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = mb.TryTake()
	require.NoError(t, err)
	assert.False(t, ok, "a write in flight hides the payload")

	mb.release(token)
	payload, ok, err := mb.TryTake()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/response:success", payload)
}

func TestFileMailboxPutWaitsForLock(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewFileMailbox(dir)
	require.NoError(t, err)

	token, ok, err := mb.tryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mb.Put(ctx, "blocked"), context.DeadlineExceeded)

	mb.release(token)
	require.NoError(t, mb.Put(context.Background(), "free"))
}

func TestFileMailboxReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewFileMailbox(dir)
	require.NoError(t, err)

	// A pid above any kernel's pid_max never belongs to a live process
	stale := "99999999\nstale-token\n2026-01-01T00:00:00Z\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), []byte(stale), 0600))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mb.Put(ctx, "/response:success"))

	payload, ok, err := mb.TryTake()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/response:success", payload)
}

func TestFileMailboxKeepsLockOfLiveOwner(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewFileMailbox(dir)
	require.NoError(t, err)

	// A fresh marker under a live pid is never reclaimed
	marker := fmt.Sprintf("%d\nother-token\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339Nano))
	lock := filepath.Join(dir, lockFileName)
	require.NoError(t, os.WriteFile(lock, []byte(marker), 0600))

	_, ok, err := mb.tryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.FileExists(t, lock)
}

func TestFileMailboxReclaimsAbandonedMarkers(t *testing.T) {
	cases := map[string]func() string{
		"empty":        func() string { return "" },
		"garbage":      func() string { return "not a marker" },
		"recycled pid": func() string { return fmt.Sprintf("%d\nold-token\n2026-01-01T00:00:00Z\n", os.Getpid()) },
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			mb, err := NewFileMailbox(dir)
			require.NoError(t, err)

			lock := filepath.Join(dir, lockFileName)
			require.NoError(t, os.WriteFile(lock, []byte(content()), 0600))

			// Fresh: it may belong to a writer that is still filling it in
			_, ok, err := mb.tryAcquire()
			require.NoError(t, err)
			assert.False(t, ok)

			old := time.Now().Add(-2 * lockStaleAfter)
			require.NoError(t, os.Chtimes(lock, old, old))

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			require.NoError(t, mb.Put(ctx, "/response:success"))

			payload, ok, err := mb.TryTake()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "/response:success", payload)
		})
	}
}

func TestFileMailboxReleaseLeavesForeignLock(t *testing.T) {
	dir := t.TempDir()
	mb, err := NewFileMailbox(dir)
	require.NoError(t, err)

	_, ok, err := mb.tryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	mb.release("someone-else")
	assert.FileExists(t, filepath.Join(dir, lockFileName))
}

func TestReadLockMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	require.NoError(t, os.WriteFile(path, []byte("42\nabc\n2026-10-17T10:00:00Z\n"), 0600))
	marker, err := readLockMarker(path)
	require.NoError(t, err)
	assert.Equal(t, 42, marker.pid)
	assert.Equal(t, "abc", marker.token)
	assert.Equal(t, "2026-10-17T10:00:00Z", marker.created)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))
	_, err = readLockMarker(path)
	assert.ErrorIs(t, err, errBadLockMarker)

	_, err = readLockMarker(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAwaitResponse(t *testing.T) {
	mb := NewMemoryMailbox()

	go func() {
		time.Sleep(30 * time.Millisecond)
		mb.Put(context.Background(), "/response:success")
	}()

	payload, err := AwaitResponse(context.Background(), mb, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "/response:success", payload)
}

func TestAwaitResponseCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := AwaitResponse(ctx, NewMemoryMailbox(), 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// A reader racing a writer must only ever see whole payloads
func TestFileMailboxNeverYieldsPartialPayload(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "mailbox-rapid-")
		if err != nil {
			t.Fatalf("temp dir: %v", err)
		}
		defer os.RemoveAll(dir)

		mb, err := NewFileMailbox(dir)
		if err != nil {
			t.Fatalf("mailbox: %v", err)
		}

		writes := rapid.IntRange(1, 20).Draw(t, "writes")
		size := rapid.IntRange(1, 64*1024).Draw(t, "size")
		writerPause := time.Duration(rapid.IntRange(0, 500).Draw(t, "writerPause")) * time.Microsecond
		readerPause := time.Duration(rapid.IntRange(0, 500).Draw(t, "readerPause")) * time.Microsecond

		want := make(map[string]bool, writes)
		payloads := make([]string, writes)
		for i := range payloads {
			payloads[i] = strings.Repeat(string(rune('a'+i%26)), size) + fmt.Sprintf("#%d", i)
			want[payloads[i]] = true
		}

		var wg sync.WaitGroup
		writerDone := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(writerDone)
			for _, p := range payloads {
				mb.Put(context.Background(), p)
				time.Sleep(writerPause)
			}
		}()

		var seen []string
		for {
			payload, ok, err := mb.TryTake()
			if err != nil {
				t.Fatalf("take: %v", err)
			}
			if ok {
				seen = append(seen, payload)
			}
			select {
			case <-writerDone:
				wg.Wait()
				if payload, ok, _ := mb.TryTake(); ok {
					seen = append(seen, payload)
				}
				for _, s := range seen {
					if !want[s] {
						t.Fatalf("observed a payload that was never written whole (len %d)", len(s))
					}
				}
				return
			default:
				time.Sleep(readerPause)
			}
		}
	})
}
