// Package chatlog is an append-only, line-oriented record of chat traffic
// with an independent read cursor for replaying it.
package chatlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimeLayout prefixes every line
const TimeLayout = "2006-01-02 15:04:05"

// ErrEOF is returned by ReadLine once the cursor has caught up with the writer
var ErrEOF = errors.New("end of chat log")

// Log appends timestamped lines to a file and replays them from the start
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	cursor *os.File
	reader *bufio.Reader
	now    func() time.Time
}

// Open opens (creating if needed) the log at path
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat log: %w", err)
	}

	cursor, err := os.Open(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open chat log for reading: %w", err)
	}

	return &Log{
		path:   path,
		file:   file,
		cursor: cursor,
		reader: bufio.NewReader(cursor),
		now:    time.Now,
	}, nil
}

// Path returns the file backing the log
func (l *Log) Path() string {
	return l.path
}

// Write appends one line. Embedded newlines are flattened so one call is
// always one line.
func (l *Log) Write(line string) error {
	line = strings.ReplaceAll(line, "\n", " ")

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := fmt.Fprintf(l.file, "%s: %s\n", l.now().Format(TimeLayout), line)
	return err
}

// Writef formats and appends one line
func (l *Log) Writef(format string, args ...any) error {
	return l.Write(fmt.Sprintf(format, args...))
}

// ReadLine advances the cursor by one line
func (l *Log) ReadLine() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := l.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if line == "" {
		return "", ErrEOF
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// Rewind moves the cursor back to the first line
func (l *Log) Rewind() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.cursor.Seek(0, io.SeekStart); err != nil {
		return err
	}
	l.reader.Reset(l.cursor)
	return nil
}

// Close releases both file handles
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return errors.Join(l.file.Close(), l.cursor.Close())
}
