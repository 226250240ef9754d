package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// clearLine erases the current terminal line and returns the cursor
const clearLine = "\x1b[2K\r"

// readPassword is a test seam for term.ReadPassword
var readPassword = term.ReadPassword

// Terminal serialises everything printed by the interactive loop and the
// Poller. Asynchronous lines clear the pending prompt and redraw it.
type Terminal struct {
	mu          sync.Mutex
	out         io.Writer
	prompt      string
	promptShown bool

	info    lipgloss.Style
	failure lipgloss.Style
	notice  lipgloss.Style
	sender  lipgloss.Style
	private lipgloss.Style
}

// NewTerminal writes to out, styled when color is on and out is a terminal
func NewTerminal(out io.Writer, color bool) *Terminal {
	r := lipgloss.NewRenderer(out)
	t := &Terminal{
		out:     out,
		prompt:  "> ",
		info:    r.NewStyle(),
		failure: r.NewStyle(),
		notice:  r.NewStyle(),
		sender:  r.NewStyle(),
		private: r.NewStyle(),
	}
	if color {
		t.info = r.NewStyle().Foreground(lipgloss.Color("244"))
		t.failure = r.NewStyle().Foreground(lipgloss.Color("196"))
		t.notice = r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
		t.sender = r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
		t.private = r.NewStyle().Foreground(lipgloss.Color("170"))
	}
	return t
}

// SetPrompt changes the prompt used by later redraws
func (t *Terminal) SetPrompt(prompt string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompt = prompt
}

// Prompt prints the prompt and waits for input on the same line
func (t *Terminal) Prompt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, t.prompt)
	t.promptShown = true
}

// Ask prints a one-off question in place of the prompt
func (t *Terminal) Ask(question string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, question)
	t.promptShown = false
}

// Println prints a line from the interactive loop
func (t *Terminal) Println(line string) {
	t.write(line, false)
}

// Info prints a dim status line
func (t *Terminal) Info(format string, args ...any) {
	t.write(t.info.Render(fmt.Sprintf(format, args...)), false)
}

// Error prints an error line
func (t *Terminal) Error(format string, args ...any) {
	t.write(t.failure.Render(fmt.Sprintf(format, args...)), false)
}

// Notice prints an asynchronous notice and redraws the prompt
func (t *Terminal) Notice(line string) {
	t.write(t.notice.Render(line), true)
}

// Message prints an asynchronous chat line and redraws the prompt
func (t *Terminal) Message(sender, text string, private bool) {
	body := text
	if private {
		body = t.private.Render(text)
	}
	t.write(t.sender.Render(sender)+": "+body, true)
}

func (t *Terminal) write(line string, async bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if async && t.promptShown {
		fmt.Fprint(t.out, clearLine)
	}
	fmt.Fprintln(t.out, line)
	if async && t.promptShown {
		fmt.Fprint(t.out, t.prompt)
	}
}

var errInputClosed = errors.New("input closed")

type inputRequest struct {
	secret bool
	reply  chan inputResult
}

type inputResult struct {
	line string
	err  error
}

// Input reads operator lines on its own goroutine so the interactive loop
// can stop waiting when the connection is lost. Reads happen only on
// request, which keeps line reads and no-echo password reads ordered.
type Input struct {
	src    io.Reader
	reader *bufio.Reader
	reqs   chan inputRequest
}

// NewInput starts reading from src on demand
func NewInput(src io.Reader) *Input {
	in := &Input{
		src:    src,
		reader: bufio.NewReader(src),
		reqs:   make(chan inputRequest),
	}
	go in.serve()
	return in
}

func (in *Input) serve() {
	for req := range in.reqs {
		var res inputResult
		if req.secret {
			res.line, res.err = in.readSecret()
		} else {
			res.line, res.err = in.readLine()
		}
		req.reply <- res
	}
}

func (in *Input) readLine() (string, error) {
	line, err := in.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret reads without echo when src is a terminal
func (in *Input) readSecret() (string, error) {
	f, ok := in.src.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return in.readLine()
	}
	pw, err := readPassword(int(f.Fd()))
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// ReadLine waits for the next line. It gives up when ctx ends, leaving the
// pending read to finish in the background.
func (in *Input) ReadLine(ctx context.Context, secret bool) (string, error) {
	req := inputRequest{secret: secret, reply: make(chan inputResult, 1)}

	select {
	case in.reqs <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.reply:
		if errors.Is(res.err, io.EOF) {
			return "", errInputClosed
		}
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
