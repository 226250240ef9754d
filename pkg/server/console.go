package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aeolun/framechat/pkg/chatlog"
	"github.com/aeolun/framechat/pkg/database"
)

const consolePrompt = "> "

const consoleHelp = `Commands:
  /help            show this help
  /list            list logged-in users
  /log             print the next line of the chat log
  /kick <login>    disconnect a logged-in user
  /remove <login>  delete a user who is not logged in
  /exit, /quit     shut the server down
`

// StartConsole runs the administrative console as the supervisor's child
// with ConsolePID. When it returns, for /exit or end of input, the server
// shuts down.
func (s *Server) StartConsole(in io.Reader, out io.Writer) {
	go func() {
		if err := s.RunConsole(in, out); err != nil {
			log.WithError(err).Warn("console stopped")
		}
		s.notifyExit(ConsolePID)
	}()
}

// RunConsole reads admin commands from in until /exit, /quit or EOF
func (s *Server) RunConsole(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, consolePrompt)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/exit" || line == "/quit" {
			return nil
		}
		if line != "" {
			s.consoleCommand(out, line)
		}
		fmt.Fprint(out, consolePrompt)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func (s *Server) consoleCommand(out io.Writer, line string) {
	fields := strings.Fields(line)

	switch fields[0] {
	case "/help":
		fmt.Fprint(out, consoleHelp)
	case "/list":
		s.consoleList(out)
	case "/log":
		s.consoleLog(out)
	case "/kick":
		if len(fields) != 2 {
			fmt.Fprintln(out, "Can not kick client: usage /kick <login>")
			return
		}
		if err := s.Kick(fields[1]); err != nil {
			fmt.Fprintf(out, "Can not kick client: %s\n", consoleError(err))
			return
		}
		fmt.Fprintf(out, "%s has been kicked\n", fields[1])
	case "/remove":
		if len(fields) != 2 {
			fmt.Fprintln(out, "Can not remove user: usage /remove <login>")
			return
		}
		if err := s.RemoveUser(fields[1]); err != nil {
			fmt.Fprintf(out, "Can not remove user: %s\n", consoleError(err))
			return
		}
		fmt.Fprintf(out, "User '%s' has been removed\n", fields[1])
	default:
		fmt.Fprintf(out, "Unknown command %q, try /help\n", fields[0])
	}
}

func (s *Server) consoleList(out io.Writer) {
	sessions, err := s.ListSessions()
	if err != nil {
		fmt.Fprintf(out, "Error: can not load active user list (%v)\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No users are logged in")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOGIN\tADDRESS\tPID\tSTARTED\tLAST ACTIVITY")
	for _, sess := range sessions {
		fmt.Fprintf(tw, "%s\t%s:%d\t%d\t%s\t%s\n",
			sess.Login, sess.IP, sess.Port, sess.PID,
			sess.Started.Format(chatlog.TimeLayout),
			sess.LastActivity.Format(chatlog.TimeLayout))
	}
	tw.Flush()
}

func (s *Server) consoleLog(out io.Writer) {
	if s.chatLog == nil {
		fmt.Fprintln(out, "Error: chat log is disabled")
		return
	}
	line, err := s.chatLog.ReadLine()
	if err != nil {
		if errors.Is(err, chatlog.ErrEOF) {
			fmt.Fprintln(out, "Error: EOF has been reached")
			return
		}
		fmt.Fprintf(out, "Error: can not read chat log (%v)\n", err)
		return
	}
	fmt.Fprintln(out, line)
}

func consoleError(err error) string {
	switch {
	case errors.Is(err, database.ErrUserNotFound):
		return "user does not exist"
	case errors.Is(err, ErrNotLoggedIn):
		return "user is not logged in"
	case errors.Is(err, ErrUserActive):
		return "user is logged in, kick first"
	}
	return err.Error()
}
