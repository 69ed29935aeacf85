package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/devkade/hackathon-starter/internal/client"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// renderer prints controller snapshots. On a terminal it redraws the whole
// conversation; otherwise it appends confirmed messages as they arrive.
type renderer struct {
	out io.Writer
	tty bool

	mu         sync.Mutex
	printed    int
	lastStatus conversation.Status
	lastError  string
}

func newRenderer(out io.Writer, tty bool) *renderer {
	return &renderer{out: out, tty: tty}
}

func (r *renderer) render(s client.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tty {
		fmt.Fprint(r.out, "\033[2J\033[H")
		for _, m := range s.Displayed() {
			writeMessage(r.out, m)
		}
		writeStatus(r.out, s)
		return
	}

	// A fresh confirmed list shorter than what was printed means the log
	// was replaced; start over rather than skipping entries.
	if len(s.Confirmed) < r.printed {
		r.printed = 0
	}
	for _, m := range s.Displayed()[r.printed:len(s.Confirmed)] {
		writeMessage(r.out, m)
	}
	r.printed = len(s.Confirmed)

	if s.Status != r.lastStatus || s.LastError != r.lastError {
		writeStatus(r.out, s)
		r.lastStatus = s.Status
		r.lastError = s.LastError
	}
}

func writeMessage(w io.Writer, m client.Message) {
	label := m.Role
	if m.Pending {
		label += ", sending"
	}
	text := strings.TrimSpace(m.Text)
	if text != "" {
		fmt.Fprintf(w, "[%s] %s\n", label, text)
	}
	for _, t := range m.ToolUses {
		fmt.Fprintf(w, "[%s] -> %s\n", label, t.Name)
	}
}

func writeStatus(w io.Writer, s client.State) {
	line := fmt.Sprintf("-- %s", s.Status)
	if s.ConversationID != "" {
		line += " (" + s.ConversationID + ")"
	}
	if s.ErrorMessage != "" {
		line += ": " + s.ErrorMessage
	}
	fmt.Fprintln(w, line)
	if s.LastError != "" {
		fmt.Fprintln(w, "!! "+s.LastError)
	}
}
