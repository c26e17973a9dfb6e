// Package render prints a room's message stream to a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"github.com/eldtechnologies/agentchat/clients/go/agentchat"
)

const timeLayout = "15:04:05"

// Terminal renders messages as lines of text. Agent messages are treated
// as markdown when styling is enabled.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
	md  *glamour.TermRenderer // nil without styling

	timeStyle   lipgloss.Style
	systemStyle lipgloss.Style
	selfStyle   lipgloss.Style
	agentStyle  lipgloss.Style
}

// NewStdout renders to stdout, styled only when stdout is a terminal.
func NewStdout() (*Terminal, error) {
	return New(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

// New creates a renderer writing to out.
func New(out io.Writer, styled bool) (*Terminal, error) {
	r := lipgloss.NewRenderer(out)
	t := &Terminal{
		out:         out,
		timeStyle:   r.NewStyle().Faint(true),
		systemStyle: r.NewStyle().Foreground(lipgloss.Color("11")).Italic(true),
		selfStyle:   r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		agentStyle:  r.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
	}
	if styled {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			return nil, errors.Wrap(err, "markdown renderer")
		}
		t.md = md
	}
	return t, nil
}

// Render implements agentchat.Renderer.
func (t *Terminal) Render(m agentchat.Message) {
	line := t.format(m)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.out, line+"\n")
}

// Printf writes a free-form line, serialized with rendered messages.
func (t *Terminal) Printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) format(m agentchat.Message) string {
	stamp := t.timeStyle.Render("[" + m.Timestamp.Local().Format(timeLayout) + "]")

	switch {
	case m.IsSystem():
		return stamp + " " + t.systemStyle.Render(m.Sender+": "+m.Message)
	case m.Sender == agentchat.SenderHuman:
		return stamp + " " + t.selfStyle.Render("you") + ": " + m.Message
	}

	label := stamp + " " + t.agentStyle.Render(m.Sender) + ":"
	if t.md == nil {
		return label + " " + m.Message
	}
	body, err := t.md.Render(m.Message)
	if err != nil {
		return label + " " + m.Message
	}
	return label + "\n" + strings.Trim(body, "\n")
}
