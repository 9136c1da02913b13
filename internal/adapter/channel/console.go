// Package channel holds the user-facing REPL.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"triage-ai/internal/infra/config"
)

// exitSentinel ends the loop when typed on its own, in any case.
const exitSentinel = "exit"

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#42a5f5"})
	agentStyle = lipgloss.NewStyle().Faint(true)
)

// Reply is a handler's answer to one input line.
type Reply struct {
	Text  string
	Agent string
}

// Handler processes one user input line.
type Handler func(ctx context.Context, input string) (Reply, error)

// Console is a line-oriented stdin/stdout REPL.
type Console struct {
	in     io.Reader
	out    io.Writer
	cfg    config.ConsoleConfig
	styled bool
	md     *glamour.TermRenderer
	logger *slog.Logger
}

// NewConsole creates a console reading from in and writing to out. Styling
// and markdown rendering are enabled only when out is a terminal.
func NewConsole(in io.Reader, out io.Writer, cfg config.ConsoleConfig, logger *slog.Logger) *Console {
	c := &Console{
		in:     in,
		out:    out,
		cfg:    cfg,
		styled: isTerminal(out),
		logger: logger,
	}
	if c.cfg.Prompt == "" {
		c.cfg.Prompt = config.Defaults().Console.Prompt
	}
	if c.styled && cfg.Render {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(cfg.WordWrap),
		)
		if err != nil {
			logger.Warn("markdown rendering disabled", "error", err)
		} else {
			c.md = r
		}
	}
	return c
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

type line struct {
	text string
	err  error
}

// Run prompts for input until the exit sentinel, end of input or context
// cancellation, all of which return nil. Blank lines are skipped. A handler
// error stops the loop and is returned.
func (c *Console) Run(ctx context.Context, handle Handler) error {
	lines := make(chan line)
	next := make(chan struct{})
	go c.readLines(lines, next)
	defer close(next)

	for {
		fmt.Fprint(c.out, c.cfg.Prompt)

		var l line
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case l = <-lines:
		}

		if l.err != nil && l.text == "" {
			if errors.Is(l.err, io.EOF) {
				fmt.Fprintln(c.out)
				return nil
			}
			return fmt.Errorf("read input: %w", l.err)
		}

		input := strings.TrimSpace(l.text)
		switch {
		case strings.EqualFold(input, exitSentinel):
			c.logger.Info("exit requested")
			return nil
		case input == "":
			if l.err != nil {
				return nil
			}
			next <- struct{}{}
			continue
		}

		reply, err := handle(ctx, input)
		if err != nil {
			return err
		}
		c.printReply(reply)

		if l.err != nil {
			return nil
		}
		next <- struct{}{}
	}
}

// readLines delivers one line per request on next. It stops after an
// error or when next is closed.
func (c *Console) readLines(out chan<- line, next <-chan struct{}) {
	r := bufio.NewReader(c.in)
	for {
		text, err := r.ReadString('\n')
		select {
		case out <- line{text: strings.TrimRight(text, "\r\n"), err: err}:
		case <-next:
			return
		}
		if err != nil {
			return
		}
		if _, ok := <-next; !ok {
			return
		}
	}
}

func (c *Console) printReply(r Reply) {
	if c.cfg.ShowAgent && r.Agent != "" {
		agent := "[" + r.Agent + "]"
		if c.styled {
			agent = agentStyle.Render(agent)
		}
		fmt.Fprintln(c.out, agent)
	}

	label := "Final Result:"
	if c.styled {
		label = labelStyle.Render(label)
	}

	if c.md != nil {
		if rendered, err := c.md.Render(r.Text); err == nil {
			fmt.Fprintln(c.out, label)
			fmt.Fprint(c.out, rendered)
			return
		}
	}
	fmt.Fprintln(c.out, label, r.Text)
}
