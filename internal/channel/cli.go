package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"lumos/internal/agent"
	"lumos/internal/bus"
	"lumos/internal/domain"

	"github.com/fatih/color"
)

const cliHelp = `Commands:
  /listen       start or stop voice input
  /voice        turn voice responses on or off
  /replay <id>  speak an assistant message again
  /history      show the conversation
  /help         show this message
  /quit         leave
An empty line submits the text heard by voice input.`

// CLI implements domain.Channel for an interactive terminal chat driving a
// single session.
type CLI struct {
	session *agent.Session
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	reader  sync.WaitGroup // the input scanner goroutine

	outMu     sync.Mutex
	thinking  bool
	thinkStop chan struct{}

	user      *color.Color
	assistant *color.Color
	nav       *color.Color
	info      *color.Color
	success   *color.Color
	failure   *color.Color
	dim       *color.Color
}

type CLIConfig struct {
	Session *agent.Session
	Color   bool
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &CLI{
		session:   cfg.Session,
		logger:    cfg.Logger,
		in:        cfg.In,
		out:       cfg.Out,
		user:      color.New(color.FgGreen, color.Bold),
		assistant: color.New(color.FgCyan, color.Bold),
		nav:       color.New(color.FgMagenta),
		info:      color.New(color.FgBlue),
		success:   color.New(color.FgGreen),
		failure:   color.New(color.FgRed),
		dim:       color.New(color.Faint),
	}
	for _, col := range []*color.Color{c.user, c.assistant, c.nav, c.info, c.success, c.failure, c.dim} {
		if cfg.Color {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until the user quits, input
// ends, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	events := c.session.Events()
	ids := []string{
		events.On(bus.EventMessageAppended, c.onMessage),
		events.On(bus.EventNavigate, c.onNavigate),
		events.On(bus.EventNotice, c.onNotice),
		events.On(bus.EventInputChanged, c.onInput),
	}
	defer func() {
		for i, t := range []string{bus.EventMessageAppended, bus.EventNavigate, bus.EventNotice, bus.EventInputChanged} {
			events.Off(t, ids[i])
		}
		c.stopThinking()
	}()

	// The greeting was appended before we subscribed.
	for _, m := range c.session.Messages() {
		c.printMessage(m)
	}
	c.printf("%s\n", c.dim.Sprint("Type your message and press Enter. Type /help for commands."))
	c.prompt()

	lines := make(chan string)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	c.reader.Add(1)
	go func() {
		defer c.reader.Done()
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err // nil on EOF
		case line := <-lines:
			if quit := c.handleLine(ctx, strings.TrimSpace(line)); quit {
				c.logger.Info("user requested quit")
				return nil
			}
		}
	}
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

// handleLine runs one line of input and reports whether to quit.
func (c *CLI) handleLine(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	switch strings.ToLower(cmd) {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		c.printf("%s\n", cliHelp)
	case "/listen":
		go func() {
			if err := c.session.ToggleListening(ctx); err != nil {
				c.logger.Debug("voice input", "err", err)
			}
		}()
	case "/voice":
		c.session.ToggleSpeech()
	case "/history":
		for _, m := range c.session.Messages() {
			c.printMessage(m)
		}
	case "/replay":
		id, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			c.printf("%s\n", c.failure.Sprint("usage: /replay <id>"))
			break
		}
		if err := c.session.Replay(id); err != nil {
			c.printf("%s\n", c.failure.Sprint(err.Error()))
		}
	case "":
		if c.session.PendingInput() == "" {
			break
		}
		c.submit(c.session.SubmitPending())
		return false
	default:
		if strings.HasPrefix(cmd, "/") {
			c.printf("%s\n", c.failure.Sprint("Unknown command. Type /help for available commands."))
			break
		}
		c.submit(c.session.Submit(line))
		return false
	}
	c.prompt()
	return false
}

func (c *CLI) submit(err error) {
	switch {
	case err == nil:
		c.startThinking()
	case errors.Is(err, agent.ErrEmptyInput):
		c.prompt()
	default:
		c.printf("%s\n", c.failure.Sprint(err.Error()))
		c.prompt()
	}
}

func (c *CLI) onMessage(e bus.Event) {
	m, ok := e.Payload[bus.KeyMessage].(domain.Message)
	if !ok || m.IsUser() {
		return
	}
	c.stopThinking()
	c.clearLine()
	c.printMessage(m)
	c.prompt()
}

func (c *CLI) onNavigate(e bus.Event) {
	target, _ := e.Payload[bus.KeyTarget].(string)
	c.clearLine()
	c.printf("%s\n", c.nav.Sprintf("-> #%s", target))
	c.prompt()
}

func (c *CLI) onNotice(e bus.Event) {
	text, _ := e.Payload[bus.KeyText].(string)
	level, _ := e.Payload[bus.KeyLevel].(string)
	col := c.info
	switch level {
	case bus.LevelSuccess:
		col = c.success
	case bus.LevelError:
		col = c.failure
	}
	c.clearLine()
	c.printf("%s\n", col.Sprint(text))
	c.prompt()
}

// onInput echoes what voice input heard so far.
func (c *CLI) onInput(e bus.Event) {
	text, _ := e.Payload[bus.KeyText].(string)
	if text == "" || !c.session.IsListening() {
		return
	}
	c.clearLine()
	c.printf("%s", c.dim.Sprintf("(heard) %s", text))
}

func (c *CLI) printMessage(m domain.Message) {
	if m.IsUser() {
		c.printf("%s %s\n", c.user.Sprintf("[%d] You>", m.ID), m.Text)
		return
	}
	c.printf("%s %s\n", c.assistant.Sprintf("[%d] CLUMOSS>", m.ID), m.Text)
}

func (c *CLI) prompt() {
	c.printf("%s ", c.user.Sprint("You>"))
}

func (c *CLI) clearLine() {
	c.printf("\r\033[K")
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	stop := c.thinkStop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
