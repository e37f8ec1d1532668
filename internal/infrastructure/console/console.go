// Package console is a line-oriented front end for running the workflow from
// a terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

// Chat is the conversation id used for the single console session.
const Chat = "console"

var selectPrefixes = []string{"sub:", "style:", "confirm:", "resume:"}

// Console reads events from in and writes messages to out. Documents are
// saved under outDir.
type Console struct {
	in     io.Reader
	outDir string
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer
	seq int
}

var (
	_ ports.Conversation = (*Console)(nil)
	_ ports.ProgressSink = (*Console)(nil)
)

// New builds a console front end.
func New(in io.Reader, out io.Writer, outDir string, logger *zap.Logger) *Console {
	if outDir == "" {
		outDir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{in: in, out: out, outDir: outDir, logger: logger.With(zap.String("component", "console"))}
}

// Send prints the message and its options; the option data is what the
// operator types to choose it.
func (c *Console) Send(ctx context.Context, chat string, msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Text != "" {
		fmt.Fprintln(c.out, msg.Text)
	}
	for _, row := range msg.Options {
		for _, o := range row {
			fmt.Fprintf(c.out, "  %-16s %s\n", o.Data, o.Label)
		}
	}
	if msg.Document != nil {
		path := filepath.Join(c.outDir, filepath.Base(msg.Document.Name))
		if err := os.WriteFile(path, msg.Document.Body, 0o644); err != nil {
			return fmt.Errorf("save document: %w", err)
		}
		fmt.Fprintf(c.out, "Saved %s (%d bytes)", path, len(msg.Document.Body))
		if msg.Document.Caption != "" {
			fmt.Fprintf(c.out, ": %s", msg.Document.Caption)
		}
		fmt.Fprintln(c.out)
	}
	fmt.Fprintln(c.out)
	return nil
}

// Progress prints one status line per update.
func (c *Console) Progress(ctx context.Context, chat string, update domain.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update.Done {
		fmt.Fprintf(c.out, "... %s done (%s)\n", update.Stage, update.Elapsed.Truncate(time.Second))
		return
	}
	line := fmt.Sprintf("... %s (%s)", update.Stage, update.Elapsed.Truncate(time.Second))
	if update.Detail != "" {
		line += " " + update.Detail
	}
	fmt.Fprintln(c.out, line)
}

// Run submits one event per input line until EOF or ctx ends.
func (c *Console) Run(ctx context.Context, submit func(domain.Event) error) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			ev, ok := c.parse(line)
			if !ok {
				continue
			}
			if err := submit(ev); err != nil {
				return err
			}
		}
	}
}

func (c *Console) parse(line string) (domain.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.Event{}, false
	}
	c.seq++
	ev := domain.Event{ID: "console-" + strconv.Itoa(c.seq), Chat: Chat}

	for _, p := range selectPrefixes {
		if strings.HasPrefix(line, p) {
			ev.Kind = domain.EventSelect
			ev.Choice = line
			return ev, true
		}
	}
	if !strings.HasPrefix(line, "/") {
		ev.Kind = domain.EventText
		ev.Text = line
		return ev, true
	}

	command, arg, _ := strings.Cut(line, " ")
	switch strings.ToLower(command) {
	case "/start":
		ev.Kind = domain.EventStart
	case "/cancel":
		ev.Kind = domain.EventCancel
	case "/resume":
		ev.Kind = domain.EventResume
		ev.Text = strings.TrimSpace(arg)
	default:
		ev.Kind = domain.EventHelp
	}
	return ev, true
}
