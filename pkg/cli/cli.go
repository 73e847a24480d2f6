// Package cli is the interactive event console of bbrd. It stands in for
// the Thread stack: role changes and listener registrations typed here are
// handed to the daemon event loop, which owns all forwarding state.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// Request carries a parsed command to the daemon loop. The loop answers
// exactly once on Reply.
type Request struct {
	Command Command
	Reply   chan<- Reply
}

// Reply is the daemon's answer to a Request.
type Reply struct {
	Output string
	Err    error
}

var errExit = errors.New("exit")

const helpText = `Commands:
  role disabled|secondary|primary   Report a Backbone router role change
  listener add <group>              Register a multicast listener
  listener del <group>              Remove a multicast listener
  dnssd subscribe <name>            Subscribe to a DNS-SD service or instance
  dnssd unsubscribe <name>          Drop a DNS-SD subscription
  show role                         Current role and forwarding state
  show mfc                          Multicast forwarding cache
  show listeners                    Multicast listener table
  show events [count]               Recent forwarding events
  show dnssd                        DNS-SD subscriptions
  exit                              Exit console
Keywords may be abbreviated. End a line with '?' for completions.
`

// CLI is the readline console.
type CLI struct {
	requests chan<- Request
	hostname string
}

// New creates a console that submits commands on requests.
func New(requests chan<- Request) *CLI {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "bbrd"
	}
	return &CLI{requests: requests, hostname: hostname}
}

// Run reads commands until exit, EOF or ctx is cancelled.
func (c *CLI) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     "/tmp/bbrd_history",
		AutoComplete:    completer{},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	var once sync.Once
	closeRL := func() { once.Do(func() { rl.Close() }) }
	defer closeRL()
	stop := context.AfterFunc(ctx, closeRL)
	defer stop()

	out := rl.Stdout()
	fmt.Fprintln(out, "bbrd - Thread Backbone Router multicast forwarding")
	fmt.Fprintln(out, "Type '?' for help")
	fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.Execute(ctx, out, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// Execute runs one console line, writing any output to w. Help and
// completion requests are answered locally; everything else goes through
// the daemon loop.
func (c *CLI) Execute(ctx context.Context, w io.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasSuffix(line, "?") {
		words, partial := splitPartial(strings.TrimSuffix(line, "?"))
		candidates := completeFromTree(commandTree, words, partial)
		if len(candidates) == 0 {
			return fmt.Errorf("%w: no completions for %q", ErrSyntax, line)
		}
		writeCompletionHelp(w, candidates)
		return nil
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		return err
	}
	switch cmd.Kind {
	case KindHelp:
		fmt.Fprint(w, helpText)
		return nil
	case KindExit:
		return errExit
	}

	reply, err := c.submit(ctx, cmd)
	if err != nil {
		return err
	}
	if reply.Output != "" {
		fmt.Fprint(w, reply.Output)
	}
	return reply.Err
}

func (c *CLI) submit(ctx context.Context, cmd Command) (Reply, error) {
	replyCh := make(chan Reply, 1)
	select {
	case c.requests <- Request{Command: cmd, Reply: replyCh}:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-replyCh:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (c *CLI) prompt() string {
	return fmt.Sprintf("bbrd@%s> ", c.hostname)
}
