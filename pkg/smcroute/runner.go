package smcroute

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrCommandFailed is returned when an external command exits unsuccessfully.
var ErrCommandFailed = errors.New("command failed")

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec. A zero Timeout means no per-command
// deadline beyond the caller's context.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%w: %s %s: %w: %s", ErrCommandFailed, name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%w: %s %s: %w", ErrCommandFailed, name, strings.Join(args, " "), err)
	}
	return nil
}
