package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/utimer/internal/models"
)

// DefaultAllowedCommands are the notifier binaries a CommandSink may run
// unless the configuration says otherwise.
var DefaultAllowedCommands = []string{"notify-send", "osascript", "terminal-notifier", "paplay", "say"}

// DefaultCommandTimeout bounds a single notifier run.
const DefaultCommandTimeout = 10 * time.Second

// CommandSink runs a local command for every event, for desktop
// notifications or sounds. Arguments may contain {{name}}, {{message}},
// {{task_id}} and {{duration}} placeholders.
type CommandSink struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCommandSink validates command against allowed and returns a sink.
// An empty allowed list means DefaultAllowedCommands.
func NewCommandSink(command string, args []string, allowed []string) (*CommandSink, error) {
	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}
	if !IsAllowed(command, allowed) {
		return nil, fmt.Errorf("command not allowed: %s", command)
	}
	return &CommandSink{command: command, args: args, timeout: DefaultCommandTimeout}, nil
}

// IsAllowed reports whether command's base name is in allowed.
func IsAllowed(command string, allowed []string) bool {
	if command == "" {
		return false
	}
	base := filepath.Base(command)
	for _, a := range allowed {
		if a == command || a == base {
			return true
		}
	}
	return false
}

// Dispatch runs the command with placeholders expanded. The command is
// killed once the sink's timeout elapses.
func (s *CommandSink) Dispatch(ctx context.Context, ev models.FireEvent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := expandArgs(s.args, ev)
	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.WaitDelay = time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("notify command timed out after %s", s.timeout)
		}
		if exitError, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("notify command exited %d: %s", exitError.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("exec error: %w", err)
	}
	return nil
}

func expandArgs(args []string, ev models.FireEvent) []string {
	r := strings.NewReplacer(
		"{{name}}", ev.TimerName,
		"{{message}}", ev.Message,
		"{{task_id}}", ev.TaskID,
		"{{duration}}", strconv.Itoa(ev.OriginalDurationSeconds),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

var _ Dispatcher = (*CommandSink)(nil)
