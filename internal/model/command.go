// ABOUTME: CommandRunner executes shell commands and streams output lines.
// ABOUTME: Each request runs "sh -c command"; cancellation kills the process.

package model

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// CommandRunner runs Request.Command under a shell. Stdout and stderr
// lines stream as Chunk events; exit status becomes Done or Error.
type CommandRunner struct {
	shell  string
	logger *slog.Logger
}

// NewCommandRunner builds a runner using the given shell binary, or
// "sh" when empty.
func NewCommandRunner(shell string, logger *slog.Logger) *CommandRunner {
	if shell == "" {
		shell = "sh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRunner{
		shell:  shell,
		logger: logger.With("component", "command-runner"),
	}
}

func (r *CommandRunner) Run(ctx context.Context, req Request) (<-chan Event, error) {
	command := req.Command
	if command == "" {
		// Chat-style requests carry only a prompt; run it as the command.
		command = req.Prompt
	}
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}
	r.logger.Debug("command started", "pid", cmd.Process.Pid, "thread", req.ThreadID)

	out := make(chan Event, 16)
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case out <- Event{Type: EventChunk, Text: scanner.Text() + "\n"}:
			case <-ctx.Done():
			}
		}

		err := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			out <- Event{Type: EventError, Err: ctx.Err().Error()}
		case err != nil:
			out <- Event{Type: EventError, Err: err.Error(), Retryable: true}
		default:
			out <- Event{Type: EventDone, Response: fmt.Sprintf("pid %d exited cleanly", cmd.Process.Pid)}
		}
	}()
	return out, nil
}

var _ Runner = (*CommandRunner)(nil)
