package trigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandStrategy runs a local program that starts synthesis. The content
// is written to the program's stdin and may also be templated into args.
type CommandStrategy struct {
	name    string
	command string
	args    []string
	timeout time.Duration
}

// NewCommandStrategy creates a CommandStrategy. The command must resolve on
// PATH or be an existing path.
func NewCommandStrategy(name, command string, args []string, timeout time.Duration) (*CommandStrategy, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is required")
	}

	resolved, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("command %q not found: %w", command, err)
	}

	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &CommandStrategy{
		name:    name,
		command: resolved,
		args:    args,
		timeout: timeout,
	}, nil
}

// Name returns the strategy name
func (s *CommandStrategy) Name() string {
	return s.name
}

// Attempt runs the program; exit status 0 counts as success
func (s *CommandStrategy) Attempt(ctx context.Context, req Request) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := make([]string, len(s.args))
	for i, a := range s.args {
		args[i] = req.render(a)
	}

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Stdin = strings.NewReader(req.Content)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[:512]
		}
		if detail != "" {
			return false, fmt.Errorf("%s failed: %w: %s", s.command, err, detail)
		}
		return false, fmt.Errorf("%s failed: %w", s.command, err)
	}

	return true, nil
}
