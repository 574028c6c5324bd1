package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/echoclone/echoclone-go/internal/config"
	"github.com/echoclone/echoclone-go/internal/schema"
)

const stderrTail = 2048

// CommandRunner invokes a speech synthesis command line once per request.
// Placeholders in args: {text}, {reference}, {language}, {output}, {model}.
type CommandRunner struct {
	command string
	args    []string
	model   string
	timeout time.Duration
}

// NewCommandRunner creates a runner for cfg.Command.
func NewCommandRunner(cfg *config.BackendConfig) *CommandRunner {
	args := cfg.Args
	if len(args) == 0 {
		args = config.DefaultExecArgs()
	}
	return &CommandRunner{
		command: cfg.Command,
		args:    append([]string(nil), args...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Health verifies the command can be resolved.
func (c *CommandRunner) Health(_ context.Context) error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Synthesize runs the command and waits for it to exit.
func (c *CommandRunner) Synthesize(ctx context.Context, req *schema.SynthesisRequest) error {
	if req == nil {
		return &BackendError{Kind: KindInputRejected, Message: "request is nil"}
	}
	if req.Model == "" {
		req.Model = c.model
	}
	if err := req.Validate(); err != nil {
		return &BackendError{Kind: KindInputRejected, Message: err.Error()}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.command, c.expandArgs(req)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s", ErrBackendTimeout, c.command, c.timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &BackendError{
			Kind:       KindInternal,
			StatusCode: exitErr.ExitCode(),
			Message:    tail(stderr.String(), stderrTail),
		}
	}

	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (c *CommandRunner) expandArgs(req *schema.SynthesisRequest) []string {
	r := strings.NewReplacer(
		"{text}", req.Text,
		"{reference}", req.SpeakerWav,
		"{language}", req.Language,
		"{output}", req.FilePath,
		"{model}", req.Model,
	)

	out := make([]string, len(c.args))
	for i, a := range c.args {
		out[i] = r.Replace(a)
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
