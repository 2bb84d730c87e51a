package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner runs an external tool and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ToolError is returned when an external tool exits unsuccessfully
type ToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed: %v\nOutput: %s", e.Tool, e.Err, strings.TrimSpace(e.Output))
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs tools with os/exec
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner that logs each command line at debug level.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.With("component", "toolexec")}
}

// Run executes the command and waits for it. A nonzero exit is a *ToolError.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.logger.Debug("run", "cmd", name+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)

	// Capture output for better error reporting
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, &ToolError{Tool: name, Args: args, Output: string(output), Err: err}
	}
	return output, nil
}
