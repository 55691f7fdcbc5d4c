package costcli

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/macfox/tokline/internal/fetcherr"
)

// Runner executes the cost tool. Implementations return stdout only; a
// non-zero exit is an error.
type Runner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fetcherr.Transient("%s: %v", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fetcherr.Transient("%s exited %d: %s", name, exitErr.ExitCode(), msg)
	}
	return nil, fetcherr.Transient("run %s: %v", name, err)
}
