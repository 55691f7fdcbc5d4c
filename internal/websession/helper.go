package websession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// HelperResult is what the browser-extraction helper prints on stdout.
type HelperResult struct {
	SessionKey     string `json:"sessionKey"`
	OrganizationID string `json:"organizationId"`
	Browser        string `json:"browser"`
	Error          string `json:"error"`
}

type Helper interface {
	Extract(ctx context.Context) (HelperResult, error)
}

// CommandHelper runs an external program that reads the claude.ai session
// cookie out of a local browser profile.
type CommandHelper struct {
	Argv    []string
	Timeout time.Duration
}

func (h CommandHelper) Extract(ctx context.Context) (HelperResult, error) {
	if len(h.Argv) == 0 {
		return HelperResult{}, errors.New("session helper is not configured")
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.Argv[0], h.Argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return HelperResult{}, fmt.Errorf("session helper: %w", ctx.Err())
	}
	// The helper reports its own failures as {"error": ...} with exit 1.
	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) > 0 {
		return ParseHelperOutput(out)
	}
	if runErr != nil {
		return HelperResult{}, fmt.Errorf("session helper: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}
	return HelperResult{}, errors.New("session helper printed nothing")
}

func ParseHelperOutput(raw []byte) (HelperResult, error) {
	var result HelperResult
	if err := json.Unmarshal(bytes.TrimSpace(raw), &result); err != nil {
		return HelperResult{}, fmt.Errorf("parse session helper output: %w", err)
	}
	if result.Error != "" {
		return HelperResult{}, fmt.Errorf("session helper: %s", result.Error)
	}
	result.SessionKey = strings.TrimSpace(result.SessionKey)
	if result.SessionKey == "" {
		return HelperResult{}, errors.New("session helper returned no session key")
	}
	result.OrganizationID = strings.TrimSpace(result.OrganizationID)
	return result, nil
}
