//go:build darwin

package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "Claude Code-credentials"

func readKeychain(ctx context.Context) ([]byte, error) {
	if _, err := exec.LookPath("security"); err != nil {
		return nil, fmt.Errorf("keychain security binary not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, "security", "find-generic-password", "-s", keychainService, "-w")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if strings.Contains(strings.ToLower(stderr.String()), "could not be found") {
			return nil, errors.New("keychain item not found")
		}
		return nil, fmt.Errorf("read keychain credentials: %w", err)
	}
	return bytes.TrimSpace(out), nil
}
