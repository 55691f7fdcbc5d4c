package statusline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const SettingsFile = "settings.json"

// ServerCount returns how many MCP servers are configured in the Claude
// settings file under claudeDir. A missing file counts as zero.
func ServerCount(claudeDir string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(claudeDir, SettingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read settings: %w", err)
	}
	var settings struct {
		MCPServers map[string]json.RawMessage `json:"mcpServers"`
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return 0, fmt.Errorf("parse settings: %w", err)
	}
	return len(settings.MCPServers), nil
}
