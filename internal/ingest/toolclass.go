package ingest

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

//go:embed config/toolclass.yaml
var toolClassFiles embed.FS

const mcpToolPrefix = "mcp__"

// toolClassEntry is one row of the embedded classification table.
type toolClassEntry struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Action string `yaml:"action"`
}

type toolClassTable struct {
	Tools []toolClassEntry `yaml:"tools"`
}

// ToolClassifier maps tool names to the closed tool-type enumeration and
// extracts file attribution from partial streaming argument JSON.
type ToolClassifier struct {
	byName map[string]toolClassEntry
	mu     sync.RWMutex
}

// NewToolClassifier loads the embedded classification table.
func NewToolClassifier() (*ToolClassifier, error) {
	data, err := toolClassFiles.ReadFile("config/toolclass.yaml")
	if err != nil {
		return nil, fmt.Errorf("read tool classification table: %w", err)
	}

	var table toolClassTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("unmarshal tool classification table: %w", err)
	}

	c := &ToolClassifier{byName: make(map[string]toolClassEntry, len(table.Tools))}
	for _, entry := range table.Tools {
		c.byName[entry.Name] = entry
	}
	return c, nil
}

// Classify returns the tool type for a name. MCP-prefixed tools classify
// first; everything unlisted is unknown.
func (c *ToolClassifier) Classify(toolName string) models.ToolType {
	if strings.HasPrefix(toolName, mcpToolPrefix) {
		return models.ToolTypeMCP
	}

	c.mu.RLock()
	entry, ok := c.byName[toolName]
	c.mu.RUnlock()
	if !ok {
		return models.ToolTypeUnknown
	}
	return models.ToolType(entry.Type)
}

// FileAction returns the file action a tool name implies, or "" for tools
// that don't operate on files.
func (c *ToolClassifier) FileAction(toolName string) models.FileAction {
	c.mu.RLock()
	entry, ok := c.byName[toolName]
	c.mu.RUnlock()
	if !ok || entry.Action == "" {
		return ""
	}
	return models.FileAction(entry.Action)
}

// ExtractFilePath pulls a file path out of possibly-incomplete streaming
// argument JSON. Truncated JSON is repaired before lookup; a still-unusable
// payload yields "".
func ExtractFilePath(argsJSON string) string {
	trimmed := strings.TrimSpace(argsJSON)
	if trimmed == "" || trimmed == "{}" {
		return ""
	}

	if path := filePathKey(trimmed); path != "" {
		return path
	}

	// Streaming arguments often stop mid-object; repair and retry.
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return ""
	}
	return filePathKey(repaired)
}

func filePathKey(jsonText string) string {
	if !gjson.Valid(jsonText) {
		return ""
	}
	for _, key := range []string{"file_path", "path", "file"} {
		if v := gjson.Get(jsonText, key); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
