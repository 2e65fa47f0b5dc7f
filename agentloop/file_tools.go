package agentloop

import (
	"encoding/json"
	"fmt"

	"github.com/martinemde/autollama/unifiedllm"
)

const (
	pathParamDescription    = "The relative path to the file to create/update/delete"
	contentParamDescription = "The content of the file to create/update"
)

// NewFileToolRegistry returns a registry holding exactly the three
// workspace tools.
func NewFileToolRegistry() *ToolRegistry {
	reg := NewToolRegistry()
	RegisterFileTools(reg)
	return reg
}

// RegisterFileTools registers create_file, update_file and delete_file.
func RegisterFileTools(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        string(OpCreateFile),
			Description: "Create a file with the given name and content. If there are any directories that don't exist, create them.",
			Parameters:  fileToolParameters(true),
		},
		Parse: writeParser(OpCreateFile),
	})
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        string(OpUpdateFile),
			Description: "Update a file with the given name and content. If the file does not exist, create it.",
			Parameters:  fileToolParameters(true),
		},
		Parse: writeParser(OpUpdateFile),
	})
	reg.Register(RegisteredTool{
		Definition: unifiedllm.ToolDefinition{
			Name:        string(OpDeleteFile),
			Description: "Delete a file with the given path. If the file does not exist, do nothing.",
			Parameters:  fileToolParameters(false),
		},
		Parse: parseDelete,
	})
}

func fileToolParameters(withContent bool) map[string]interface{} {
	props := map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": pathParamDescription,
		},
	}
	required := []string{"path"}
	if withContent {
		props["content"] = map[string]interface{}{
			"type":        "string",
			"description": contentParamDescription,
		}
		required = append(required, "content")
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func writeParser(op FileOp) ToolParser {
	return func(arguments json.RawMessage) (ToolCall, error) {
		args, err := ParseToolArguments(arguments)
		if err != nil {
			return ToolCall{}, err
		}
		p, ok := GetStringArg(args, "path")
		if !ok {
			return ToolCall{}, fmt.Errorf("path is required")
		}
		content, ok := GetStringArg(args, "content")
		if !ok {
			return ToolCall{}, fmt.Errorf("content is required")
		}
		return ToolCall{Op: op, Path: p, Content: content}, nil
	}
}

func parseDelete(arguments json.RawMessage) (ToolCall, error) {
	args, err := ParseToolArguments(arguments)
	if err != nil {
		return ToolCall{}, err
	}
	p, ok := GetStringArg(args, "path")
	if !ok {
		return ToolCall{}, fmt.Errorf("path is required")
	}
	return ToolCall{Op: OpDeleteFile, Path: p}, nil
}
