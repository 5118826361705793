package core

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"toolgate/internal/boundary"
	"toolgate/internal/logging"
	"toolgate/internal/tools"
)

// ReadFileTool returns a tool for reading file contents inside the
// project root.
func ReadFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "read_file",
		Description: "Read the contents of a file inside the project root",
		Category:    tools.CategoryFile,
		Priority:    90,
		Execute:     executeReadFile,
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to read, relative to the project root",
				},
				"start_line": {
					Type:        "number",
					Description: "Starting line number (1-indexed, optional)",
				},
				"end_line": {
					Type:        "number",
					Description: "Ending line number (inclusive, optional)",
				},
			},
		},
	}
}

func executeReadFile(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	logging.ToolsDebug("read_file: path=%s root=%s", path, ec.ProjectRoot)

	content, err := boundary.AtomicRead(path, ec.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	result := string(content)

	startLine, hasStart := numberArg(args, "start_line")
	endLine, hasEnd := numberArg(args, "end_line")
	if hasStart || hasEnd {
		lines := strings.Split(result, "\n")
		if !hasStart {
			startLine = 1
		}
		if !hasEnd || endLine > len(lines) {
			endLine = len(lines)
		}
		startLine--
		if startLine < 0 {
			startLine = 0
		}
		if startLine > endLine {
			startLine = endLine
		}
		result = strings.Join(lines[startLine:endLine], "\n")
	}

	return result, nil
}

// WriteFileTool returns a tool for writing content to a file inside the
// project root.
func WriteFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "write_file",
		Description: "Write content to a file inside the project root, creating it if needed",
		Category:    tools.CategoryFile,
		Priority:    80,
		Execute:     executeWriteFile,
		Schema: tools.ToolSchema{
			Required: []string{"path", "content"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to write, relative to the project root",
				},
				"content": {
					Type:        "string",
					Description: "The content to write",
				},
			},
		},
	}
}

func executeWriteFile(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	content, _ := args["content"].(string)

	logging.ToolsDebug("write_file: path=%s size=%d", path, len(content))

	if err := boundary.AtomicWrite(path, ec.ProjectRoot, []byte(content)); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool returns a tool for search/replace edits.
func EditFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "edit_file",
		Description: "Replace an exact string in a file inside the project root",
		Category:    tools.CategoryFile,
		Priority:    80,
		Execute:     executeEditFile,
		Schema: tools.ToolSchema{
			Required: []string{"path", "old_string", "new_string"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to edit, relative to the project root",
				},
				"old_string": {
					Type:        "string",
					Description: "The exact text to replace",
				},
				"new_string": {
					Type:        "string",
					Description: "The replacement text",
				},
				"replace_all": {
					Type:        "boolean",
					Description: "Replace every occurrence instead of requiring a unique match",
				},
			},
		},
	}
}

func executeEditFile(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	path, _ := args["path"].(string)
	oldString, _ := args["old_string"].(string)
	newString, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	if path == "" || oldString == "" {
		return nil, fmt.Errorf("path and old_string are required")
	}

	content, err := boundary.AtomicRead(path, ec.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	text := string(content)
	count := strings.Count(text, oldString)
	if count == 0 {
		return nil, fmt.Errorf("old_string not found in %s", path)
	}
	if count > 1 && !replaceAll {
		return nil, fmt.Errorf("old_string matches %d locations in %s; pass replace_all or disambiguate", count, path)
	}

	if replaceAll {
		text = strings.ReplaceAll(text, oldString, newString)
	} else {
		text = strings.Replace(text, oldString, newString, 1)
	}

	if err := boundary.AtomicWrite(path, ec.ProjectRoot, []byte(text)); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", count, path), nil
}

// DeleteFileTool returns a tool for deleting a file inside the project
// root.
func DeleteFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "delete_file",
		Description: "Delete a file inside the project root",
		Category:    tools.CategoryFile,
		Priority:    60,
		Execute:     executeDeleteFile,
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The file path to delete, relative to the project root",
				},
			},
		},
	}
}

func executeDeleteFile(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	resolved, err := boundary.Validate(path, ec.ProjectRoot)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("refusing to delete directory: %s", path)
	}

	if err := os.Remove(resolved); err != nil {
		return nil, fmt.Errorf("failed to delete file: %w", err)
	}
	logging.Tools("delete_file: removed %s", path)
	return fmt.Sprintf("Deleted %s", path), nil
}

// ListDirTool returns a tool for listing a directory inside the project
// root.
func ListDirTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory inside the project root",
		Category:    tools.CategoryFile,
		Priority:    70,
		Execute:     executeListDir,
		Schema: tools.ToolSchema{
			Required: []string{},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "Directory to list, relative to the project root (default: the root itself)",
				},
			},
		},
	}
}

func executeListDir(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	resolved, err := boundary.Validate(path, ec.ProjectRoot)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// numberArg reads an optional numeric argument, accepting the float64
// shape JSON decoding produces as well as plain ints from direct callers.
func numberArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
