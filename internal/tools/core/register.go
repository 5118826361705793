package core

import (
	"toolgate/internal/tools"
)

// RegisterAll registers all builtin filesystem tools with the given
// registry.
func RegisterAll(registry *tools.Registry) error {
	allTools := []*tools.Tool{
		// File operations
		ReadFileTool(),
		WriteFileTool(),
		EditFileTool(),
		DeleteFileTool(),
		ListDirTool(),

		// Search operations
		GrepTool(),
		GlobTool(),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
