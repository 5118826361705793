package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"toolgate/internal/boundary"
	"toolgate/internal/command"
	"toolgate/internal/logging"
	"toolgate/internal/tools"
)

// maxOutputBytes truncates captured command output.
const maxOutputBytes = 50000

// validator is shared by all shell tools. Stateless after construction.
var validator = command.NewValidator()

// SetValidator replaces the shared validator, for deployments with
// custom allow/deny lists. Call before registering tools.
func SetValidator(v *command.Validator) {
	if v != nil {
		validator = v
	}
}

// RunCommandTool returns a tool for executing an allowlisted program.
func RunCommandTool() *tools.Tool {
	return &tools.Tool{
		Name:        "run_command",
		Description: "Execute an allowlisted program inside the project root and return its output",
		Category:    tools.CategoryShell,
		Priority:    70,
		Execute:     executeRunCommand,
		Schema: tools.ToolSchema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {
					Type:        "string",
					Description: "The program to execute (no shell syntax)",
				},
				"args": {
					Type:        "array",
					Description: "Program arguments",
					Items:       &tools.PropertyItems{Type: "string"},
				},
				"working_dir": {
					Type:        "string",
					Description: "Working directory relative to the project root (default: the root)",
				},
			},
		},
	}
}

func executeRunCommand(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	name, _ := args["command"].(string)
	if name == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmdArgs, err := stringSlice(args["args"])
	if err != nil {
		return nil, err
	}

	return runValidated(ctx, name, cmdArgs, args, ec)
}

// GitTool returns a convenience tool for read-and-commit git operations.
func GitTool() *tools.Tool {
	return &tools.Tool{
		Name:        "git",
		Description: "Run a git subcommand inside the project root",
		Category:    tools.CategoryShell,
		Priority:    75,
		Execute:     executeGit,
		Schema: tools.ToolSchema{
			Required: []string{"subcommand"},
			Properties: map[string]tools.Property{
				"subcommand": {
					Type:        "string",
					Description: "The git subcommand to run",
					Enum: []any{
						"status", "diff", "log", "show", "branch",
						"add", "commit", "stash", "blame",
					},
				},
				"args": {
					Type:        "array",
					Description: "Additional subcommand arguments",
					Items:       &tools.PropertyItems{Type: "string"},
				},
			},
		},
	}
}

func executeGit(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	subcommand, _ := args["subcommand"].(string)
	if subcommand == "" {
		return nil, fmt.Errorf("subcommand is required")
	}

	extra, err := stringSlice(args["args"])
	if err != nil {
		return nil, err
	}

	return runValidated(ctx, "git", append([]string{subcommand}, extra...), args, ec)
}

// runValidated applies the command validator, confines the working
// directory to the project root, and executes the program under ctx so a
// dispatcher timeout kills the subprocess.
func runValidated(ctx context.Context, name string, cmdArgs []string, rawArgs map[string]any, ec tools.ExecutionContext) (any, error) {
	if err := validator.ValidateCommand(name); err != nil {
		logging.Command("blocked command %q: %v", name, err)
		return nil, err
	}
	if err := validator.ValidateArgs(cmdArgs, ec.ProjectRoot); err != nil {
		logging.Command("blocked args for %q: %v", name, err)
		return nil, err
	}

	workDir := ec.ProjectRoot
	if wd, ok := rawArgs["working_dir"].(string); ok && wd != "" {
		resolved, err := boundary.Validate(wd, ec.ProjectRoot)
		if err != nil {
			return nil, err
		}
		workDir = resolved
	}

	logging.CommandDebug("run: %s %v (dir=%s)", name, cmdArgs, workDir)

	cmd := exec.CommandContext(ctx, name, cmdArgs...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n...[truncated]"
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output, fmt.Errorf("command cancelled: %w", ctx.Err())
		}
		return output, fmt.Errorf("command failed: %w\nOutput:\n%s", runErr, output)
	}

	logging.Command("ran %s %v (%d bytes output)", name, cmdArgs, len(output))
	return output, nil
}

// stringSlice normalizes an optional array argument. JSON decoding
// produces []any; direct callers may pass []string.
func stringSlice(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("args must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("args must be an array, got %T", v)
	}
}
