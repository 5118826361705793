package core

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"toolgate/internal/boundary"
	"toolgate/internal/logging"
	"toolgate/internal/tools"
)

const (
	defaultMaxMatches = 100

	// Files larger than this are skipped during grep; a match inside a
	// giant artifact is rarely what the caller wants.
	grepMaxFileSize = 4 << 20
)

// GrepTool returns a tool for regex search over files inside the project
// root.
func GrepTool() *tools.Tool {
	return &tools.Tool{
		Name:        "grep",
		Description: "Search file contents for a regex pattern inside the project root",
		Category:    tools.CategorySearch,
		Priority:    85,
		Execute:     executeGrep,
		Schema: tools.ToolSchema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "Regular expression to search for",
				},
				"path": {
					Type:        "string",
					Description: "Directory to search, relative to the project root (default: the root)",
				},
				"glob": {
					Type:        "string",
					Description: "Filename glob filter (e.g. '*.go')",
				},
				"max_results": {
					Type:        "number",
					Description: "Maximum number of matching lines (default: 100)",
				},
			},
		},
	}
}

func executeGrep(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	dir, _ := args["path"].(string)
	if dir == "" {
		dir = "."
	}
	nameGlob, _ := args["glob"].(string)

	maxResults := defaultMaxMatches
	if n, ok := numberArg(args, "max_results"); ok && n > 0 {
		maxResults = n
	}

	root, err := boundary.Validate(dir, ec.ProjectRoot)
	if err != nil {
		return nil, err
	}

	logging.ToolsDebug("grep: pattern=%s dir=%s glob=%s", pattern, dir, nameGlob)

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // Skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(matches) >= maxResults {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		// Stay inside the boundary: do not follow symlinked files.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if nameGlob != "" {
			if ok, _ := filepath.Match(nameGlob, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > grepMaxFileSize {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		grepFile(path, rel, re, &matches, maxResults)
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, err
	}

	return matches, nil
}

func grepFile(path, rel string, re *regexp.Regexp, matches *[]string, maxResults int) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if re.MatchString(scanner.Text()) {
			*matches = append(*matches, fmt.Sprintf("%s:%d:%s", rel, lineNo, scanner.Text()))
			if len(*matches) >= maxResults {
				return
			}
		}
	}
}

// GlobTool returns a tool for finding files by name pattern inside the
// project root.
func GlobTool() *tools.Tool {
	return &tools.Tool{
		Name:        "glob",
		Description: "Find files matching a glob pattern inside the project root",
		Category:    tools.CategorySearch,
		Priority:    80,
		Execute:     executeGlob,
		Schema: tools.ToolSchema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "Glob pattern matched against paths relative to the project root (e.g. '*.go', 'cmd/*/main.go')",
				},
				"max_results": {
					Type:        "number",
					Description: "Maximum number of results (default: 100)",
				},
			},
		},
	}
}

func executeGlob(ctx context.Context, args map[string]any, ec tools.ExecutionContext) (any, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	maxResults := defaultMaxMatches
	if n, ok := numberArg(args, "max_results"); ok && n > 0 {
		maxResults = n
	}

	root, err := boundary.Validate(".", ec.ProjectRoot)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if len(matches) >= maxResults {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		if ok, _ := filepath.Match(pattern, rel); ok {
			matches = append(matches, rel)
		} else if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, err
	}

	return matches, nil
}
