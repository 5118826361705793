// Package command validates executable names and their arguments before a
// tool is allowed to spawn a process. Executables must match an exact
// allowlist; shell interpreters are always rejected, listed or not, because
// handing the agent a shell defeats every other check in the pipeline.
package command

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"toolgate/internal/logging"
)

var (
	// ErrInterpreterBlocked is returned for shell interpreter binaries.
	ErrInterpreterBlocked = errors.New("shell interpreters are blocked")

	// ErrNotAllowed is returned for executables missing from the allowlist.
	ErrNotAllowed = errors.New("executable not in allowlist")

	// ErrPathTraversal is returned for arguments carrying traversal tokens.
	ErrPathTraversal = errors.New("argument contains path traversal")

	// ErrAbsolutePathOutsideProject is returned for absolute-path arguments
	// pointing outside the project root.
	ErrAbsolutePathOutsideProject = errors.New("absolute path outside project")
)

// defaultAllowedCommands is the exact-match allowlist of known-safe
// executables.
var defaultAllowedCommands = []string{
	"go", "gofmt", "git", "make",
	"ls", "cat", "head", "tail", "wc",
	"grep", "rg", "find", "diff", "sort", "uniq",
	"echo", "pwd", "which", "env",
	"node", "npm", "npx", "yarn",
	"python", "python3", "pip", "pip3",
	"cargo", "rustc",
	"docker", "kubectl",
	"curl", "tar", "gzip", "unzip",
}

// blockedInterpreters are shell binaries that are rejected even if a
// deployment adds them to the allowlist.
var blockedInterpreters = []string{
	"sh", "bash", "zsh", "fish", "dash", "ksh", "csh", "tcsh",
	"cmd", "cmd.exe", "powershell", "powershell.exe", "pwsh",
}

// safeAbsolutePaths are the only absolute paths permitted as arguments
// regardless of project root.
var safeAbsolutePaths = []string{
	"/dev/null",
	"/dev/zero",
	"/dev/stdin",
	"/dev/stdout",
	"/dev/stderr",
}

// Validator checks commands against allow/deny lists. Stateless after
// construction; safe for concurrent use without locking.
type Validator struct {
	allowed map[string]bool
	blocked map[string]bool
}

// NewValidator builds a validator from the default lists.
func NewValidator() *Validator {
	return NewValidatorWithLists(nil, nil)
}

// NewValidatorWithLists builds a validator with extra allow/deny entries on
// top of the defaults. Denied interpreters cannot be un-blocked.
func NewValidatorWithLists(extraAllowed, extraBlocked []string) *Validator {
	allowed := make(map[string]bool, len(defaultAllowedCommands)+len(extraAllowed))
	for _, c := range defaultAllowedCommands {
		allowed[c] = true
	}
	for _, c := range extraAllowed {
		allowed[c] = true
	}

	blocked := make(map[string]bool, len(blockedInterpreters)+len(extraBlocked))
	for _, c := range blockedInterpreters {
		blocked[c] = true
	}
	for _, c := range extraBlocked {
		blocked[c] = true
	}

	return &Validator{allowed: allowed, blocked: blocked}
}

// ValidateCommand checks the executable name. The name is reduced to its
// base so "/usr/bin/bash" and "bash" are judged identically.
func (v *Validator) ValidateCommand(name string) error {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(name)))
	if base == "" || base == "." {
		return fmt.Errorf("%w: empty command", ErrNotAllowed)
	}

	// Interpreter check runs first: a blocked shell stays blocked even if a
	// deployment allowlists it.
	if v.blocked[base] {
		logging.Command("blocked interpreter: %s", name)
		return fmt.Errorf("%w: %s", ErrInterpreterBlocked, base)
	}
	if !v.allowed[base] {
		logging.CommandDebug("executable not allowlisted: %s", name)
		return fmt.Errorf("%w: %s", ErrNotAllowed, base)
	}
	return nil
}

// ArgError reports which argument failed validation.
type ArgError struct {
	Arg string
	Err error
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Arg)
}

func (e *ArgError) Unwrap() error {
	return e.Err
}

// ValidateArgs scans arguments for path escapes. Any traversal token fails;
// absolute paths fail unless they are on the safe-path list or under the
// project root.
func (v *Validator) ValidateArgs(args []string, projectRoot string) error {
	canonicalRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return fmt.Errorf("cannot resolve project root: %w", err)
	}

	for _, arg := range args {
		if containsTraversal(arg) {
			logging.Command("rejected arg with traversal: %q", arg)
			return &ArgError{Arg: arg, Err: ErrPathTraversal}
		}

		if !filepath.IsAbs(arg) {
			continue
		}
		if isSafeAbsolutePath(arg) {
			continue
		}
		cleaned := filepath.Clean(arg)
		if cleaned == canonicalRoot || strings.HasPrefix(cleaned, canonicalRoot+string(filepath.Separator)) {
			continue
		}
		logging.Command("rejected absolute path arg outside project: %q", arg)
		return &ArgError{Arg: arg, Err: ErrAbsolutePathOutsideProject}
	}
	return nil
}

func containsTraversal(arg string) bool {
	normalized := filepath.ToSlash(arg)
	if normalized == ".." {
		return true
	}
	return strings.Contains(normalized, "../") || strings.HasSuffix(normalized, "/..")
}

func isSafeAbsolutePath(arg string) bool {
	for _, p := range safeAbsolutePaths {
		if arg == p {
			return true
		}
	}
	return false
}
