package command

import (
	"errors"
	"testing"
)

func TestValidateCommandAllowlist(t *testing.T) {
	v := NewValidator()

	for _, name := range []string{"go", "git", "grep", "ls"} {
		if err := v.ValidateCommand(name); err != nil {
			t.Errorf("ValidateCommand(%q) = %v, want nil", name, err)
		}
	}

	for _, name := range []string{"nmap", "nc", "mystery-binary"} {
		err := v.ValidateCommand(name)
		if !errors.Is(err, ErrNotAllowed) {
			t.Errorf("ValidateCommand(%q) = %v, want ErrNotAllowed", name, err)
		}
	}
}

func TestShellInterpretersAlwaysBlocked(t *testing.T) {
	// Even an explicit allowlist entry must not unblock a shell.
	v := NewValidatorWithLists([]string{"bash", "sh"}, nil)

	tests := []string{"sh", "bash", "zsh", "/bin/bash", "/usr/bin/sh", "BASH", "powershell.exe"}
	for _, name := range tests {
		err := v.ValidateCommand(name)
		if !errors.Is(err, ErrInterpreterBlocked) {
			t.Errorf("ValidateCommand(%q) = %v, want ErrInterpreterBlocked", name, err)
		}
	}
}

func TestValidateCommandBasename(t *testing.T) {
	v := NewValidator()

	if err := v.ValidateCommand("/usr/local/bin/go"); err != nil {
		t.Errorf("full path to allowed binary should pass: %v", err)
	}
}

func TestCustomLists(t *testing.T) {
	v := NewValidatorWithLists([]string{"terraform"}, []string{"curl"})

	if err := v.ValidateCommand("terraform"); err != nil {
		t.Errorf("extra allowed entry rejected: %v", err)
	}
	if err := v.ValidateCommand("curl"); err == nil {
		t.Error("extra blocked entry should be rejected")
	}
}

func TestValidateArgsTraversal(t *testing.T) {
	v := NewValidator()

	tests := [][]string{
		{"../../etc/passwd"},
		{"-f", "a/../../b"},
		{"src/.."},
		{".."},
	}
	for _, args := range tests {
		err := v.ValidateArgs(args, "/proj")
		if !errors.Is(err, ErrPathTraversal) {
			t.Errorf("ValidateArgs(%v) = %v, want ErrPathTraversal", args, err)
		}
		var argErr *ArgError
		if !errors.As(err, &argErr) {
			t.Errorf("ValidateArgs(%v) should return *ArgError", args)
		}
	}
}

func TestValidateArgsAbsolutePaths(t *testing.T) {
	v := NewValidator()

	// Under project root: fine.
	if err := v.ValidateArgs([]string{"/proj/src/main.go"}, "/proj"); err != nil {
		t.Errorf("path under project should pass: %v", err)
	}

	// Safe system paths: fine.
	if err := v.ValidateArgs([]string{"/dev/null"}, "/proj"); err != nil {
		t.Errorf("/dev/null should pass: %v", err)
	}

	// Anything else absolute: rejected.
	err := v.ValidateArgs([]string{"/etc/shadow"}, "/proj")
	if !errors.Is(err, ErrAbsolutePathOutsideProject) {
		t.Errorf("outside path = %v, want ErrAbsolutePathOutsideProject", err)
	}

	// Prefix trickery must not pass: /project is not under /proj.
	err = v.ValidateArgs([]string{"/project/file"}, "/proj")
	if !errors.Is(err, ErrAbsolutePathOutsideProject) {
		t.Errorf("sibling prefix = %v, want ErrAbsolutePathOutsideProject", err)
	}
}

func TestValidateArgsPlainFlags(t *testing.T) {
	v := NewValidator()

	args := []string{"build", "-o", "bin/app", "--tags", "netgo", "./..."}
	if err := v.ValidateArgs(args, "/proj"); err != nil {
		t.Errorf("benign args rejected: %v", err)
	}
}
