package boundary

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidateRelativeInsideRoot(t *testing.T) {
	root := t.TempDir()

	resolved, err := Validate("src/main.go", root)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !strings.HasSuffix(resolved, filepath.Join("src", "main.go")) {
		t.Errorf("resolved = %s", resolved)
	}
}

func TestValidateRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	tests := []string{
		"../../etc/passwd",
		"..",
		"a/../../b",
		"src/../../../etc/shadow",
		"./../x",
	}
	for _, p := range tests {
		_, err := Validate(p, root)
		if !errors.Is(err, ErrEscapesBoundary) {
			t.Errorf("Validate(%q) = %v, want ErrEscapesBoundary", p, err)
		}
	}
}

func TestValidateRejectsAbsoluteOutside(t *testing.T) {
	root := t.TempDir()

	_, err := Validate("/etc/hosts", root)
	if !errors.Is(err, ErrOutsideBoundary) {
		t.Errorf("Validate(/etc/hosts) = %v, want ErrOutsideBoundary", err)
	}
}

func TestValidateAcceptsAbsoluteInside(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "data.txt")

	resolved, err := Validate(inside, root)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	canonical, _ := filepath.EvalSymlinks(root)
	if !strings.HasPrefix(resolved, canonical) {
		t.Errorf("resolved %s not under root %s", resolved, canonical)
	}
}

func TestValidateNoSyscallOnTraversalInput(t *testing.T) {
	// Root deliberately does not exist: if the traversal check ran after
	// canonicalization, Validate would fail on the root instead.
	_, err := Validate("../escape", "/nonexistent-root-for-test")
	if !errors.Is(err, ErrEscapesBoundary) {
		t.Errorf("traversal must be rejected before filesystem access, got %v", err)
	}
}

func TestValidateSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test requires unix")
	}
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	_, err := Validate("sneaky/target.txt", root)
	if !errors.Is(err, ErrSymlinkEscapesBoundary) {
		t.Errorf("Validate through escaping symlink = %v, want ErrSymlinkEscapesBoundary", err)
	}
}

func TestValidateSymlinkInsideRootOk(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test requires unix")
	}
	root := t.TempDir()

	target := filepath.Join(root, "real")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "alias")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	if _, err := Validate("alias/file.txt", root); err != nil {
		t.Errorf("internal symlink should validate: %v", err)
	}
}

func TestValidateNonexistentTail(t *testing.T) {
	root := t.TempDir()

	// Deep path that doesn't exist yet must still validate (write paths).
	resolved, err := Validate("a/b/c/new.txt", root)
	if err != nil {
		t.Fatalf("Validate failed for nonexistent tail: %v", err)
	}
	if !strings.HasSuffix(resolved, filepath.Join("a", "b", "c", "new.txt")) {
		t.Errorf("resolved = %s", resolved)
	}
}

func TestAtomicWriteAndRead(t *testing.T) {
	root := t.TempDir()
	content := []byte("hello boundary")

	if err := AtomicWrite("notes/hello.txt", root, content); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	got, err := AtomicRead("notes/hello.txt", root)
	if err != nil {
		t.Fatalf("AtomicRead failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("read %q, want %q", got, content)
	}
}

func TestAtomicWriteSizeCeiling(t *testing.T) {
	root := t.TempDir()

	big := make([]byte, MaxWriteSize+1)
	err := AtomicWrite("big.bin", root, big)
	if !errors.Is(err, ErrContentTooLarge) {
		t.Errorf("oversized write = %v, want ErrContentTooLarge", err)
	}
}

func TestAtomicWriteReplacesExisting(t *testing.T) {
	root := t.TempDir()

	if err := AtomicWrite("f.txt", root, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWrite("f.txt", root, []byte("two")); err != nil {
		t.Fatal(err)
	}

	got, err := AtomicRead("f.txt", root)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Errorf("read %q, want %q", got, "two")
	}
}

func TestAtomicReadRejectsSwappedSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test requires unix")
	}
	root := t.TempDir()
	outside := t.TempDir()

	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	// Symlink present at open time: Validate resolves it outside the root.
	if err := os.Symlink(secret, filepath.Join(root, "f.txt")); err != nil {
		t.Fatal(err)
	}

	_, err := AtomicRead("f.txt", root)
	if !errors.Is(err, ErrSymlinkEscapesBoundary) {
		t.Errorf("read through symlink = %v, want ErrSymlinkEscapesBoundary", err)
	}
}

func TestAtomicWriteRefusesSymlinkTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test requires unix")
	}
	root := t.TempDir()
	outside := t.TempDir()

	victim := filepath.Join(outside, "victim.txt")
	if err := os.WriteFile(victim, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(victim, filepath.Join(root, "f.txt")); err != nil {
		t.Fatal(err)
	}

	err := AtomicWrite("f.txt", root, []byte("attack"))
	if !errors.Is(err, ErrSymlinkEscapesBoundary) {
		t.Errorf("write through symlink = %v, want ErrSymlinkEscapesBoundary", err)
	}

	got, _ := os.ReadFile(victim)
	if string(got) != "original" {
		t.Errorf("victim file was modified: %q", got)
	}
}
