package boundary

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"toolgate/internal/logging"
)

// AtomicRead validates path against projectRoot and reads it in a way that
// closes the window between validation and the read. The file is opened
// first, then the open descriptor is compared against a fresh lstat of the
// path; a symlink swapped in after validation shows up as a mismatch and
// fails with ErrSymlinkEscapesBoundary.
func AtomicRead(path, projectRoot string) ([]byte, error) {
	resolved, err := Validate(path, projectRoot)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	if err := verifyOpenedFile(f, resolved); err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	if info.Size() > MaxReadSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxReadSize+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if int64(len(data)) > MaxReadSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, path)
	}

	logging.BoundaryDebug("atomic read %s (%d bytes)", resolved, len(data))
	return data, nil
}

// AtomicWrite validates path against projectRoot and writes content through
// a temp file in the same directory, renamed over the target. The target is
// re-checked by lstat immediately before the rename so a symlink swapped in
// after validation cannot redirect the write.
func AtomicWrite(path, projectRoot string, content []byte) error {
	if int64(len(content)) > MaxWriteSize {
		return fmt.Errorf("%w: %d bytes", ErrContentTooLarge, len(content))
	}

	resolved, err := Validate(path, projectRoot)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".toolgate-write-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot close temp file: %w", err)
	}

	// Re-check the target just before rename. A symlink planted here after
	// validation would make rename follow nothing (rename replaces the link
	// itself), but a directory or device swapped in deserves a hard error.
	if info, err := os.Lstat(resolved); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			logging.BoundaryWarn("symlink planted at %s between validation and write", resolved)
			return fmt.Errorf("%w: %s", ErrSymlinkEscapesBoundary, path)
		}
		if info.IsDir() {
			return fmt.Errorf("cannot write %s: is a directory", path)
		}
	}

	if err := os.Rename(tmpName, resolved); err != nil {
		return fmt.Errorf("cannot rename into place: %w", err)
	}

	logging.BoundaryDebug("atomic write %s (%d bytes)", resolved, len(content))
	return nil
}

// verifyOpenedFile compares the open descriptor against a fresh lstat of
// the same path. If the path now names a symlink, or a different file than
// the one opened, something was swapped between validation and open.
func verifyOpenedFile(f *os.File, path string) error {
	openedInfo, err := f.Stat()
	if err != nil {
		return fmt.Errorf("cannot stat open file: %w", err)
	}

	pathInfo, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("cannot lstat %s: %w", path, err)
	}
	if pathInfo.Mode()&os.ModeSymlink != 0 {
		logging.BoundaryWarn("symlink swapped in at %s after validation", path)
		return fmt.Errorf("%w: %s", ErrSymlinkEscapesBoundary, path)
	}
	if !os.SameFile(openedInfo, pathInfo) {
		logging.BoundaryWarn("inode changed under %s after open", path)
		return fmt.Errorf("%w: %s", ErrSymlinkEscapesBoundary, path)
	}
	return nil
}
