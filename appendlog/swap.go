package appendlog

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
)

// SwapMode decides how a compacted file replaces the log
type SwapMode int

const (
	// SwapBackup renames <path> to <path>.old, <path>.new to <path>
	// and then deletes <path>.old. Doesn't assume rename can replace
	// an existing file.
	SwapBackup SwapMode = iota
	// SwapReplace renames <path>.new over <path> in one step.
	// Atomic on POSIX file systems.
	SwapReplace
)

func (m SwapMode) String() string {
	switch m {
	case SwapBackup:
		return "backup"
	case SwapReplace:
		return "replace"
	}
	return fmt.Sprintf("SwapMode(%d)", int(m))
}

// ParseSwapMode parses "backup" or "replace". Empty string is SwapBackup.
func ParseSwapMode(s string) (SwapMode, error) {
	switch s {
	case "", "backup":
		return SwapBackup, nil
	case "replace":
		return SwapReplace, nil
	}
	return SwapBackup, fmt.Errorf("unknown swap mode '%s', must be 'backup' or 'replace'", s)
}

// NewPath is where Compact() writes the compacted file
func NewPath(path string) string {
	return path + ".new"
}

// OldPath is where SwapBackup keeps the previous file during the swap
func OldPath(path string) string {
	return path + ".old"
}

func fileExists(path string) bool {
	st, err := os.Lstat(path)
	return err == nil && st.Mode().IsRegular()
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Swap installs <path>.new as <path>
func Swap(path string, mode SwapMode) error {
	newPath := NewPath(path)
	oldPath := OldPath(path)
	if !fileExists(newPath) {
		return fmt.Errorf("swap: '%s' doesn't exist", newPath)
	}
	dir := filepath.Dir(path)

	if mode == SwapReplace {
		if err := os.Rename(newPath, path); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		syncDir(dir)
		return nil
	}

	// left-over from a previous swap
	if err := removeIfExists(oldPath); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := os.Rename(path, oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := os.Rename(newPath, path); err != nil {
		// try to put the original back
		_ = os.Rename(oldPath, path)
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	syncDir(dir)
	// the backup is only deleted once the new file is in place
	if err := removeIfExists(oldPath); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Compact writes entries to <path>.new and swaps it in place of <path>.
// The log at path must be closed. Returns number of records written.
func Compact(path string, entries iter.Seq2[string, string], mode SwapMode) (int, error) {
	n, err := WriteSnapshot(NewPath(path), entries)
	if err != nil {
		return 0, err
	}
	if err = Swap(path, mode); err != nil {
		return 0, err
	}
	return n, nil
}

// RecoverSwap finishes or undoes a swap interrupted by a crash.
// <path>.new only exists after it was fully written and synced so if
// it's there, it's complete.
// Returns a description of what was done, empty string if nothing.
func RecoverSwap(path string) (string, error) {
	newPath := NewPath(path)
	oldPath := OldPath(path)
	hasCurr := fileExists(path)
	hasNew := fileExists(newPath)
	hasOld := fileExists(oldPath)

	var action string
	var err error
	switch {
	case hasCurr && (hasOld || hasNew):
		// crashed before the swap started or after .new was installed,
		// current file is complete either way
		action = "removed left-over files"
		err = removeIfExists(oldPath)
		if err == nil {
			err = removeIfExists(newPath)
		}
	case hasNew:
		// crashed between renames
		action = fmt.Sprintf("installed '%s'", newPath)
		err = os.Rename(newPath, path)
		if err == nil {
			err = removeIfExists(oldPath)
		}
	case hasOld:
		// crashed after moving current away but .new is gone. shouldn't
		// happen but the backup is the best we have
		action = fmt.Sprintf("restored '%s'", oldPath)
		err = os.Rename(oldPath, path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: recover swap of '%s': %w", ErrIO, path, err)
	}
	if action != "" {
		syncDir(filepath.Dir(path))
	}
	return action, nil
}
