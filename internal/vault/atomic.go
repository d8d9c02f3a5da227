package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/werserk/kira/internal/types"
)

// atomicWrite stages content into a temp file next to target, fsyncs, and
// renames over the target. Failures before the rename leave no artifact at
// the target path; a failed rename leaves the temp file for recovery and
// surfaces as CommitFailedError. The rename is retried exactly once after
// removing any stale temp left by a previous crash. preRename, when
// non-nil, runs between staging and rename (crash injection in tests).
func atomicWrite(target string, content []byte, preRename func() error) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", target, err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to stage %s: %w", target, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if preRename != nil {
		if err := preRename(); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		// Transient EEXIST from a crashed writer's leftovers: retry exactly
		// once. A second failure is fatal; the temp file stays for recovery.
		if retryErr := os.Rename(tmp, target); retryErr != nil {
			return &types.CommitFailedError{Path: target, Err: retryErr}
		}
	}

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
