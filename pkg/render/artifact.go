package render

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/provisr/provisr/pkg/executor"
)

// WriteArtifact places rendered text at path on the backend host: an atomic
// write (temp file plus single rename on the same filesystem), then
// ownership, then permission bits, in that order. Skipping an existing final
// path is the caller's responsibility via the idempotency guard.
func WriteArtifact(ctx context.Context, backend executor.Backend, path, text, owner string, mode fs.FileMode) error {
	if err := backend.WriteFileAtomic(ctx, path, []byte(text), mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if owner != "" {
		chown := fmt.Sprintf("chown %s:%s %s", owner, owner, path)
		if _, err := backend.Run(ctx, chown, executor.RunOptions{Elevate: true}); err != nil {
			return err
		}
	}

	chmod := fmt.Sprintf("chmod %o %s", mode.Perm(), path)
	if _, err := backend.Run(ctx, chmod, executor.RunOptions{Elevate: true}); err != nil {
		return err
	}
	return nil
}
