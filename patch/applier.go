// Package patch applies binary diffs to cached source images to reconstruct
// target images. Applying a diff is deterministic: the same source and diff
// always produce byte-identical output. On any failure the partial target
// file is removed; callers never observe partial output.
package patch

import (
	"context"
	"errors"
)

// ErrPatch is returned when a diff cannot be applied (corrupt diff,
// incompatible source, failed or timed-out external tool).
var ErrPatch = errors.New("patch: apply failed")

// Applier reconstructs targetPath by applying the diff at diffPath to the
// source at sourcePath. Implementations must honor ctx cancellation and
// must not leave a partial target file behind on failure.
type Applier interface {
	Apply(ctx context.Context, sourcePath, diffPath, targetPath string) error
}
