package patch

import (
	"context"
	"fmt"
	"os"

	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Bspatch applies bsdiff4-format diffs in process. It needs no external
// tooling, at the cost of holding source, diff, and target in memory.
type Bspatch struct{}

// Apply implements Applier.
func (Bspatch) Apply(ctx context.Context, sourcePath, diffPath, targetPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPatch, err)
	}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: read source: %v", ErrPatch, err)
	}
	diff, err := os.ReadFile(diffPath)
	if err != nil {
		return fmt.Errorf("%w: read diff: %v", ErrPatch, err)
	}

	target, err := bspatch.Bytes(source, diff)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPatch, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPatch, err)
	}
	if err := os.WriteFile(targetPath, target, 0o644); err != nil {
		_ = os.Remove(targetPath)
		return fmt.Errorf("%w: write target: %v", ErrPatch, err)
	}
	return nil
}
