package patch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExecTool invokes an external patch binary as a subprocess. The tool is
// expected to follow the bspatch calling convention,
//
//	<tool> [args...] <source> <target> <diff>
//
// and exit 0 on success. Cancellation or timeout of ctx kills the process
// and is reported the same as tool failure.
type ExecTool struct {
	// Path is the tool binary, e.g. "bspatch". Resolved via $PATH when
	// not absolute.
	Path string

	// Args are extra arguments placed before the positional file paths.
	Args []string
}

// Apply implements Applier.
func (t ExecTool) Apply(ctx context.Context, sourcePath, diffPath, targetPath string) error {
	if t.Path == "" {
		return fmt.Errorf("%w: tool path is empty", ErrPatch)
	}

	args := make([]string, 0, len(t.Args)+3)
	args = append(args, t.Args...)
	args = append(args, sourcePath, targetPath, diffPath)

	cmd := exec.CommandContext(ctx, t.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(targetPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrPatch, t.Path, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s: %v: %s", ErrPatch, t.Path, err, lastLine(msg))
		}
		return fmt.Errorf("%w: %s: %v", ErrPatch, t.Path, err)
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
