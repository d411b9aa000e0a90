package deltacache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrInstall is returned when the external installer reports failure.
var ErrInstall = errors.New("deltacache: install failed")

// ExecInstaller invokes an external updater binary (swupdate, typically)
// as a subprocess, appending the image path to Args. Exit code 0 means the
// image is committed; anything else, including a killed process on context
// timeout, is an install failure.
type ExecInstaller struct {
	// Path is the installer binary, e.g. "swupdate".
	Path string

	// Args precede the image path, e.g. []string{"-i"}.
	Args []string
}

// Install implements Installer.
func (i ExecInstaller) Install(ctx context.Context, imagePath string) error {
	if i.Path == "" {
		return fmt.Errorf("%w: installer path is empty", ErrInstall)
	}

	args := make([]string, 0, len(i.Args)+1)
	args = append(args, i.Args...)
	args = append(args, imagePath)

	cmd := exec.CommandContext(ctx, i.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrInstall, i.Path, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s: %v: %s", ErrInstall, i.Path, err, msg)
		}
		return fmt.Errorf("%w: %s: %v", ErrInstall, i.Path, err)
	}
	return nil
}
