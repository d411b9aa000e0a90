package deltacache

import (
	"log/slog"
	"time"

	"github.com/Azure/adu-delta-cache/patch"
	"github.com/Azure/adu-delta-cache/store"
)

// Option configures an Updater.
type Option func(*Updater) error

// WithStore uses an existing content store as the source cache.
func WithStore(s *store.Store) Option {
	return func(u *Updater) error {
		u.store = s
		return nil
	}
}

// WithCacheDir opens (creating if needed) a content store rooted at dir.
func WithCacheDir(dir string, opts ...store.Option) Option {
	return func(u *Updater) error {
		s, err := store.New(dir, opts...)
		if err != nil {
			return err
		}
		u.store = s
		return nil
	}
}

// WithApplier sets the diff applier. Defaults to in-process bspatch.
func WithApplier(a patch.Applier) Option {
	return func(u *Updater) error {
		u.applier = a
		return nil
	}
}

// WithInstaller sets the platform installer invoked with verified images.
func WithInstaller(i Installer) Option {
	return func(u *Updater) error {
		u.installer = i
		return nil
	}
}

// WithWorkDir sets the directory for per-attempt scratch files
// (decompressed diffs, reconstructed candidates). Defaults to the system
// temp directory. Reconstruction writes a full image here, so place it on
// a filesystem with room for one.
func WithWorkDir(dir string) Option {
	return func(u *Updater) error {
		u.workDir = dir
		return nil
	}
}

// WithApplyTimeout bounds a single diff application. Zero means no bound
// beyond the caller's context. Timing out is reported as patch failure.
func WithApplyTimeout(d time.Duration) Option {
	return func(u *Updater) error {
		u.applyTimeout = d
		return nil
	}
}

// WithInstallTimeout bounds a single installer invocation. Zero means no
// bound beyond the caller's context.
func WithInstallTimeout(d time.Duration) Option {
	return func(u *Updater) error {
		u.installTimeout = d
		return nil
	}
}

// WithLogger sets the logger for step tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) error {
		u.logger = logger
		return nil
	}
}
