package deltacache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Azure/adu-delta-cache/patch"
	"github.com/Azure/adu-delta-cache/store"
)

// Installer hands a verified image to the platform's update mechanism.
// The engine treats installation as an opaque external operation: a nil
// return means the image is committed to the inactive slot.
type Installer interface {
	Install(ctx context.Context, imagePath string) error
}

// Updater drives one update attempt end to end: plan, reconstruct, verify,
// install, cache, verify cache. Exactly one update installs at a time per
// device; Updater assumes that precondition rather than enforcing it.
type Updater struct {
	store     *store.Store
	applier   patch.Applier
	installer Installer

	workDir        string
	applyTimeout   time.Duration
	installTimeout time.Duration
	logger         *slog.Logger
}

// New creates an Updater. A store (WithStore or WithCacheDir) and an
// installer are required; the applier defaults to in-process bspatch.
func New(opts ...Option) (*Updater, error) {
	u := &Updater{}
	for _, opt := range opts {
		if err := opt(u); err != nil {
			return nil, err
		}
	}
	if u.store == nil {
		return nil, errors.New("deltacache: no store configured")
	}
	if u.installer == nil {
		return nil, errors.New("deltacache: no installer configured")
	}
	if u.applier == nil {
		u.applier = patch.Bspatch{}
	}
	return u, nil
}

// Store returns the updater's source cache.
func (u *Updater) Store() *store.Store {
	return u.store
}

func (u *Updater) log() *slog.Logger {
	if u.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return u.logger
}
