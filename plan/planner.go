// Package plan selects a reconstruction path for a target image version
// from the delta candidates a manifest offers and the sources currently
// cached on the device.
package plan

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/Azure/adu-delta-cache/store"
)

// ErrNoViablePlan is returned when no candidate's source image is cached.
// It is a normal outcome, not a failure: the caller falls back to a full
// image download.
var ErrNoViablePlan = errors.New("plan: no viable reconstruction path")

// DiffRef identifies a diff blob published alongside a target image.
type DiffRef struct {
	// Name is the diff file name as published in the manifest.
	Name string

	// Digest is the hash of the diff blob itself.
	Digest digest.Digest

	// Size is the diff blob size in bytes.
	Size int64
}

// Candidate describes one possible reconstruction path to a target version.
// Applying Diff to a blob whose hash equals SourceDigest must yield a blob
// whose hash equals TargetDigest; that contract is verified, not trusted.
type Candidate struct {
	TargetVersion string
	TargetDigest  digest.Digest

	// SourceVersion is informational; matching is by SourceDigest only.
	SourceVersion string
	SourceDigest  digest.Digest

	Diff DiffRef
}

// Validate reports whether the candidate carries everything a
// reconstruction attempt needs.
func (c Candidate) Validate() error {
	if c.TargetVersion == "" {
		return errors.New("plan: candidate target version is empty")
	}
	if err := c.TargetDigest.Validate(); err != nil {
		return fmt.Errorf("plan: candidate target digest: %w", err)
	}
	if err := c.SourceDigest.Validate(); err != nil {
		return fmt.Errorf("plan: candidate source digest: %w", err)
	}
	if c.Diff.Name == "" {
		return errors.New("plan: candidate diff name is empty")
	}
	return nil
}

// Plan is the chosen reconstruction path for one install attempt. It is
// ephemeral and never persisted.
type Plan struct {
	Candidate Candidate

	// Source is the cache entry whose content the diff applies to.
	Source store.Entry
}

// Planner chooses reconstruction paths against a content store.
type Planner struct {
	store  *store.Store
	logger *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger used for candidate tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a planner over the given store.
func New(s *store.Store, opts ...Option) *Planner {
	p := &Planner{store: s}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Select walks candidates in the caller-supplied order and returns a plan
// for the first one whose expected source hash is cached under provider.
// Candidate order encodes policy (nearest version first, typically); the
// planner applies no heuristic of its own. Returns ErrNoViablePlan when no
// candidate's source is cached.
func (p *Planner) Select(provider string, candidates []Candidate) (*Plan, error) {
	for i, c := range candidates {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		entry, err := p.store.Stat(provider, c.SourceDigest)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				p.log().Debug("source not cached",
					"provider", provider,
					"source_version", c.SourceVersion,
					"source_digest", c.SourceDigest)
				continue
			}
			return nil, err
		}
		p.log().Debug("selected reconstruction path",
			"provider", provider,
			"target_version", c.TargetVersion,
			"source_version", c.SourceVersion,
			"diff", c.Diff.Name)
		return &Plan{Candidate: c, Source: entry}, nil
	}
	return nil, fmt.Errorf("%w: provider %s, %d candidates", ErrNoViablePlan, provider, len(candidates))
}
