package deltacache

import (
	"github.com/Azure/adu-delta-cache/patch"
	"github.com/Azure/adu-delta-cache/plan"
	"github.com/Azure/adu-delta-cache/store"
)

// --- Re-exports from subpackages ---

// Entry describes one cached blob.
type Entry = store.Entry

// Candidate describes one possible reconstruction path.
type Candidate = plan.Candidate

// DiffRef identifies a diff blob published alongside a target image.
type DiffRef = plan.DiffRef

// Plan is the chosen reconstruction path for one install attempt.
type Plan = plan.Plan

// Applier reconstructs a target image from a source and a diff.
type Applier = patch.Applier

// Errors re-exported from subpackages.
var (
	// ErrNotFound is returned when no cache entry exists for a hash.
	ErrNotFound = store.ErrNotFound

	// ErrCorrupt is returned when cached content fails verification.
	ErrCorrupt = store.ErrCorrupt

	// ErrNoViablePlan signals fallback to a full image download.
	ErrNoViablePlan = plan.ErrNoViablePlan

	// ErrPatch is returned when a diff cannot be applied.
	ErrPatch = patch.ErrPatch
)
