package deltacache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/Azure/adu-delta-cache/patch"
	"github.com/Azure/adu-delta-cache/plan"
)

// Request describes one update attempt.
type Request struct {
	// Provider is the cache namespace, the update's provider id.
	Provider string

	// TargetVersion is the version being installed.
	TargetVersion string

	// Candidates are the reconstruction paths the manifest offers, in
	// preference order. An empty list means the update ships no deltas.
	Candidates []plan.Candidate

	// DiffDir is the directory holding the downloaded diff blobs, named
	// as the candidates' Diff.Name.
	DiffDir string
}

// Update runs one attempt to completion and always returns a Result.
// No step is retried internally; retries belong to the orchestration
// layer above, and the whole sequence is idempotent from its perspective.
func (u *Updater) Update(ctx context.Context, req Request) *Result {
	res := &Result{
		AttemptID:     uuid.NewString(),
		Provider:      req.Provider,
		TargetVersion: req.TargetVersion,
		StartedAt:     time.Now().UTC(),
	}
	defer func() {
		res.FinishedAt = time.Now().UTC()
	}()

	log := u.log().With("attempt", res.AttemptID, "provider", req.Provider, "target_version", req.TargetVersion)

	if req.Provider == "" || req.TargetVersion == "" {
		return fail(res, KindStorage, errors.New("deltacache: provider and target version are required"))
	}

	// Plan.
	planner := plan.New(u.store, plan.WithLogger(u.logger))
	p, err := planner.Select(req.Provider, req.Candidates)
	if err != nil {
		if errors.Is(err, plan.ErrNoViablePlan) {
			log.Info("no cached source for any delta candidate, full image required")
			res.Outcome = OutcomeFullImageRequired
			res.Detail = err.Error()
			return res
		}
		return fail(res, KindStorage, err)
	}
	res.TargetDigest = p.Candidate.TargetDigest.String()
	res.SourceVersion = p.Source.Version
	res.SourceDigest = p.Source.Digest.String()
	res.DiffName = p.Candidate.Diff.Name
	log = log.With("source_version", p.Source.Version, "diff", p.Candidate.Diff.Name)

	workDir, err := os.MkdirTemp(orDefault(u.workDir, os.TempDir()), "delta-attempt-*")
	if err != nil {
		return fail(res, KindStorage, fmt.Errorf("deltacache: create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	// Reconstruct.
	log.Debug("reconstructing target image")
	targetPath, err := u.reconstruct(ctx, p, req.DiffDir, workDir)
	if err != nil {
		return fail(res, KindPatch, err)
	}

	// Verify before anything irreversible happens.
	actual, err := hashFile(targetPath)
	if err != nil {
		return fail(res, KindPatch, err)
	}
	if actual != p.Candidate.TargetDigest {
		return fail(res, KindIntegrity, fmt.Errorf(
			"deltacache: reconstructed image hash %s does not match expected %s", actual, p.Candidate.TargetDigest))
	}
	log.Debug("reconstructed image verified", "digest", actual)

	// Install.
	installCtx, cancel := withTimeout(ctx, u.installTimeout)
	err = u.installer.Install(installCtx, targetPath)
	cancel()
	if err != nil {
		return fail(res, KindInstall, err)
	}
	res.Installed = true
	log.Info("image installed")

	// Cache the installed image so the next update can be a delta.
	// Failure here is fatal to the attempt even though the install
	// succeeded: an unseeded cache silently breaks the next delta.
	entry, err := u.store.PutFile(req.Provider, req.TargetVersion, targetPath)
	if err != nil {
		return fail(res, KindCaching, err)
	}
	if err := u.store.Verify(req.Provider, entry.Digest); err != nil {
		return fail(res, KindCacheVerification, err)
	}
	log.Info("installed image cached", "digest", entry.Digest)

	res.Outcome = OutcomeUpdated
	return res
}

// reconstruct verifies the downloaded diff against the manifest's record,
// normalizes it, and applies it to the cached source. Any partial output
// lives in workDir and is removed with it.
func (u *Updater) reconstruct(ctx context.Context, p *plan.Plan, diffDir, workDir string) (string, error) {
	diffPath := filepath.Join(diffDir, p.Candidate.Diff.Name)
	if err := verifyDiff(diffPath, p.Candidate.Diff); err != nil {
		return "", err
	}

	rawDiff, err := patch.NormalizeDiff(diffPath, workDir)
	if err != nil {
		return "", err
	}

	sourcePath, err := u.store.Path(p.Source.Provider, p.Source.Digest)
	if err != nil {
		return "", fmt.Errorf("%w: cached source vanished: %v", patch.ErrPatch, err)
	}

	targetPath := filepath.Join(workDir, "reconstructed.img")
	applyCtx, cancel := withTimeout(ctx, u.applyTimeout)
	defer cancel()
	if err := u.applier.Apply(applyCtx, sourcePath, rawDiff, targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// verifyDiff checks the downloaded diff blob against the size and hash the
// manifest recorded for it.
func verifyDiff(diffPath string, ref plan.DiffRef) error {
	fi, err := os.Stat(diffPath)
	if err != nil {
		return fmt.Errorf("%w: diff blob %s: %v", patch.ErrPatch, ref.Name, err)
	}
	if ref.Size > 0 && fi.Size() != ref.Size {
		return fmt.Errorf("%w: diff blob %s is %d bytes, manifest says %d",
			patch.ErrPatch, ref.Name, fi.Size(), ref.Size)
	}
	if ref.Digest != "" {
		actual, err := hashFile(diffPath)
		if err != nil {
			return err
		}
		if actual != ref.Digest {
			return fmt.Errorf("%w: diff blob %s hash %s does not match manifest %s",
				patch.ErrPatch, ref.Name, actual, ref.Digest)
		}
	}
	return nil
}

func hashFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("deltacache: open %s: %w", path, err)
	}
	defer f.Close()
	dgst, err := digest.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("deltacache: hash %s: %w", path, err)
	}
	return dgst, nil
}

func fail(res *Result, kind ErrorKind, err error) *Result {
	res.Outcome = OutcomeFailed
	res.ErrorKind = kind
	res.Detail = err.Error()
	return res
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
