package deltacache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Outcome is the terminal state of one update attempt.
type Outcome string

const (
	// OutcomeUpdated means the image was reconstructed, installed, and
	// cached for the next delta.
	OutcomeUpdated Outcome = "updated"

	// OutcomeFullImageRequired means no reconstruction path was viable;
	// the caller must acquire the full target image. Not a failure.
	OutcomeFullImageRequired Outcome = "full-image-required"

	// OutcomeFailed means the attempt failed; ErrorKind says where.
	OutcomeFailed Outcome = "failed"
)

// ErrorKind classifies a failed attempt. Every failure maps to exactly one
// kind at the step where it occurred.
type ErrorKind string

const (
	// KindStorage: cache I/O failed (permissions, disk full). Fatal to
	// the attempt, never retried internally.
	KindStorage ErrorKind = "storage_error"

	// KindPatch: the diff could not be applied or failed its own
	// verification. The caller falls back to a full image.
	KindPatch ErrorKind = "patch_error"

	// KindIntegrity: the reconstructed image did not match the expected
	// target hash. The candidate is discarded, never installed.
	KindIntegrity ErrorKind = "integrity_mismatch"

	// KindInstall: the external installer failed. No caching attempted.
	KindInstall ErrorKind = "install_failed"

	// KindCaching: the image installed but could not be cached. The
	// device is updated yet not delta-ready; operators must re-seed.
	KindCaching ErrorKind = "caching_failed"

	// KindCacheVerification: the freshly cached image failed its
	// integrity check. Same operator impact as KindCaching.
	KindCacheVerification ErrorKind = "cache_verification_failed"
)

// Result is the structured record every update attempt produces. It is the
// external contract consumers depend on.
type Result struct {
	AttemptID     string    `json:"attemptId"`
	Provider      string    `json:"provider"`
	TargetVersion string    `json:"targetVersion"`
	TargetDigest  string    `json:"targetDigest,omitempty"`
	SourceVersion string    `json:"sourceVersion,omitempty"`
	SourceDigest  string    `json:"sourceDigest,omitempty"`
	DiffName      string    `json:"diffName,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Installed     bool      `json:"installed"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// Ok reports whether the attempt ended in a non-failure outcome.
func (r *Result) Ok() bool {
	return r.Outcome != OutcomeFailed
}

// WriteFile persists the result record as JSON, atomically.
func (r *Result) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("deltacache: encode result: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "result-*")
	if err != nil {
		return fmt.Errorf("deltacache: create result temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("deltacache: write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("deltacache: close result: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("deltacache: rename result: %w", err)
	}
	return nil
}
