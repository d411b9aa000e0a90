// Package manifest parses Device Update import manifests (schema v5) far
// enough to drive delta reconstruction: the payload file's hash, the
// ordered list of delta candidates in relatedFiles, and the handler
// markers that control source caching.
package manifest

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"

	"github.com/Azure/adu-delta-cache/plan"
)

// ErrInvalidManifest is returned when a manifest cannot be parsed or lacks
// required fields.
var ErrInvalidManifest = errors.New("manifest: invalid import manifest")

// Handler ids and file properties used by the delta download handler.
const (
	DeltaHandlerID = "microsoft/delta:1"

	SourceHashProperty          = "microsoft.sourceFileHash"
	SourceHashAlgorithmProperty = "microsoft.sourceFileHashAlgorithm"
)

// ImportManifest is an import manifest, schema version 5.0. Instruction
// steps are carried opaquely; this package only interprets update identity
// and file records.
type ImportManifest struct {
	Schema          string          `json:"$schema,omitempty"`
	ManifestVersion string          `json:"manifestVersion"`
	UpdateID        UpdateID        `json:"updateId"`
	Compatibility   json.RawMessage `json:"compatibility,omitempty"`
	Instructions    json.RawMessage `json:"instructions,omitempty"`
	Files           []File          `json:"files"`
	CreatedDateTime string          `json:"createdDateTime,omitempty"`
}

// UpdateID identifies an update: provider namespace, update name, version.
type UpdateID struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Version  string `json:"version"`
}

// File is one payload file record. Hashes map algorithm name to a
// base64-encoded digest, per the import manifest schema.
type File struct {
	Filename        string            `json:"filename"`
	SizeInBytes     int64             `json:"sizeInBytes"`
	Hashes          map[string]string `json:"hashes"`
	RelatedFiles    []RelatedFile     `json:"relatedFiles,omitempty"`
	DownloadHandler *Handler          `json:"downloadHandler,omitempty"`
	DeltaHandler    *Handler          `json:"deltaHandler,omitempty"`
}

// RelatedFile is a delta blob published alongside a payload file.
type RelatedFile struct {
	Filename    string            `json:"filename"`
	SizeInBytes int64             `json:"sizeInBytes"`
	Hashes      map[string]string `json:"hashes"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Handler names a download or delta handler by id.
type Handler struct {
	ID string `json:"id"`
}

// Parse decodes an import manifest from r.
func Parse(r io.Reader) (*ImportManifest, error) {
	var m ImportManifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.UpdateID.Provider == "" || m.UpdateID.Version == "" {
		return nil, fmt.Errorf("%w: missing updateId provider or version", ErrInvalidManifest)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidManifest)
	}
	return &m, nil
}

// ParseFile decodes an import manifest from the file at path.
func ParseFile(path string) (*ImportManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Payload returns the file record carrying the update image: the first
// file with related delta files or a delta handler marker, falling back to
// the first file.
func (m *ImportManifest) Payload() *File {
	for i := range m.Files {
		f := &m.Files[i]
		if len(f.RelatedFiles) > 0 || f.DeltaHandler != nil || f.DownloadHandler != nil {
			return f
		}
	}
	return &m.Files[0]
}

// ShouldCache reports whether the payload carries the delta handler marker
// telling the agent to seed the source cache after a successful install.
func (m *ImportManifest) ShouldCache() bool {
	p := m.Payload()
	return p.DeltaHandler != nil && p.DeltaHandler.ID != ""
}

// DeltaCandidates returns the payload's delta candidates as reconstruction
// candidates, preserving relatedFiles order. The manifest's base64 hashes
// are converted to digests. Returns an empty slice when the update ships
// no deltas.
func (m *ImportManifest) DeltaCandidates() ([]plan.Candidate, error) {
	payload := m.Payload()
	targetDigest, err := fileDigest(payload.Hashes)
	if err != nil {
		return nil, fmt.Errorf("%w: payload %s: %v", ErrInvalidManifest, payload.Filename, err)
	}

	var candidates []plan.Candidate
	for _, rf := range payload.RelatedFiles {
		diffDigest, err := fileDigest(rf.Hashes)
		if err != nil {
			return nil, fmt.Errorf("%w: related file %s: %v", ErrInvalidManifest, rf.Filename, err)
		}
		sourceB64, ok := rf.Properties[SourceHashProperty]
		if !ok {
			return nil, fmt.Errorf("%w: related file %s: missing %s", ErrInvalidManifest, rf.Filename, SourceHashProperty)
		}
		alg := rf.Properties[SourceHashAlgorithmProperty]
		if alg == "" {
			alg = "sha256"
		}
		sourceDigest, err := base64Digest(alg, sourceB64)
		if err != nil {
			return nil, fmt.Errorf("%w: related file %s: %v", ErrInvalidManifest, rf.Filename, err)
		}
		candidates = append(candidates, plan.Candidate{
			TargetVersion: m.UpdateID.Version,
			TargetDigest:  targetDigest,
			SourceDigest:  sourceDigest,
			Diff: plan.DiffRef{
				Name:   rf.Filename,
				Digest: diffDigest,
				Size:   rf.SizeInBytes,
			},
		})
	}
	return candidates, nil
}

func fileDigest(hashes map[string]string) (digest.Digest, error) {
	for alg, b64 := range hashes {
		if alg == "sha256" {
			return base64Digest(alg, b64)
		}
	}
	return "", errors.New("no sha256 hash")
}

// base64Digest converts the manifest's base64 hash encoding to a digest.
func base64Digest(alg, b64 string) (digest.Digest, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode base64 hash: %w", err)
	}
	dgst := digest.NewDigestFromEncoded(digest.Algorithm(alg), hex.EncodeToString(raw))
	if err := dgst.Validate(); err != nil {
		return "", fmt.Errorf("invalid %s hash: %w", alg, err)
	}
	return dgst, nil
}
