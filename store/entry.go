package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Entry describes one cached blob. Entries are immutable once written.
// At most one entry exists per (provider, hash) pair.
type Entry struct {
	Provider string
	Version  string
	Digest   digest.Digest
	Size     int64
	CachedAt time.Time
}

// metaRecord is the on-disk sidecar format. The hash field holds the hex
// encoding without an algorithm prefix; algorithm is recorded separately.
type metaRecord struct {
	Provider  string    `json:"provider"`
	Version   string    `json:"version"`
	Hash      string    `json:"hash"`
	Algorithm string    `json:"algorithm"`
	CachedAt  time.Time `json:"cached_at"`
	Size      int64     `json:"size"`
}

func (s *Store) writeMeta(entry Entry) error {
	record := metaRecord{
		Provider:  entry.Provider,
		Version:   entry.Version,
		Hash:      entry.Digest.Encoded(),
		Algorithm: string(entry.Digest.Algorithm()),
		CachedAt:  entry.CachedAt,
		Size:      entry.Size,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode meta: %w", err)
	}
	data = append(data, '\n')

	path := s.blobPath(entry.Provider, entry.Digest) + metaSuffix
	tmp, err := os.CreateTemp(filepath.Dir(path), "meta-*")
	if err != nil {
		return fmt.Errorf("store: create meta temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: write meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: close meta: %w", err)
	}
	if err := os.Chmod(tmpPath, s.filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: chmod meta: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: rename meta: %w", err)
	}
	return nil
}

func readMeta(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var record metaRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return Entry{}, fmt.Errorf("store: decode meta %s: %w", path, err)
	}
	alg := digest.Algorithm(record.Algorithm)
	if !alg.Available() {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, record.Algorithm)
	}
	dgst := digest.NewDigestFromEncoded(alg, record.Hash)
	if err := dgst.Validate(); err != nil {
		return Entry{}, fmt.Errorf("store: invalid hash in meta %s: %w", path, err)
	}
	return Entry{
		Provider: record.Provider,
		Version:  record.Version,
		Digest:   dgst,
		Size:     record.Size,
		CachedAt: record.CachedAt,
	}, nil
}

// blobName returns the on-disk file name for a digest: "sha256-<hex>".
func blobName(dgst digest.Digest) string {
	return string(dgst.Algorithm()) + "-" + dgst.Encoded()
}

func parseBlobName(name string) (digest.Digest, bool) {
	alg, hex, ok := strings.Cut(name, "-")
	if !ok {
		return "", false
	}
	dgst := digest.NewDigestFromEncoded(digest.Algorithm(alg), hex)
	if dgst.Validate() != nil {
		return "", false
	}
	return dgst, true
}
