// Package store implements the on-device source cache for delta updates:
// a content-addressed, provider-namespaced store of previously installed
// image blobs with JSON metadata sidecars.
//
// Layout on disk:
//
//	<root>/<provider>/sha256-<hex>       blob bytes
//	<root>/<provider>/sha256-<hex>.meta  {provider, version, hash, algorithm, cached_at, size}
//
// Entries are immutable once written. Writes go through a temp file in the
// destination directory and an atomic rename, so concurrent readers never
// observe a partially written entry.
package store

import (
	// Register sha512 so go-digest recognizes sha512 digests and
	// validateDigest can reject them with ErrUnsupportedAlgorithm.
	_ "crypto/sha512"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when no entry exists for the requested hash.
	ErrNotFound = errors.New("store: not found")

	// ErrCorrupt is returned when stored content does not match its recorded hash.
	ErrCorrupt = errors.New("store: content mismatch")

	// ErrInvalidProvider is returned when a provider name cannot be used as a directory.
	ErrInvalidProvider = errors.New("store: invalid provider")

	// ErrUnsupportedAlgorithm is returned for digests that are not sha256.
	ErrUnsupportedAlgorithm = errors.New("store: unsupported hash algorithm")
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	metaSuffix = ".meta"
)

// Store is a content-addressed blob cache rooted at a single directory.
// A Store may be read concurrently by multiple processes; writes are
// atomic from the perspective of readers.
type Store struct {
	root     string
	dirPerm  os.FileMode
	filePerm os.FileMode
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDirPerm sets the permissions used for cache directories.
// Defaults to 0o755 so other processes can enumerate the cache.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithFilePerm sets the permissions used for blob and metadata files.
// Defaults to 0o644 (world-readable, single-owner-writable).
func WithFilePerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.filePerm = mode
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("store: root dir is empty")
	}
	s := &Store{
		root:     root,
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(root, s.dirPerm); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}
	return s, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Put stores the content read from src under provider, recording version in
// the metadata sidecar. The content hash is computed while streaming. If an
// entry with the same hash already exists under the provider, Put is a
// no-op and returns the existing entry. Put is not considered successful
// until the written blob re-verifies against its hash.
func (s *Store) Put(provider, version string, src io.Reader) (Entry, error) {
	if err := validateProvider(provider); err != nil {
		return Entry{}, err
	}
	if version == "" {
		return Entry{}, errors.New("store: version is empty")
	}

	dir := filepath.Join(s.root, provider)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return Entry{}, fmt.Errorf("store: create provider dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "blob-*")
	if err != nil {
		return Entry{}, fmt.Errorf("store: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	digester := digest.SHA256.Digester()
	size, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), src)
	if err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("store: write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("store: close temp: %w", err)
	}

	dgst := digester.Digest()
	final := s.blobPath(provider, dgst)

	// Idempotent re-store of known content.
	if _, err := os.Stat(final); err == nil {
		_ = os.Remove(tmpPath)
		s.log().Debug("put is a no-op, entry exists", "provider", provider, "digest", dgst)
		return s.Stat(provider, dgst)
	}

	if err := os.Chmod(tmpPath, s.filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("store: chmod blob: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		// A concurrent writer may have landed the same content first.
		if _, statErr := os.Stat(final); statErr == nil {
			_ = os.Remove(tmpPath)
			return s.Stat(provider, dgst)
		}
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("store: rename blob: %w", err)
	}

	entry := Entry{
		Provider: provider,
		Version:  version,
		Digest:   dgst,
		Size:     size,
		CachedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.writeMeta(entry); err != nil {
		_ = os.Remove(final)
		return Entry{}, err
	}

	// Mandatory post-write integrity check.
	if err := s.Verify(provider, dgst); err != nil {
		_ = os.Remove(final)
		_ = os.Remove(final + metaSuffix)
		return Entry{}, err
	}

	s.log().Debug("cached blob", "provider", provider, "version", version, "digest", dgst, "size", size)
	return entry, nil
}

// PutFile stores the content of the file at path. See Put.
func (s *Store) PutFile(provider, version, path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("store: open source: %w", err)
	}
	defer f.Close()
	return s.Put(provider, version, f)
}

// Open returns a reader over the blob stored under provider with the given
// hash. The caller must close the reader. Returns ErrNotFound if no entry
// exists.
func (s *Store) Open(provider string, dgst digest.Digest) (io.ReadCloser, error) {
	path, err := s.Path(provider, dgst)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, provider, dgst)
		}
		return nil, fmt.Errorf("store: open blob: %w", err)
	}
	return f, nil
}

// Path returns the filesystem path of a stored blob, verifying it exists.
// Returns ErrNotFound if no entry exists.
func (s *Store) Path(provider string, dgst digest.Digest) (string, error) {
	if err := validateProvider(provider); err != nil {
		return "", err
	}
	if err := validateDigest(dgst); err != nil {
		return "", err
	}
	path := s.blobPath(provider, dgst)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, provider, dgst)
		}
		return "", fmt.Errorf("store: stat blob: %w", err)
	}
	return path, nil
}

// Has reports whether an entry exists under provider with the given hash.
func (s *Store) Has(provider string, dgst digest.Digest) bool {
	_, err := s.Path(provider, dgst)
	return err == nil
}

// Stat returns the metadata entry for a stored blob.
// Returns ErrNotFound if no entry exists.
func (s *Store) Stat(provider string, dgst digest.Digest) (Entry, error) {
	path, err := s.Path(provider, dgst)
	if err != nil {
		return Entry{}, err
	}
	entry, err := readMeta(path + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			// Blob without sidecar: reconstruct what we can.
			return s.entryFromBlob(provider, dgst, path)
		}
		return Entry{}, err
	}
	return entry, nil
}

// Lookup returns all entries under provider whose recorded version matches.
// An unknown provider or version yields an empty slice, not an error.
func (s *Store) Lookup(provider, version string) ([]Entry, error) {
	entries, err := s.List(provider)
	if err != nil {
		return nil, err
	}
	var matched []Entry
	for _, e := range entries {
		if e.Version == version {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// List enumerates entries, optionally filtered by provider. An empty
// provider lists the whole cache. Results are ordered by provider,
// version, then hash.
func (s *Store) List(provider string) ([]Entry, error) {
	var providers []string
	if provider != "" {
		if err := validateProvider(provider); err != nil {
			return nil, err
		}
		providers = []string{provider}
	} else {
		dirents, err := os.ReadDir(s.root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("store: read root: %w", err)
		}
		for _, de := range dirents {
			if de.IsDir() {
				providers = append(providers, de.Name())
			}
		}
	}

	var entries []Entry
	for _, p := range providers {
		dirents, err := os.ReadDir(filepath.Join(s.root, p))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("store: read provider dir: %w", err)
		}
		for _, de := range dirents {
			name := de.Name()
			if de.IsDir() || strings.HasSuffix(name, metaSuffix) {
				continue
			}
			dgst, ok := parseBlobName(name)
			if !ok {
				continue
			}
			entry, err := s.Stat(p, dgst)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Provider != entries[j].Provider {
			return entries[i].Provider < entries[j].Provider
		}
		if entries[i].Version != entries[j].Version {
			return entries[i].Version < entries[j].Version
		}
		return entries[i].Digest < entries[j].Digest
	})
	return entries, nil
}

// Verify recomputes the hash of the stored blob and compares it to the
// expected hash. Returns ErrCorrupt on mismatch, ErrNotFound if no entry
// exists.
func (s *Store) Verify(provider string, dgst digest.Digest) error {
	f, err := s.Open(provider, dgst)
	if err != nil {
		return err
	}
	defer f.Close()

	actual, err := digest.FromReader(f)
	if err != nil {
		return fmt.Errorf("store: hash blob: %w", err)
	}
	if actual != dgst {
		return fmt.Errorf("%w: %s/%s has hash %s", ErrCorrupt, provider, dgst, actual)
	}
	return nil
}

// Delete removes a stored blob and its metadata sidecar. The store never
// deletes entries on its own; this exists for explicit retention tooling.
// Returns ErrNotFound if no entry exists.
func (s *Store) Delete(provider string, dgst digest.Digest) error {
	path, err := s.Path(provider, dgst)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("store: remove blob: %w", err)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove meta: %w", err)
	}
	return nil
}

func (s *Store) blobPath(provider string, dgst digest.Digest) string {
	return filepath.Join(s.root, provider, blobName(dgst))
}

func (s *Store) entryFromBlob(provider string, dgst digest.Digest, path string) (Entry, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("store: stat blob: %w", err)
	}
	return Entry{
		Provider: provider,
		Digest:   dgst,
		Size:     fi.Size(),
		CachedAt: fi.ModTime().UTC(),
	}, nil
}

func validateProvider(provider string) error {
	if provider == "" || provider == "." || provider == ".." ||
		strings.ContainsAny(provider, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}
	return nil
}

func validateDigest(dgst digest.Digest) error {
	if err := dgst.Validate(); err != nil {
		return fmt.Errorf("store: invalid digest %q: %w", dgst, err)
	}
	if dgst.Algorithm() != digest.SHA256 {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, dgst.Algorithm())
	}
	return nil
}
