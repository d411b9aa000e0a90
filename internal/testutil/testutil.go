// Package testutil provides shared fixtures for delta cache tests.
package testutil

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/klauspost/compress/zstd"
)

// RandomBytes returns n deterministic pseudo-random bytes for the seed.
func RandomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic test data
	data := make([]byte, n)
	r.Read(data)
	return data
}

// CreateDiff produces a bsdiff4 diff that transforms source into target.
func CreateDiff(t *testing.T, source, target []byte) []byte {
	t.Helper()
	diff, err := bsdiff.Bytes(source, target)
	if err != nil {
		t.Fatalf("bsdiff: %v", err)
	}
	return diff
}

// CompressZstd wraps data in a zstd frame, the way the delta generation
// pipeline ships diffs.
func CompressZstd(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

// WriteFile writes data into dir under name and returns the full path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// FakeInstaller records install invocations and fails on demand.
type FakeInstaller struct {
	mu sync.Mutex

	// Err is returned from every Install call when set.
	Err error

	// Installed collects the image paths passed to Install.
	Installed []string
}

// Install implements the updater's Installer interface.
func (f *FakeInstaller) Install(_ context.Context, imagePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Installed = append(f.Installed, imagePath)
	return nil
}

// Calls returns the number of recorded install invocations.
func (f *FakeInstaller) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Installed)
}
