package patch_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/adu-delta-cache/internal/testutil"
	"github.com/Azure/adu-delta-cache/patch"
)

func TestBspatchApply(t *testing.T) {
	t.Parallel()

	source := testutil.RandomBytes(t, 64<<10, 1)
	target := append(testutil.RandomBytes(t, 32<<10, 2), source[:16<<10]...)
	diff := testutil.CreateDiff(t, source, target)

	dir := t.TempDir()
	sourcePath := testutil.WriteFile(t, dir, "source.img", source)
	diffPath := testutil.WriteFile(t, dir, "delta.diff", diff)
	targetPath := filepath.Join(dir, "target.img")

	applier := patch.Bspatch{}
	require.NoError(t, applier.Apply(context.Background(), sourcePath, diffPath, targetPath))

	got, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestBspatchApplyDeterministic(t *testing.T) {
	t.Parallel()

	source := testutil.RandomBytes(t, 16<<10, 3)
	target := testutil.RandomBytes(t, 16<<10, 4)
	diff := testutil.CreateDiff(t, source, target)

	dir := t.TempDir()
	sourcePath := testutil.WriteFile(t, dir, "source.img", source)
	diffPath := testutil.WriteFile(t, dir, "delta.diff", diff)

	applier := patch.Bspatch{}
	first := filepath.Join(dir, "first.img")
	second := filepath.Join(dir, "second.img")
	require.NoError(t, applier.Apply(context.Background(), sourcePath, diffPath, first))
	require.NoError(t, applier.Apply(context.Background(), sourcePath, diffPath, second))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "repeated apply must be byte-identical")
}

func TestBspatchApplyCorruptDiff(t *testing.T) {
	t.Parallel()

	source := testutil.RandomBytes(t, 8<<10, 5)
	dir := t.TempDir()
	sourcePath := testutil.WriteFile(t, dir, "source.img", source)
	diffPath := testutil.WriteFile(t, dir, "delta.diff", []byte("not a bsdiff patch"))
	targetPath := filepath.Join(dir, "target.img")

	err := patch.Bspatch{}.Apply(context.Background(), sourcePath, diffPath, targetPath)
	require.ErrorIs(t, err, patch.ErrPatch)

	// No partial output may survive a failed apply.
	_, statErr := os.Stat(targetPath)
	assert.True(t, os.IsNotExist(statErr), "partial target must be discarded")
}

func TestBspatchApplyCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sourcePath := testutil.WriteFile(t, dir, "source.img", []byte("src"))
	diffPath := testutil.WriteFile(t, dir, "delta.diff", []byte("diff"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := patch.Bspatch{}.Apply(ctx, sourcePath, diffPath, filepath.Join(dir, "out"))
	require.ErrorIs(t, err, patch.ErrPatch)
}

func TestExecToolMissingBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sourcePath := testutil.WriteFile(t, dir, "source.img", []byte("src"))
	diffPath := testutil.WriteFile(t, dir, "delta.diff", []byte("diff"))

	tool := patch.ExecTool{Path: filepath.Join(dir, "no-such-bspatch")}
	err := tool.Apply(context.Background(), sourcePath, diffPath, filepath.Join(dir, "out"))
	require.ErrorIs(t, err, patch.ErrPatch)
}

func TestNormalizeDiffPassthrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	diffPath := testutil.WriteFile(t, dir, "delta.diff", []byte("raw bsdiff bytes here"))

	got, err := patch.NormalizeDiff(diffPath, dir)
	require.NoError(t, err)
	assert.Equal(t, diffPath, got)
}

func TestNormalizeDiffZstd(t *testing.T) {
	t.Parallel()

	raw := testutil.RandomBytes(t, 4<<10, 6)
	compressed := testutil.CompressZstd(t, raw)

	dir := t.TempDir()
	diffPath := testutil.WriteFile(t, dir, "delta.diff.zst", compressed)

	got, err := patch.NormalizeDiff(diffPath, dir)
	require.NoError(t, err)
	require.NotEqual(t, diffPath, got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestNormalizeDiffTruncatedZstd(t *testing.T) {
	t.Parallel()

	raw := testutil.RandomBytes(t, 4<<10, 7)
	compressed := testutil.CompressZstd(t, raw)

	dir := t.TempDir()
	diffPath := testutil.WriteFile(t, dir, "delta.diff.zst", compressed[:len(compressed)/2])

	_, err := patch.NormalizeDiff(diffPath, dir)
	require.ErrorIs(t, err, patch.ErrPatch)
}
