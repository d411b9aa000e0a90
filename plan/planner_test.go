package plan_test

import (
	"bytes"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/adu-delta-cache/plan"
	"github.com/Azure/adu-delta-cache/store"
)

const provider = "contoso"

func candidate(sourceVersion string, sourceContent []byte) plan.Candidate {
	return plan.Candidate{
		TargetVersion: "3.0.0",
		TargetDigest:  digest.SHA256.FromString("target v3"),
		SourceVersion: sourceVersion,
		SourceDigest:  digest.SHA256.FromBytes(sourceContent),
		Diff: plan.DiffRef{
			Name:   "delta-" + sourceVersion + "-to-3.0.0.diff",
			Digest: digest.SHA256.FromString("diff " + sourceVersion),
			Size:   128,
		},
	}
}

func TestSelectFirstViable(t *testing.T) {
	t.Parallel()

	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	v1 := []byte("image v1")
	v2 := []byte("image v2")
	// Only v2 is cached.
	_, err = s.Put(provider, "2.0.0", bytes.NewReader(v2))
	require.NoError(t, err)

	candidates := []plan.Candidate{
		candidate("1.0.0", v1),
		candidate("2.0.0", v2),
	}

	p, err := plan.New(s).Select(provider, candidates)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", p.Candidate.SourceVersion)
	assert.Equal(t, digest.SHA256.FromBytes(v2), p.Source.Digest)
}

func TestSelectManifestOrderWins(t *testing.T) {
	t.Parallel()

	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	v1 := []byte("image v1")
	v2 := []byte("image v2")
	// Both sources are cached; the first-listed candidate must win.
	_, err = s.Put(provider, "1.0.0", bytes.NewReader(v1))
	require.NoError(t, err)
	_, err = s.Put(provider, "2.0.0", bytes.NewReader(v2))
	require.NoError(t, err)

	candidates := []plan.Candidate{
		candidate("2.0.0", v2),
		candidate("1.0.0", v1),
	}

	p, err := plan.New(s).Select(provider, candidates)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", p.Candidate.SourceVersion)
}

func TestSelectNoViablePlan(t *testing.T) {
	t.Parallel()

	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	candidates := []plan.Candidate{
		candidate("1.0.0", []byte("never cached v1")),
		candidate("2.0.0", []byte("never cached v2")),
	}

	_, err = plan.New(s).Select(provider, candidates)
	require.ErrorIs(t, err, plan.ErrNoViablePlan)
}

func TestSelectEmptyCandidates(t *testing.T) {
	t.Parallel()

	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	_, err = plan.New(s).Select(provider, nil)
	require.ErrorIs(t, err, plan.ErrNoViablePlan)
}

func TestSelectInvalidCandidate(t *testing.T) {
	t.Parallel()

	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	bad := candidate("1.0.0", []byte("v1"))
	bad.Diff.Name = ""
	_, err = plan.New(s).Select(provider, []plan.Candidate{bad})
	require.Error(t, err)
	require.NotErrorIs(t, err, plan.ErrNoViablePlan)
}
