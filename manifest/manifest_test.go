package manifest_test

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/adu-delta-cache/manifest"
)

func b64sum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func sampleDeltaManifest() string {
	return fmt.Sprintf(`{
  "$schema": "https://json.schemastore.org/azure-deviceupdate-import-manifest-5.0.json",
  "manifestVersion": "5.0",
  "updateId": {
    "provider": "contoso",
    "name": "adu-yocto-rpi4-poc-1",
    "version": "3.0.0"
  },
  "compatibility": [
    {"deviceManufacturer": "contoso", "deviceModel": "adu-yocto-rpi4-poc-1"}
  ],
  "instructions": {
    "steps": [{"handler": "microsoft/swupdate:2", "files": ["image-v3.swu"]}]
  },
  "files": [
    {
      "filename": "image-v3.swu",
      "sizeInBytes": 1024,
      "hashes": {"sha256": %q},
      "relatedFiles": [
        {
          "filename": "delta-v1-to-v3.diff",
          "sizeInBytes": 64,
          "hashes": {"sha256": %q},
          "properties": {
            "microsoft.sourceFileHashAlgorithm": "sha256",
            "microsoft.sourceFileHash": %q
          }
        },
        {
          "filename": "delta-v2-to-v3.diff",
          "sizeInBytes": 48,
          "hashes": {"sha256": %q},
          "properties": {
            "microsoft.sourceFileHashAlgorithm": "sha256",
            "microsoft.sourceFileHash": %q
          }
        }
      ],
      "downloadHandler": {"id": "microsoft/delta:1"}
    },
    {
      "filename": "update-script.sh",
      "sizeInBytes": 128,
      "hashes": {"sha256": %q}
    }
  ],
  "createdDateTime": "2026-08-01T00:00:00Z"
}`,
		b64sum("image v3"),
		b64sum("diff v1 v3"), b64sum("image v1"),
		b64sum("diff v2 v3"), b64sum("image v2"),
		b64sum("script"))
}

func TestParseDeltaCandidates(t *testing.T) {
	t.Parallel()

	m, err := manifest.Parse(strings.NewReader(sampleDeltaManifest()))
	require.NoError(t, err)
	assert.Equal(t, "contoso", m.UpdateID.Provider)
	assert.Equal(t, "3.0.0", m.UpdateID.Version)

	candidates, err := m.DeltaCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// relatedFiles order is preserved: v1 path first, then v2.
	assert.Equal(t, "delta-v1-to-v3.diff", candidates[0].Diff.Name)
	assert.Equal(t, "delta-v2-to-v3.diff", candidates[1].Diff.Name)
	assert.Equal(t, int64(64), candidates[0].Diff.Size)

	// Base64 manifest hashes become hex digests.
	assert.Equal(t, digest.SHA256.FromString("image v1"), candidates[0].SourceDigest)
	assert.Equal(t, digest.SHA256.FromString("image v2"), candidates[1].SourceDigest)
	assert.Equal(t, digest.SHA256.FromString("image v3"), candidates[0].TargetDigest)
	assert.Equal(t, digest.SHA256.FromString("diff v1 v3"), candidates[0].Diff.Digest)

	for _, c := range candidates {
		assert.Equal(t, "3.0.0", c.TargetVersion)
		require.NoError(t, c.Validate())
	}
}

func TestShouldCache(t *testing.T) {
	t.Parallel()

	base := fmt.Sprintf(`{
  "manifestVersion": "5.0",
  "updateId": {"provider": "contoso", "name": "n", "version": "1.0.0"},
  "files": [
    {
      "filename": "image-v1.swu",
      "sizeInBytes": 512,
      "hashes": {"sha256": %q},
      "deltaHandler": {"id": "microsoft/delta:1"}
    }
  ]
}`, b64sum("image v1"))

	m, err := manifest.Parse(strings.NewReader(base))
	require.NoError(t, err)
	assert.True(t, m.ShouldCache())

	candidates, err := m.DeltaCandidates()
	require.NoError(t, err)
	assert.Empty(t, candidates, "base update ships no deltas")

	deltaUpdate, err := manifest.Parse(strings.NewReader(sampleDeltaManifest()))
	require.NoError(t, err)
	assert.False(t, deltaUpdate.ShouldCache())
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":         "nope",
		"missing updateId": `{"manifestVersion": "5.0", "files": [{"filename": "f"}]}`,
		"no files":         `{"manifestVersion": "5.0", "updateId": {"provider": "p", "version": "1"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := manifest.Parse(strings.NewReader(body))
			require.ErrorIs(t, err, manifest.ErrInvalidManifest)
		})
	}
}

func TestDeltaCandidatesMissingSourceHash(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{
  "manifestVersion": "5.0",
  "updateId": {"provider": "contoso", "name": "n", "version": "2.0.0"},
  "files": [
    {
      "filename": "image-v2.swu",
      "sizeInBytes": 512,
      "hashes": {"sha256": %q},
      "relatedFiles": [
        {"filename": "d.diff", "sizeInBytes": 8, "hashes": {"sha256": %q}}
      ]
    }
  ]
}`, b64sum("image v2"), b64sum("d"))

	m, err := manifest.Parse(strings.NewReader(body))
	require.NoError(t, err)
	_, err = m.DeltaCandidates()
	require.ErrorIs(t, err, manifest.ErrInvalidManifest)
}
