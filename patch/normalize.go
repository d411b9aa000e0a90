package patch

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the zstandard frame magic number (RFC 8878).
const zstdMagic = 0xFD2FB528

// NormalizeDiff prepares a downloaded diff file for application. The delta
// generation pipeline compresses diffs with zstd; NormalizeDiff detects the
// zstd frame magic and decompresses into workDir, returning the path of the
// raw diff. Uncompressed diffs are returned unchanged.
func NormalizeDiff(diffPath, workDir string) (string, error) {
	f, err := os.Open(diffPath)
	if err != nil {
		return "", fmt.Errorf("%w: open diff: %v", ErrPatch, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		// Too short to be zstd-framed; let the applier reject it.
		return diffPath, nil
	}
	if binary.LittleEndian.Uint32(magic[:]) != zstdMagic {
		return diffPath, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: seek diff: %v", ErrPatch, err)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("%w: zstd init: %v", ErrPatch, err)
	}
	defer dec.Close()

	out, err := os.CreateTemp(workDir, "diff-raw-*")
	if err != nil {
		return "", fmt.Errorf("%w: create raw diff: %v", ErrPatch, err)
	}
	outPath := out.Name()
	if _, err := io.Copy(out, dec); err != nil {
		out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("%w: decompress diff %s: %v", ErrPatch, filepath.Base(diffPath), err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("%w: close raw diff: %v", ErrPatch, err)
	}
	return outPath, nil
}
