// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm identifies a supported digest algorithm. The string value
// is the prefix used in manifest checksum declarations ("sha256-<hex>",
// "b3-<hex>").
type Algorithm string

const (
	// SHA256 is the algorithm used by most upstream release pages,
	// which publish sha256sums alongside their archives.
	SHA256 Algorithm = "sha256"

	// BLAKE3 is the algorithm for benchrig's own cache index and for
	// manifests that prefer it. Faster than SHA-256 on large archives.
	BLAKE3 Algorithm = "b3"
)

// Digest is a parsed checksum declaration: an algorithm and its
// 32-byte digest value. Both supported algorithms produce 32 bytes.
type Digest struct {
	Algorithm Algorithm
	Value     [32]byte
}

// Parse parses a checksum declaration of the form "sha256-<hex>" or
// "b3-<hex>". The hex portion must encode exactly 32 bytes.
func Parse(declaration string) (Digest, error) {
	prefix, encoded, found := strings.Cut(declaration, "-")
	if !found {
		return Digest{}, fmt.Errorf("checksum %q has no algorithm prefix (want sha256-<hex> or b3-<hex>)", declaration)
	}

	algorithm := Algorithm(prefix)
	switch algorithm {
	case SHA256, BLAKE3:
	default:
		return Digest{}, fmt.Errorf("unsupported checksum algorithm %q (want sha256 or b3)", prefix)
	}

	decoded, err := hex.DecodeString(encoded)
	if err != nil {
		return Digest{}, fmt.Errorf("parsing checksum %q: %w", declaration, err)
	}
	if len(decoded) != 32 {
		return Digest{}, fmt.Errorf("checksum %q is %d bytes, want 32", declaration, len(decoded))
	}

	digest := Digest{Algorithm: algorithm}
	copy(digest.Value[:], decoded)
	return digest, nil
}

// String returns the canonical declaration form: "<algorithm>-<hex>".
func (d Digest) String() string {
	return string(d.Algorithm) + "-" + hex.EncodeToString(d.Value[:])
}

// HashFile computes the digest of the file at path using the given
// algorithm. The file is streamed through the hash function in chunks
// (via io.Copy) to keep memory usage constant regardless of file size.
func HashFile(path string, algorithm Algorithm) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()
	return hashReader(file, algorithm, path)
}

// HashReader computes the digest of everything readable from r.
func HashReader(r io.Reader, algorithm Algorithm) (Digest, error) {
	return hashReader(r, algorithm, "stream")
}

func hashReader(r io.Reader, algorithm Algorithm, name string) (Digest, error) {
	var hasher hash.Hash
	switch algorithm {
	case SHA256:
		hasher = sha256.New()
	case BLAKE3:
		hasher = blake3.New()
	default:
		return Digest{}, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}

	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", name, err)
	}

	digest := Digest{Algorithm: algorithm}
	copy(digest.Value[:], hasher.Sum(nil))
	return digest, nil
}

// Verify checks that the file at path matches the expected digest.
// Returns a descriptive error on mismatch that includes both digests,
// so a corrupted download is diagnosable from the log alone.
func Verify(path string, expected Digest) error {
	actual, err := HashFile(path, expected.Algorithm)
	if err != nil {
		return err
	}
	if !bytes.Equal(actual.Value[:], expected.Value[:]) {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", path, actual, expected)
	}
	return nil
}
