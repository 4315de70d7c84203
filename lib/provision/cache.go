// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/benchrig/benchrig/lib/checksum"
)

// Cache is a content-addressed store of verified downloads. Archives
// are filed under their checksum declaration (e.g.
// <dir>/sha256-ab12…/minimap2-2.17.tar.bz2), so a cache hit is by
// construction the exact bytes the manifest asked for. The index file
// carries provenance metadata (source URL, size, fetch time) for
// diagnostics; the archives themselves are addressed purely by digest.
//
// Only checksummed fetches are cached — without a declared digest
// there is no key, and no way to know a cached file is still what the
// URL serves.
type Cache struct {
	dir       string
	indexPath string
}

// cacheIndex is the on-disk index structure, CBOR-encoded. CBOR keeps
// the index compact and fast to decode even with many entries, and
// tolerates unknown fields across versions.
type cacheIndex struct {
	Entries map[string]cacheEntry `cbor:"entries"`
}

type cacheEntry struct {
	URL       string    `cbor:"url"`
	File      string    `cbor:"file"`
	Size      int64     `cbor:"size"`
	FetchedAt time.Time `cbor:"fetched_at"`
}

// OpenCache opens (creating if needed) a download cache rooted at dir.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, indexPath: filepath.Join(dir, "index.cbor")}, nil
}

// Lookup returns the cached archive path for digest, after re-verifying
// the file's content. A missing entry returns ok=false; a cached file
// that no longer matches its digest is discarded and treated as a miss.
func (c *Cache) Lookup(digest checksum.Digest) (path string, ok bool, err error) {
	index, err := c.readIndex()
	if err != nil {
		return "", false, err
	}

	entry, exists := index.Entries[digest.String()]
	if !exists {
		return "", false, nil
	}

	cachedPath := filepath.Join(c.dir, digest.String(), entry.File)
	if err := checksum.Verify(cachedPath, digest); err != nil {
		// Corrupt or deleted cache content: drop the entry and MISS.
		delete(index.Entries, digest.String())
		if writeErr := c.writeIndex(index); writeErr != nil {
			return "", false, writeErr
		}
		_ = os.RemoveAll(filepath.Join(c.dir, digest.String()))
		return "", false, nil
	}

	return cachedPath, true, nil
}

// Store copies a verified download into the cache and records its
// provenance. The caller must have verified the file against digest
// already. Returns the cached path.
func (c *Cache) Store(sourcePath, sourceURL string, digest checksum.Digest) (string, error) {
	entryDir := filepath.Join(c.dir, digest.String())
	if err := os.MkdirAll(entryDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache entry directory: %w", err)
	}

	fileName := filepath.Base(sourcePath)
	cachedPath := filepath.Join(entryDir, fileName)
	size, err := copyFile(sourcePath, cachedPath)
	if err != nil {
		return "", err
	}

	index, err := c.readIndex()
	if err != nil {
		return "", err
	}
	index.Entries[digest.String()] = cacheEntry{
		URL:       sourceURL,
		File:      fileName,
		Size:      size,
		FetchedAt: time.Now().UTC(),
	}
	if err := c.writeIndex(index); err != nil {
		return "", err
	}

	return cachedPath, nil
}

func (c *Cache) readIndex() (cacheIndex, error) {
	index := cacheIndex{Entries: map[string]cacheEntry{}}

	data, err := os.ReadFile(c.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return index, fmt.Errorf("reading cache index: %w", err)
	}

	if err := cbor.Unmarshal(data, &index); err != nil {
		// An unreadable index means the cache contents cannot be
		// trusted to match their keys' metadata. Start over; the
		// digest-addressed files are re-verified on Lookup anyway.
		return cacheIndex{Entries: map[string]cacheEntry{}}, nil
	}
	if index.Entries == nil {
		index.Entries = map[string]cacheEntry{}
	}
	return index, nil
}

// writeIndex atomically replaces the index file (write to a temporary
// file, rename into place) so a crash mid-write never leaves a
// truncated index.
func (c *Cache) writeIndex(index cacheIndex) error {
	data, err := cbor.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding cache index: %w", err)
	}

	temporaryPath := c.indexPath + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0644); err != nil {
		return fmt.Errorf("writing cache index: %w", err)
	}
	if err := os.Rename(temporaryPath, c.indexPath); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("replacing cache index: %w", err)
	}
	return nil
}

func copyFile(sourcePath, destPath string) (int64, error) {
	source, err := os.Open(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", sourcePath, err)
	}
	defer source.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", destPath, err)
	}

	size, err := io.Copy(dest, source)
	if err != nil {
		dest.Close()
		return 0, fmt.Errorf("copying to %s: %w", destPath, err)
	}
	if err := dest.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", destPath, err)
	}
	return size, nil
}
