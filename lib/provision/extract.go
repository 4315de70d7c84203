// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// maxExtractedFileSize bounds a single extracted file. Tool archives
// (aligners, format converters) are tens of megabytes; the limit only
// exists so that a corrupt or malicious archive cannot fill the disk.
const maxExtractedFileSize int64 = 4 << 30

// extractArchive unpacks a tar archive into destDir and returns the
// archive's top-level directory. The compression format is detected
// from the archive file name:
//
//	.tar.gz, .tgz   gzip
//	.tar.bz2        bzip2
//	.tar.zst        zstd
//	.tar.lz4        lz4
//	.tar            none
//
// Entry paths are confined to destDir: absolute paths and ".." path
// traversal fail the extraction. Symlinks and hardlinks are recreated
// only when their targets stay inside destDir.
//
// When every entry shares a single top-level directory (the common
// release-archive layout, e.g. minimap2-2.17/), that directory is
// returned; otherwise destDir itself is.
func extractArchive(archivePath, destDir string) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer file.Close()

	decompressed, closer, err := decompressor(archivePath, file)
	if err != nil {
		return "", err
	}
	if closer != nil {
		defer closer()
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("creating extraction directory %s: %w", destDir, err)
	}

	reader := tar.NewReader(decompressed)
	topLevel := ""
	multipleRoots := false

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading archive %s: %w", archivePath, err)
		}

		cleaned, err := confinePath(destDir, header.Name)
		if err != nil {
			return "", fmt.Errorf("archive %s: %w", archivePath, err)
		}

		root := strings.SplitN(filepath.ToSlash(strings.TrimPrefix(header.Name, "./")), "/", 2)[0]
		if root != "" && root != "." {
			switch topLevel {
			case "", root:
				topLevel = root
			default:
				multipleRoots = true
			}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(cleaned, os.FileMode(header.Mode).Perm()|0700); err != nil {
				return "", fmt.Errorf("creating directory %s: %w", cleaned, err)
			}

		case tar.TypeReg:
			if err := writeExtractedFile(cleaned, reader, os.FileMode(header.Mode).Perm()); err != nil {
				return "", fmt.Errorf("archive %s: %w", archivePath, err)
			}

		case tar.TypeSymlink:
			if err := confineLink(destDir, cleaned, header.Linkname); err != nil {
				return "", fmt.Errorf("archive %s: %w", archivePath, err)
			}
			if err := os.Symlink(header.Linkname, cleaned); err != nil {
				return "", fmt.Errorf("creating symlink %s: %w", cleaned, err)
			}

		case tar.TypeLink:
			target, err := confinePath(destDir, header.Linkname)
			if err != nil {
				return "", fmt.Errorf("archive %s: %w", archivePath, err)
			}
			if err := os.Link(target, cleaned); err != nil {
				return "", fmt.Errorf("creating hardlink %s: %w", cleaned, err)
			}

		default:
			// Character devices, FIFOs, etc. have no business in a
			// tool release archive — skip them.
		}
	}

	if topLevel != "" && !multipleRoots {
		return filepath.Join(destDir, topLevel), nil
	}
	return destDir, nil
}

// decompressor wraps the archive reader in the decompression layer
// matching the file name. The returned closer (when non-nil) releases
// decoder resources and must be called after reading.
func decompressor(archivePath string, file io.Reader) (io.Reader, func(), error) {
	name := strings.ToLower(archivePath)

	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream of %s: %w", archivePath, err)
		}
		return gz, func() { gz.Close() }, nil

	case strings.HasSuffix(name, ".tar.bz2"):
		return bzip2.NewReader(file), nil, nil

	case strings.HasSuffix(name, ".tar.zst"):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd stream of %s: %w", archivePath, err)
		}
		return decoder.IOReadCloser(), func() { decoder.Close() }, nil

	case strings.HasSuffix(name, ".tar.lz4"):
		return lz4.NewReader(file), nil, nil

	case strings.HasSuffix(name, ".tar"):
		return file, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported archive format: %s (want .tar[.gz|.bz2|.zst|.lz4] or .tgz)", archivePath)
	}
}

// confinePath joins name onto root and verifies the result stays
// inside root, rejecting absolute entries and ".." traversal.
func confinePath(root, name string) (string, error) {
	cleaned := filepath.Join(root, filepath.FromSlash(name))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %q escapes the extraction directory", name)
	}
	return cleaned, nil
}

// confineLink verifies that a symlink target, resolved relative to the
// link's own directory, stays inside root.
func confineLink(root, linkPath, target string) error {
	if filepath.IsAbs(target) {
		return fmt.Errorf("symlink %q has absolute target %q", linkPath, target)
	}
	resolved := filepath.Join(filepath.Dir(linkPath), filepath.FromSlash(target))
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return fmt.Errorf("symlink %q target %q escapes the extraction directory", linkPath, target)
	}
	return nil
}

func writeExtractedFile(path string, reader io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	written, err := io.Copy(file, io.LimitReader(reader, maxExtractedFileSize+1))
	if err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if written > maxExtractedFileSize {
		file.Close()
		return fmt.Errorf("entry %s exceeds the %d byte extraction limit", path, maxExtractedFileSize)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}
