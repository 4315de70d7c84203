// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type tarEntry struct {
	name string
	body string
	mode int64
	dir  bool
}

func buildTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)
	for _, entry := range entries {
		header := &tar.Header{Name: entry.name, Mode: entry.mode}
		if entry.dir {
			header.Typeflag = tar.TypeDir
		} else {
			header.Typeflag = tar.TypeReg
			header.Size = int64(len(entry.body))
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatalf("WriteHeader(%s): %v", entry.name, err)
		}
		if !entry.dir {
			if _, err := writer.Write([]byte(entry.body)); err != nil {
				t.Fatalf("Write(%s): %v", entry.name, err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	return buffer.Bytes()
}

func writeArchive(t *testing.T, name string, raw []byte, compress func(io.Writer) (io.WriteCloser, error)) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Close()

	if compress == nil {
		if _, err := file.Write(raw); err != nil {
			t.Fatalf("Write: %v", err)
		}
		return path
	}

	compressor, err := compress(file)
	if err != nil {
		t.Fatalf("opening compressor: %v", err)
	}
	if _, err := compressor.Write(raw); err != nil {
		t.Fatalf("compressing: %v", err)
	}
	if err := compressor.Close(); err != nil {
		t.Fatalf("closing compressor: %v", err)
	}
	return path
}

func releaseEntries() []tarEntry {
	return []tarEntry{
		{name: "minimap2-2.17/", mode: 0755, dir: true},
		{name: "minimap2-2.17/Makefile", body: "all:\n", mode: 0644},
		{name: "minimap2-2.17/minimap2", body: "#!/bin/sh\necho aligned\n", mode: 0755},
	}
}

func TestExtractArchiveFormats(t *testing.T) {
	t.Parallel()

	raw := buildTar(t, releaseEntries())

	cases := []struct {
		name     string
		file     string
		compress func(io.Writer) (io.WriteCloser, error)
	}{
		{"plain tar", "tool.tar", nil},
		{"gzip", "tool.tar.gz", func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil }},
		{"tgz", "tool.tgz", func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil }},
		{"zstd", "tool.tar.zst", func(w io.Writer) (io.WriteCloser, error) { return zstd.NewWriter(w) }},
		{"lz4", "tool.tar.lz4", func(w io.Writer) (io.WriteCloser, error) { return lz4.NewWriter(w), nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			archivePath := writeArchive(t, tc.file, raw, tc.compress)
			destDir := t.TempDir()

			toolDir, err := extractArchive(archivePath, destDir)
			if err != nil {
				t.Fatalf("extractArchive: %v", err)
			}
			if filepath.Base(toolDir) != "minimap2-2.17" {
				t.Errorf("toolDir = %q, want the archive's top-level directory", toolDir)
			}

			binary := filepath.Join(toolDir, "minimap2")
			info, err := os.Stat(binary)
			if err != nil {
				t.Fatalf("extracted binary missing: %v", err)
			}
			if info.Mode().Perm()&0100 == 0 {
				t.Errorf("binary mode = %v, want executable bit preserved", info.Mode())
			}

			content, err := os.ReadFile(binary)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if !strings.Contains(string(content), "echo aligned") {
				t.Errorf("binary content = %q", content)
			}
		})
	}
}

func TestExtractArchiveMultipleRootsReturnsDest(t *testing.T) {
	t.Parallel()

	raw := buildTar(t, []tarEntry{
		{name: "bin/tool", body: "x", mode: 0755},
		{name: "README", body: "y", mode: 0644},
	})
	archivePath := writeArchive(t, "flat.tar", raw, nil)
	destDir := t.TempDir()

	toolDir, err := extractArchive(archivePath, destDir)
	if err != nil {
		t.Fatalf("extractArchive: %v", err)
	}
	if toolDir != destDir {
		t.Errorf("toolDir = %q, want destDir %q for multi-root archives", toolDir, destDir)
	}
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	t.Parallel()

	raw := buildTar(t, []tarEntry{
		{name: "../escape", body: "nope", mode: 0644},
	})
	archivePath := writeArchive(t, "evil.tar", raw, nil)

	_, err := extractArchive(archivePath, t.TempDir())
	if err == nil {
		t.Fatal("extractArchive accepted a path-traversal entry")
	}
	if !strings.Contains(err.Error(), "escapes") {
		t.Errorf("error = %q, want mention of escaping entry", err)
	}
}

func TestExtractArchiveUnsupportedFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tool.zip")
	if err := os.WriteFile(path, []byte("PK"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := extractArchive(path, t.TempDir()); err == nil {
		t.Fatal("extractArchive accepted an unsupported format")
	}
}

func TestIsArchiveName(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]bool{
		"minimap2-2.17.tar.bz2": true,
		"samtools.tar.gz":       true,
		"tool.TGZ":              true,
		"data.tar.zst":          true,
		"script.sh":             false,
		"archive.zip":           false,
	} {
		if got := isArchiveName(name); got != want {
			t.Errorf("isArchiveName(%q) = %v, want %v", name, got, want)
		}
	}
}
