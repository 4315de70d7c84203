// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/benchrig/benchrig/lib/manifest"
)

// releaseArchive builds a small gzip tool release: one top-level
// directory containing a Makefile-less "build" script and a binary.
func releaseArchive(t *testing.T) []byte {
	t.Helper()

	raw := buildTar(t, []tarEntry{
		{name: "fakealigner-1.0/", mode: 0755, dir: true},
		{name: "fakealigner-1.0/fakealigner", body: "#!/bin/sh\necho ok\n", mode: 0755},
	})

	var buffer bytes.Buffer
	gz := gzip.NewWriter(&buffer)
	if _, err := gz.Write(raw); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buffer.Bytes()
}

func sha256Declaration(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256-" + hex.EncodeToString(sum[:])
}

func TestFetchDownloadsVerifiesExtendsPath(t *testing.T) {
	t.Parallel()

	archive := releaseArchive(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	engine := testEngine(t, nil)
	buildMarker := "built.stamp"
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{
				Name: "fakealigner",
				Fetch: &manifest.FetchSpec{
					URL:      server.URL + "/fakealigner-1.0.tar.gz",
					Checksum: sha256Declaration(archive),
					Extract:  true,
					Build:    "touch " + buildMarker,
					Bin:      ".",
				},
			},
		},
	}

	if err := engine.Provision(context.Background(), m, nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	path := engine.Environment().Get("PATH")
	if !strings.Contains(path, "fakealigner-1.0") {
		t.Errorf("PATH = %q, want the extracted bin directory prepended", path)
	}

	binDir := strings.SplitN(path, ":", 2)[0]
	if _, err := os.Stat(filepath.Join(binDir, "fakealigner")); err != nil {
		t.Errorf("extracted binary not on PATH head: %v", err)
	}
	if _, err := os.Stat(filepath.Join(binDir, buildMarker)); err != nil {
		t.Errorf("build command did not run in the tool directory: %v", err)
	}
}

func TestFetchChecksumMismatchFails(t *testing.T) {
	t.Parallel()

	archive := releaseArchive(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	engine := testEngine(t, nil)
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{
				Name: "tampered",
				Fetch: &manifest.FetchSpec{
					URL:      server.URL + "/tool.tar.gz",
					Checksum: "sha256-" + strings.Repeat("00", 32),
				},
			},
		},
	}

	err := engine.Provision(context.Background(), m, nil)
	if err == nil {
		t.Fatal("Provision succeeded with a wrong checksum")
	}
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("error = %q", err)
	}
}

func TestFetchUsesCacheOnSecondRun(t *testing.T) {
	t.Parallel()

	archive := releaseArchive(t)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(archive)
	}))
	defer server.Close()

	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}

	step := manifest.Step{
		Name: "cached tool",
		Fetch: &manifest.FetchSpec{
			URL:      server.URL + "/tool.tar.gz",
			Checksum: sha256Declaration(archive),
			Extract:  true,
		},
	}

	for run := 0; run < 2; run++ {
		engine := testEngine(t, func(o *Options) { o.Cache = cache })
		m := &manifest.Manifest{Steps: []manifest.Step{step}}
		if err := engine.Provision(context.Background(), m, nil); err != nil {
			t.Fatalf("Provision (run %d): %v", run, err)
		}
	}

	if got := requests.Load(); got != 1 {
		t.Errorf("server received %d requests, want 1 (second run should hit the cache)", got)
	}
}

func TestFetchHTTPErrorFails(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	engine := testEngine(t, nil)
	m := &manifest.Manifest{
		Steps: []manifest.Step{
			{Name: "missing", Fetch: &manifest.FetchSpec{URL: server.URL + "/gone.tar.gz"}},
		},
	}

	err := engine.Provision(context.Background(), m, nil)
	if err == nil {
		t.Fatal("Provision succeeded on a 404 download")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want HTTP status mentioned", err)
	}
}

func TestDownloadRejectsNonHTTPSchemes(t *testing.T) {
	t.Parallel()

	engine := testEngine(t, nil)
	if _, err := engine.download(context.Background(), "ftp://example.org/x.tar.gz"); err == nil {
		t.Error("download accepted an ftp URL")
	}
	if _, err := engine.download(context.Background(), "https://example.org/"); err == nil {
		t.Error("download accepted a URL with no file name")
	}
}

func TestDownloadCleansUpPartialFiles(t *testing.T) {
	t.Parallel()

	// Server that advertises more content than it sends, producing
	// an unexpected EOF mid-body.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("short"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		if hijacker, ok := w.(http.Hijacker); ok {
			conn, _, _ := hijacker.Hijack()
			conn.Close()
		}
	}))
	defer server.Close()

	workDir := t.TempDir()
	engine := testEngine(t, func(o *Options) { o.WorkDir = workDir })

	if _, err := engine.download(context.Background(), server.URL+"/tool.tar.gz"); err == nil {
		t.Fatal("download succeeded on a truncated body")
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".partial") {
			t.Errorf("partial download left behind: %s", entry.Name())
		}
		if entry.Name() == "tool.tar.gz" {
			t.Error("truncated download was finalized")
		}
	}
}
