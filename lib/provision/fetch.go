// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/benchrig/benchrig/lib/checksum"
	"github.com/benchrig/benchrig/lib/manifest"
)

// maxDownloadSize bounds a single archive download: 8 GB. Tool
// archives are orders of magnitude smaller; the limit exists so a
// misbehaving server cannot fill the disk.
const maxDownloadSize int64 = 8 << 30

// fetchResult describes an installed fetch step: where the archive
// landed, where it was extracted, and which directory (if any) should
// be prepended to PATH.
type fetchResult struct {
	archivePath string
	toolDir     string
	binDir      string
	fromCache   bool
}

// executeFetch runs a fetch step end to end: cache lookup, download,
// checksum verification, extraction, build, and bin-directory
// resolution. The build command runs inside the extracted directory
// with the run's current environment.
func (e *Engine) executeFetch(ctx context.Context, step manifest.Step) (fetchResult, error) {
	fetch := step.Fetch

	var digest checksum.Digest
	hasDigest := fetch.Checksum != ""
	if hasDigest {
		parsed, err := checksum.Parse(fetch.Checksum)
		if err != nil {
			return fetchResult{}, err
		}
		digest = parsed
	}

	// Warm cache: skip the network entirely. Lookup re-verifies the
	// cached bytes, so a hit is as trustworthy as a fresh download.
	var archivePath string
	fromCache := false
	if hasDigest && e.cache != nil {
		cachedPath, hit, err := e.cache.Lookup(digest)
		if err != nil {
			return fetchResult{}, err
		}
		if hit {
			e.logger.Info("using cached archive", "url", fetch.URL, "checksum", fetch.Checksum)
			archivePath = cachedPath
			fromCache = true
		}
	}

	if archivePath == "" {
		downloaded, err := e.download(ctx, fetch.URL)
		if err != nil {
			return fetchResult{}, err
		}
		archivePath = downloaded

		if hasDigest {
			if err := checksum.Verify(archivePath, digest); err != nil {
				return fetchResult{}, err
			}
			if e.cache != nil {
				cachedPath, err := e.cache.Store(archivePath, fetch.URL, digest)
				if err != nil {
					// Cache failures must not fail the step: the
					// verified download is already on disk.
					e.logger.Warn("caching archive failed", "url", fetch.URL, "error", err)
				} else {
					archivePath = cachedPath
				}
			}
		}
	}

	result := fetchResult{archivePath: archivePath, fromCache: fromCache}
	if !fetch.Extract {
		return result, nil
	}

	if !isArchiveName(archivePath) {
		return fetchResult{}, fmt.Errorf("%s is not a supported archive (want .tar[.gz|.bz2|.zst|.lz4] or .tgz)", filepath.Base(archivePath))
	}
	extractDir := filepath.Join(e.toolsDir, step.Name)
	toolDir, err := extractArchive(archivePath, extractDir)
	if err != nil {
		return fetchResult{}, err
	}
	result.toolDir = toolDir

	if fetch.Build != "" {
		e.logger.Info("building tool", "step", step.Name, "command", fetch.Build, "dir", toolDir)
		exitCode, err := runShell(ctx, fetch.Build, toolDir, e.env, step.StepEnv, termGracePeriod, e.stdout, e.stderr)
		if err != nil {
			return fetchResult{}, fmt.Errorf("build: %w", err)
		}
		if exitCode != 0 {
			return fetchResult{}, fmt.Errorf("build: exit code %d", exitCode)
		}
	}

	if fetch.Bin != "" {
		binDir := filepath.Join(toolDir, fetch.Bin)
		info, err := os.Stat(binDir)
		if err != nil {
			return fetchResult{}, fmt.Errorf("bin directory %s: %w", binDir, err)
		}
		if !info.IsDir() {
			return fetchResult{}, fmt.Errorf("bin path %s is not a directory", binDir)
		}
		result.binDir = binDir
	}

	return result, nil
}

// download streams the archive at rawURL into the engine's work
// directory. The file is written to a temporary name and renamed into
// place only after the full body has been read, so an interrupted
// download never masquerades as a complete archive.
func (e *Engine) download(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("url %q: scheme %q not supported (want http or https)", rawURL, parsed.Scheme)
	}

	fileName := path.Base(parsed.Path)
	if fileName == "" || fileName == "/" || fileName == "." {
		return "", fmt.Errorf("url %q has no file name component", rawURL)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}

	e.logger.Info("downloading", "url", rawURL)
	started := time.Now()

	response, err := e.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: status %s", rawURL, response.Status)
	}

	destPath := filepath.Join(e.workDir, fileName)
	temporaryPath := destPath + ".partial"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", temporaryPath, err)
	}

	written, err := io.Copy(file, io.LimitReader(response.Body, maxDownloadSize+1))
	if err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	if written > maxDownloadSize {
		file.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("downloading %s: exceeds the %d byte limit", rawURL, maxDownloadSize)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("closing %s: %w", temporaryPath, err)
	}

	if err := os.Rename(temporaryPath, destPath); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("finalizing download %s: %w", destPath, err)
	}

	e.logger.Info("downloaded", "url", rawURL, "bytes", written,
		"duration", time.Since(started).Round(time.Millisecond).String())
	return destPath, nil
}

// isArchiveName reports whether name carries one of the archive
// extensions extractArchive understands.
func isArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".tar.gz", ".tgz", ".tar.bz2", ".tar.zst", ".tar.lz4", ".tar"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
