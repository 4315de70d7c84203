// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify posts run reports to a webhook. Notification is
// best-effort by design: a failing webhook must never change a run's
// own outcome, so errors are returned for logging but callers treat
// them as warnings.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benchrig/benchrig/lib/netutil"
	"github.com/benchrig/benchrig/lib/provision"
)

// requestTimeout bounds a single webhook delivery. Webhooks are chat
// integrations and CI dashboards; anything slower than this is down.
const requestTimeout = 30 * time.Second

// Conclusion is the terminal state of a run.
type Conclusion string

const (
	Success Conclusion = "success"
	Failure Conclusion = "failure"
)

// Report is the JSON document delivered to the webhook.
type Report struct {
	// Manifest is the manifest name.
	Manifest string `json:"manifest"`

	// Conclusion is "success" or "failure".
	Conclusion Conclusion `json:"conclusion"`

	// Stage is where the run ended: "provision" or "test".
	Stage string `json:"stage"`

	// DurationMS is the whole run's wall time.
	DurationMS int64 `json:"duration_ms"`

	// Steps are the per-step outcomes, in execution order.
	Steps []StepReport `json:"steps,omitempty"`

	// FailedStep names the step that terminated a failed run, when
	// the failure happened during provisioning.
	FailedStep string `json:"failed_step,omitempty"`

	// TestExitCode is the test command's exit code. Only meaningful
	// when Stage is "test".
	TestExitCode int `json:"test_exit_code"`

	// Error is the human-readable failure description.
	Error string `json:"error,omitempty"`

	// Host identifies the machine that ran the suite.
	Host string `json:"host,omitempty"`

	// CompletedAt is the RFC 3339 completion timestamp.
	CompletedAt string `json:"completed_at"`
}

// StepReport is one step's outcome inside a Report.
type StepReport struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// StepReports converts engine step results into report entries.
func StepReports(results []provision.StepResult) []StepReport {
	reports := make([]StepReport, 0, len(results))
	for _, result := range results {
		report := StepReport{
			Name:       result.Name,
			Status:     string(result.Status),
			DurationMS: result.Duration.Milliseconds(),
		}
		if result.Err != nil {
			report.Error = result.Err.Error()
		}
		reports = append(reports, report)
	}
	return reports
}

// Client delivers run reports to a single webhook URL.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a webhook client. The token, when non-empty, is
// sent as a bearer token in the Authorization header.
func NewClient(url, token string, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// WithHTTPClient overrides the HTTP client. For tests.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Send delivers the report. Any 2xx response counts as delivered;
// everything else is an error for the caller to log.
func (c *Client) Send(ctx context.Context, report Report) error {
	if report.CompletedAt == "" {
		report.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	requestContext, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestContext, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delivering webhook: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s: %s", response.Status, netutil.ErrorBody(response.Body))
	}

	c.logger.Info("run report delivered", "conclusion", report.Conclusion, "status", response.Status)
	return nil
}

// ShouldNotify reports whether the manifest's "on" list includes the
// conclusion. An empty list means notify on everything.
func ShouldNotify(on []string, conclusion Conclusion) bool {
	if len(on) == 0 {
		return true
	}
	for _, entry := range on {
		if entry == string(conclusion) {
			return true
		}
	}
	return false
}
