// Package browser is the HTTP adapter for the external browser-automation
// collaborator (a Playwright sidecar). It drives login, tenant switching and
// report downloads; the sidecar owns the actual browser context and writes
// downloaded files to a directory shared with this process.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ledgerops/report-relay/internal/domain/reports"
	"github.com/ledgerops/report-relay/internal/domain/session"
)

// Timeouts bound each collaborator call. A timed-out call surfaces as the
// corresponding failure kind.
type Timeouts struct {
	Login    time.Duration
	Switch   time.Duration
	Download time.Duration
}

type Client struct {
	baseURL  string
	http     *http.Client
	timeouts Timeouts
}

func NewClient(baseURL string, timeouts Timeouts) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{},
		timeouts: timeouts,
	}
}

type loginResponse struct {
	StorageState []byte    `json:"storage_state"`
	Token        []byte    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error          string `json:"error"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
	ReauthRequired bool   `json:"reauth_required,omitempty"`
}

// Authenticate runs the full browser login flow and returns fresh session
// material.
func (c *Client) Authenticate(ctx context.Context) (*session.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Login)
	defer cancel()

	var resp loginResponse
	if err := c.post(ctx, "/api/auth/login", nil, &resp, reports.FailureAuth); err != nil {
		return nil, err
	}
	return &session.Credential{
		State:     resp.StorageState,
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// Restore loads persisted session material into the sidecar's browser
// context.
func (c *Client) Restore(ctx context.Context, cred *session.Credential) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Login)
	defer cancel()

	body := map[string]any{
		"storage_state": cred.State,
		"token":         cred.Token,
	}
	return c.post(ctx, "/api/auth/restore", body, nil, reports.FailureAuth)
}

// SwitchTenant changes the active tenant context of the authenticated
// browser.
func (c *Client) SwitchTenant(ctx context.Context, shortCode string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Switch)
	defer cancel()

	body := map[string]any{"code": shortCode}
	return c.post(ctx, "/api/tenants/switch", body, nil, reports.FailureSwitch)
}

type downloadResponse struct {
	FilePath  string `json:"file_path"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
}

// Download fetches one report for the currently bound tenant. The file is
// fully written by the sidecar before the call returns.
func (c *Client) Download(ctx context.Context, req reports.FetchRequest) (reports.FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Download)
	defer cancel()

	body := map[string]any{
		"tenant_id":   req.TenantExternalID,
		"tenant_name": req.TenantName,
		"tenant_code": req.TenantShortCode,
		"month":       int(req.Period.Month),
		"year":        req.Period.Year,
	}
	var resp downloadResponse
	path := fmt.Sprintf("/api/reports/%s", req.ReportType)
	if err := c.post(ctx, path, body, &resp, reports.FailureDownload); err != nil {
		return reports.FetchResult{}, err
	}
	return reports.FetchResult{
		FilePath:  resp.FilePath,
		FileName:  resp.FileName,
		SizeBytes: resp.SizeBytes,
	}, nil
}

// post issues one JSON call and maps failures onto the taxonomy. An
// unexpected-login signal from the sidecar always maps to the mid-job expiry
// kind regardless of which operation tripped it.
func (c *Client) post(ctx context.Context, path string, body any, out any, kind reports.FailureKind) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &reports.FetchError{Kind: kind, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var fail errorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if jerr := json.Unmarshal(data, &fail); jerr != nil || fail.Error == "" {
			fail.Error = fmt.Sprintf("%s: http %d", path, resp.StatusCode)
		}
		failKind := kind
		if kind != reports.FailureAuth && (fail.ReauthRequired || resp.StatusCode == http.StatusUnauthorized) {
			failKind = reports.FailureSessionExpired
		}
		return &reports.FetchError{
			Kind:           failKind,
			Detail:         fail.Error,
			ScreenshotPath: fail.ScreenshotPath,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &reports.FetchError{Kind: kind, Detail: "decoding response: " + err.Error(), Err: err}
		}
	}
	return nil
}
