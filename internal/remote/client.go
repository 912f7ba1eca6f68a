// Package remote is the field-device side of the backend API. It
// implements the submission record store over HTTP and classifies
// transport failures as offline so the coordinator can queue instead of
// erroring.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldline/internal/domain"
	"fieldline/internal/submit"
)

// Client talks to the Fieldline backend.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

var _ submit.RecordStore = (*Client)(nil)

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateParent(ctx context.Context, rep domain.Report) error {
	body := map[string]any{
		"id":         rep.ID,
		"project_id": rep.ProjectID,
		"period_key": rep.PeriodKey,
		"flow":       rep.Flow,
		"created_at": rep.CreatedAt,
		"updated_at": rep.UpdatedAt,
	}
	return c.do(ctx, http.MethodPost, "v0/reports", body, nil)
}

func (c *Client) UpdateParent(ctx context.Context, id string, fin submit.Finalize) error {
	endpoint := fmt.Sprintf("v0/reports/%s/finalize", url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, endpoint, fin, nil)
}

func (c *Client) UpsertChild(ctx context.Context, check domain.ReportCheck) error {
	endpoint := fmt.Sprintf("v0/reports/%s/checks/%s",
		url.PathEscape(check.ReportID), url.PathEscape(check.AssetID))
	body := map[string]any{
		"asset_name":  check.AssetName,
		"status":      check.Status,
		"recorded_by": check.RecordedBy,
		"recorded_at": check.RecordedAt,
	}
	if check.Location != "" {
		body["location"] = check.Location
	}
	if check.Notes != "" {
		body["notes"] = check.Notes
	}
	if check.Defect != "" {
		body["defect"] = check.Defect
	}
	if check.PhotosJSON != nil {
		body["photos_json"] = *check.PhotosJSON
	}
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

func (c *Client) BulkInsert(ctx context.Context, issues []domain.Issue) error {
	body := map[string]any{"issues": issues}
	return c.do(ctx, http.MethodPost, "v0/issues/bulk", body, nil)
}

// Review marks a pending_review report accepted or returned.
func (c *Client) Review(ctx context.Context, id, status, note string) error {
	endpoint := fmt.Sprintf("v0/reports/%s/review", url.PathEscape(id))
	body := map[string]any{"status": status, "note": note}
	return c.do(ctx, http.MethodPatch, endpoint, body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if offline(err) {
			return fmt.Errorf("%s %s: %w", method, endpoint, submit.ErrOffline)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// offline reports whether a request error means the backend is
// unreachable, as opposed to a malformed request or a server response.
func offline(err error) bool {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return false
	}
	if ue.Timeout() {
		return true
	}
	var ne *net.OpError
	if errors.As(err, &ne) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
