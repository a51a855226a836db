package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"clearpath-hq/gatekeeper/pkg/cli"
	"clearpath-hq/gatekeeper/pkg/rule"
	"clearpath-hq/gatekeeper/pkg/rule/store"
)

// Client talks to a running daemon's control API.
type Client struct {
	address string
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given control listen address
// (host:port).
func NewClient(address string) *Client {
	return &Client{
		address: address,
		baseURL: "http://" + address,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Authorize submits an execution-authorization request and returns the
// rendered decision.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var resp AuthorizeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/authorize", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NotifyProcessExit reports a process exit for compiler tracking.
func (c *Client) NotifyProcessExit(ctx context.Context, pid int) error {
	body, err := json.Marshal(ProcessExitRequest{PID: pid})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/process/exit", bytes.NewReader(body), nil)
}

// NotifyFileCreated reports a file write for compiler artifact tracking.
func (c *Client) NotifyFileCreated(ctx context.Context, req FileCreatedRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/file/created", bytes.NewReader(body), nil)
}

// CheckCache inspects the decision cache for one vnode key.
func (c *Client) CheckCache(ctx context.Context, device, inode uint64) (*CacheCheckResponse, error) {
	q := url.Values{}
	q.Set("device", strconv.FormatUint(device, 10))
	q.Set("inode", strconv.FormatUint(inode, 10))

	var resp CacheCheckResponse
	if err := c.do(ctx, http.MethodGet, "/v1/cache/check?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FlushCache drops every decision cache entry.
func (c *Client) FlushCache(ctx context.Context) (*FlushResponse, error) {
	var resp FlushResponse
	if err := c.do(ctx, http.MethodPost, "/v1/cache/flush", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddRules applies a rule sync payload.
func (c *Client) AddRules(ctx context.Context, req AddRulesRequest) (*AddRulesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding rules: %w", err)
	}
	var resp AddRulesResponse
	if err := c.do(ctx, http.MethodPost, "/v1/rules", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupRule returns the first rule matching the identifier set, in
// precedence order, or a not-found response.
func (c *Client) LookupRule(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding lookup: %w", err)
	}
	var resp LookupResponse
	if err := c.do(ctx, http.MethodPost, "/v1/rules/lookup", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RuleCounts returns per-category rule counts.
func (c *Client) RuleCounts(ctx context.Context) (*store.Counts, error) {
	var resp store.Counts
	if err := c.do(ctx, http.MethodGet, "/v1/rules/counts", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportRules streams the daemon's active rules as a rule file to w.
func (c *Client) ExportRules(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/rules/export", nil)
	if err != nil {
		return err
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return &cli.DaemonUnreachableError{Address: c.address, Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return decodeAPIError(httpResp)
	}
	_, err = io.Copy(w, httpResp.Body)
	return err
}

// ImportRules uploads a rule file, applying the given cleanup mode first.
func (c *Client) ImportRules(ctx context.Context, r io.Reader, cleanup rule.Cleanup) (*AddRulesResponse, error) {
	path := "/v1/rules/import"
	if cleanup != rule.CleanupNone {
		path += "?cleanup=" + url.QueryEscape(cleanup.String())
	}
	var resp AddRulesResponse
	if err := c.do(ctx, http.MethodPost, path, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the daemon status summary.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return &cli.DaemonUnreachableError{Address: c.address, Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return decodeAPIError(httpResp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding control response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
