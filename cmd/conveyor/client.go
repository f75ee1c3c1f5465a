package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"conveyor/internal/api"
)

// apiClient is a thin HTTP client for the daemon's JSON API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(addr, token string) *apiClient {
	return &apiClient{
		base:  "http://" + addr,
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) Trigger(ctx context.Context, workItem string) (api.TriggerResponse, error) {
	var resp api.TriggerResponse
	body, err := json.Marshal(api.TriggerRequest{WorkItem: workItem})
	if err != nil {
		return resp, err
	}
	err = c.do(ctx, http.MethodPost, "/api/executions", bytes.NewReader(body), &resp)
	return resp, err
}

func (c *apiClient) Executions(ctx context.Context) ([]api.Execution, error) {
	var executions []api.Execution
	err := c.do(ctx, http.MethodGet, "/api/executions", nil, &executions)
	return executions, err
}

func (c *apiClient) Execution(ctx context.Context, id string) (api.Execution, error) {
	var execution api.Execution
	err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(id), nil, &execution)
	return execution, err
}

func (c *apiClient) Submissions(ctx context.Context, id string) ([]api.Submission, error) {
	var submissions []api.Submission
	err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(id)+"/submissions", nil, &submissions)
	return submissions, err
}

func (c *apiClient) Status(ctx context.Context) (api.StatusSummary, error) {
	var summary api.StatusSummary
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &summary)
	return summary, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapRequestError(err, strings.TrimPrefix(c.base, "http://"))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
