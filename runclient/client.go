// Package runclient implements the client-side controller for agent runs:
// submission with optimistic echo, status polling, message merging, and
// transcript export.
package runclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dealdesk/dealdesk/domain"
)

// Service is the run API surface the controller depends on.
type Service interface {
	StartRun(ctx context.Context, dealID string, req domain.StartRunRequest) (*domain.StartRunResponse, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	GetRunMessages(ctx context.Context, runID string) (*domain.MessagesResponse, error)
	ListRuns(ctx context.Context, dealID string, agentType domain.AgentType, page, pageSize int) (*domain.RunsResponse, error)
}

// HTTPClient talks to the deal agent platform over its REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the given server base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StartRun creates a run for a deal.
func (c *HTTPClient) StartRun(ctx context.Context, dealID string, req domain.StartRunRequest) (*domain.StartRunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/deals/"+url.PathEscape(dealID)+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp domain.StartRunResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun fetches the current state of a run.
func (c *HTTPClient) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var run domain.Run
	if err := c.do(httpReq, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRunMessages fetches the conversation turns of a run.
func (c *HTTPClient) GetRunMessages(ctx context.Context, runID string) (*domain.MessagesResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/runs/"+url.PathEscape(runID)+"/messages", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp domain.MessagesResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns fetches a page of run history for a deal.
func (c *HTTPClient) ListRuns(ctx context.Context, dealID string, agentType domain.AgentType, page, pageSize int) (*domain.RunsResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if agentType != "" {
		q.Set("agent_type", string(agentType))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/deals/"+url.PathEscape(dealID)+"/runs?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp domain.RunsResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes the request and decodes the response, converting API error
// bodies into plain errors whose text is the server's message verbatim.
func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
