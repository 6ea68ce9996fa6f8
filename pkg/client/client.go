// Package client reaches the design-query and room-visualization endpoints
// of a Stylii backend over HTTP.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"stylii-be/pkg/design"
)

const (
	QueriesPath       = "/api/gemini/generate-design-queries"
	VisualizationPath = "/api/nano-banana/generate-room-visualization"
)

// Client implements design.QueryGenerator and design.Visualizer.
type Client struct {
	httpClient *resty.Client
}

var (
	_ design.QueryGenerator = (*Client)(nil)
	_ design.Visualizer     = (*Client)(nil)
)

// New returns a client for baseURL. A zero timeout leaves requests bounded
// only by the caller's context.
func New(baseURL string, timeout time.Duration) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "Stylii-Client/1.0")
	if timeout > 0 {
		httpClient.SetTimeout(timeout)
	}
	return &Client{httpClient: httpClient}
}

func (c *Client) GenerateQueries(ctx context.Context, req design.QueryRequest) (*design.QueryResponse, error) {
	var result design.QueryResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post(QueriesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to call design query endpoint: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("design query endpoint error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

func (c *Client) Visualize(ctx context.Context, req design.VisualizationRequest) (*design.VisualizationResponse, error) {
	var result design.VisualizationResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post(VisualizationPath)
	if err != nil {
		return nil, &design.VisualizationError{Err: fmt.Errorf("failed to call visualization endpoint: %w", err)}
	}
	if resp.IsError() {
		body := resp.String()
		return nil, &design.VisualizationError{
			StatusCode:  resp.StatusCode(),
			Body:        body,
			RateLimited: design.IsRateLimitSignature(resp.StatusCode(), body),
		}
	}
	return &result, nil
}
