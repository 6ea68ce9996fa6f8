package serpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultEndpoint = "https://serpapi.com/search.json"
	DefaultDomain   = "amazon.com"
)

var ErrMissingKey = errors.New("SERPAPI_API_KEY not configured")

// Client searches Amazon through SerpAPI's amazon engine.
type Client struct {
	httpClient *resty.Client
	endpoint   string
	domain     string
	apiKey     string
}

func NewClient(apiKey string) *Client {
	return &Client{
		httpClient: resty.New().
			SetHeader("User-Agent", "Stylii-Backend/1.0").
			SetTimeout(20 * time.Second),
		endpoint: DefaultEndpoint,
		domain:   DefaultDomain,
		apiKey:   apiKey,
	}
}

// WithEndpoint points the client at another base URL, used by tests.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, ErrMissingKey
	}

	var result SearchResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"engine":        "amazon",
			"k":             query,
			"amazon_domain": c.domain,
			"api_key":       c.apiKey,
		}).
		SetResult(&result).
		Get(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to query SerpAPI: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("SerpAPI error (status %d): %s", resp.StatusCode(), resp.String())
	}
	if result.Error != "" {
		return nil, fmt.Errorf("SerpAPI error: %s", result.Error)
	}
	return &result, nil
}
