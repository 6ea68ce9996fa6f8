package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	RoleUser  = "user"
	RoleModel = "model"
)

var (
	ErrNoCandidates = errors.New("gemini: response has no candidates")
	ErrNoImage      = errors.New("gemini: no image generated in response")
	ErrMissingKey   = errors.New("gemini: api key is not configured")
)

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type Content struct {
	Parts []*Part `json:"parts"`
	Role  string  `json:"role,omitempty"`
}

type GenerationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type Request struct {
	Contents         []*Content        `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type Candidate struct {
	Content      *Content `json:"content"`
	FinishReason string   `json:"finishReason,omitempty"`
}

type Response struct {
	Candidates []*Candidate `json:"candidates"`
}

// APIError is a non-200 answer from the generateContent endpoint. Body is
// kept verbatim so callers can look for quota markers in it.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status error, got status %d. with response body %s", e.StatusCode, e.Body)
}

// TextPart and ImagePart build request parts.
func TextPart(text string) *Part {
	return &Part{Text: text}
}

func ImagePart(mimeType string, data []byte) *Part {
	return &Part{InlineData: &InlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GenerateContent(ctx context.Context, model string, payload *Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingKey
	}

	payloadJson, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(payloadJson))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: res.StatusCode, Body: string(resBody)}
	}

	var geminiRes Response
	if err := json.Unmarshal(resBody, &geminiRes); err != nil {
		return nil, err
	}
	if len(geminiRes.Candidates) == 0 || geminiRes.Candidates[0].Content == nil {
		return nil, ErrNoCandidates
	}
	return &geminiRes, nil
}

// GenerateText sends one user turn and returns the concatenated text parts
// of the first candidate.
func (c *Client) GenerateText(ctx context.Context, model string, parts []*Part, config *GenerationConfig) (string, error) {
	res, err := c.GenerateContent(ctx, model, &Request{
		Contents:         []*Content{{Role: RoleUser, Parts: parts}},
		GenerationConfig: config,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// GenerateImage returns the first inline image of the first candidate.
func (c *Client) GenerateImage(ctx context.Context, model string, parts []*Part) (mimeType string, data []byte, err error) {
	res, err := c.GenerateContent(ctx, model, &Request{
		Contents: []*Content{{Role: RoleUser, Parts: parts}},
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	})
	if err != nil {
		return "", nil, err
	}

	for _, part := range res.Candidates[0].Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return "", nil, fmt.Errorf("gemini: decode inline image: %w", err)
		}
		return part.InlineData.MimeType, data, nil
	}
	return "", nil, ErrNoImage
}
