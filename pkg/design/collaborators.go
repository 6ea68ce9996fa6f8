package design

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// QueryRequest is sent to the query/recommendation generator.
type QueryRequest struct {
	Budget           int      `json:"budget"`
	Style            string   `json:"style"`
	Notes            string   `json:"notes"`
	SelectedProducts []string `json:"selectedProducts"`
	Images           []string `json:"images"`
}

type QueryResponse struct {
	AmazonSearchQueries []string  `json:"amazon_search_queries"`
	RecommendedProducts []Product `json:"recommended_products"`
}

// QueryGenerator turns the design brief into search queries and products.
type QueryGenerator interface {
	GenerateQueries(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

// VisualizationRequest is sent to the room visualization generator. The
// room image is raw base64 without a data URL prefix.
type VisualizationRequest struct {
	RoomImage        string   `json:"room_image"`
	ProductImageURLs []string `json:"product_image_urls"`
	Prompt           string   `json:"prompt"`
}

// VisualizationResponse carries the composite. A nil GeneratedImage is a
// valid answer meaning nothing was produced.
type VisualizationResponse struct {
	GeneratedImage *string `json:"generated_image,omitempty"`
}

type Visualizer interface {
	Visualize(ctx context.Context, req VisualizationRequest) (*VisualizationResponse, error)
}

var rateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"rate_limit",
	"ratelimit",
	"resource_exhausted",
	"too many requests",
	"quota",
}

// IsRateLimitSignature reports whether an HTTP failure looks like upstream
// throttling.
func IsRateLimitSignature(statusCode int, body string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode < 400 {
		return false
	}
	lower := strings.ToLower(body)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ProductImageURLs collects usable thumbnail URLs in product order. Products
// without an absolute http(s) thumbnail are skipped, repeats are dropped.
func ProductImageURLs(products []Product) []string {
	urls := make([]string, 0, len(products))
	seen := make(map[string]bool, len(products))
	for _, p := range products {
		if p.Thumbnail == nil {
			continue
		}
		raw := strings.TrimSpace(*p.Thumbnail)
		if raw == "" || seen[raw] {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		seen[raw] = true
		urls = append(urls, raw)
	}
	return urls
}

var styleDirections = map[Style]string{
	StyleModern:       "Modern, clean lines, neutral palette, sleek finishes",
	StyleScandinavian: "Scandinavian, light woods, linen, matte metals",
	StyleIndustrial:   "Industrial, exposed metal, reclaimed wood, raw textures",
	StyleBohemian:     "Bohemian, layered textiles, rattan, warm earthy colors",
	StyleMidCentury:   "Mid-century, walnut tones, tapered legs, organic shapes",
	StyleTraditional:  "Traditional, rich woods, classic silhouettes, warm fabrics",
}

// VisualizationPrompt builds the composite instruction for a style.
func VisualizationPrompt(style Style) string {
	parts := make([]string, 0, 2)
	if direction, ok := styleDirections[style]; ok {
		parts = append(parts, "Style: "+direction+".")
	}
	parts = append(parts,
		"Place each product realistically into the room once, matching perspective, scale, and lighting. "+
			"Return a clean, photorealistic composite image of the room with the products placed naturally.")
	return strings.Join(parts, " ")
}
