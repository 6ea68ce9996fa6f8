package dto

import "stylii-be/pkg/design"

// DesignQueryRequest is the body of POST /api/gemini/generate-design-queries.
type DesignQueryRequest struct {
	Budget           int      `json:"budget"`
	Style            string   `json:"style"`
	Notes            string   `json:"notes,omitempty"`
	SelectedProducts []string `json:"selectedProducts"`
	Images           []string `json:"images"` // base64, data URL prefix optional
}

type DesignQueryResponse struct {
	AmazonSearchQueries []string         `json:"amazon_search_queries"`
	RecommendedProducts []design.Product `json:"recommended_products"`
	Reasoning           string           `json:"reasoning,omitempty"`
	Status              string           `json:"status"`
}

// RoomVisualizationRequest is the body of
// POST /api/nano-banana/generate-room-visualization.
type RoomVisualizationRequest struct {
	RoomImage        string   `json:"room_image"`
	ProductImages    []string `json:"product_images,omitempty"`
	ProductImageURLs []string `json:"product_image_urls,omitempty"`
	Prompt           string   `json:"prompt,omitempty"`
}

type RoomVisualizationResponse struct {
	GeneratedImage string `json:"generated_image"`
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Message string `json:"message,omitempty"`
}
