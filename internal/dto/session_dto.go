package dto

import (
	"time"

	"stylii-be/pkg/design"
)

type CreateDesignSessionResponse struct {
	Id string `json:"id"`
}

type SessionImageDTO struct {
	Index       int    `json:"index"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type DesignSessionResponse struct {
	Id                  string            `json:"id"`
	Images              []SessionImageDTO `json:"images"`
	Budget              int               `json:"budget"`
	Style               string            `json:"style"`
	Notes               string            `json:"notes"`
	SelectedCategories  []string          `json:"selected_categories"`
	IsGenerating        bool              `json:"is_generating"`
	Error               string            `json:"error,omitempty"`
	RateLimited         bool              `json:"rate_limited"`
	ReadyToSubmit       bool              `json:"ready_to_submit"`
	RecommendedProducts []design.Product  `json:"recommended_products"`
	SearchQueries       []string          `json:"search_queries"`
	RenderURL           string            `json:"render_url"`
	HasComposite        bool              `json:"has_composite"`
	Results             []DesignResultDTO `json:"results"`
	CurrentResultId     string            `json:"current_result_id,omitempty"`
}

type DesignResultDTO struct {
	Id        string           `json:"id"`
	RenderURL string           `json:"render_url"`
	HasRender bool             `json:"has_render"`
	Products  []design.Product `json:"products"`
	Queries   []string         `json:"queries"`
	Style     string           `json:"style"`
	Budget    int              `json:"budget"`
	CreatedAt time.Time        `json:"created_at"`
	LatencyMs int64            `json:"latency_ms"`
}

// UpdateDesignSessionRequest patches the wizard form. Absent fields are left
// untouched; an empty style unselects.
type UpdateDesignSessionRequest struct {
	Budget             *int      `json:"budget,omitempty" validate:"omitempty,gt=0"`
	Style              *string   `json:"style,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	SelectedCategories *[]string `json:"selected_categories,omitempty"`
}

type ToggleCategoryRequest struct {
	Category string `json:"category" validate:"required"`
}

type GenerateDesignRequest struct {
	Style string `json:"style" validate:"required"`
}

type GenerationOutcomeResponse struct {
	State     string           `json:"state"`
	Style     string           `json:"style"`
	Composite string           `json:"composite"`
	ResultId  string           `json:"result_id,omitempty"`
	Stale     bool             `json:"stale"`
	LatencyMs int64            `json:"latency_ms"`
	Error     string           `json:"error,omitempty"`
	Products  []design.Product `json:"products"`
	Queries   []string         `json:"queries"`
}

type CachedRecommendationResponse struct {
	Style    string           `json:"style"`
	Products []design.Product `json:"products"`
	Queries  []string         `json:"queries"`
}

// SessionEventMessage is pushed to websocket clients of a session. Seq grows
// with every mutation of the session.
type SessionEventMessage struct {
	Type      string                 `json:"type"`
	SessionId string                 `json:"session_id"`
	Seq       uint64                 `json:"seq"`
	Data      *DesignSessionResponse `json:"data"`
}
