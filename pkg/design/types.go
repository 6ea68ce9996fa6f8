package design

import (
	"time"
)

// Style is one of the interior-design aesthetics a user can pick.
type Style string

const (
	StyleModern       Style = "modern"
	StyleScandinavian Style = "scandinavian"
	StyleIndustrial   Style = "industrial"
	StyleBohemian     Style = "bohemian"
	StyleMidCentury   Style = "mid-century"
	StyleTraditional  Style = "traditional"
)

// Styles is the fixed style catalog, in display order.
var Styles = []Style{
	StyleModern,
	StyleScandinavian,
	StyleIndustrial,
	StyleBohemian,
	StyleMidCentury,
	StyleTraditional,
}

func (s Style) Valid() bool {
	for _, known := range Styles {
		if s == known {
			return true
		}
	}
	return false
}

// Category is a product category the user wants recommendations for.
type Category string

const (
	CategoryFurniture  Category = "furniture"
	CategoryAppliances Category = "appliances"
	CategoryDecor      Category = "decor"
	CategoryFrames     Category = "frames"
	CategoryLighting   Category = "lighting"
	CategoryTextiles   Category = "textiles"
)

// Categories lists the product categories in display order.
var Categories = []Category{
	CategoryFurniture,
	CategoryAppliances,
	CategoryDecor,
	CategoryFrames,
	CategoryLighting,
	CategoryTextiles,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

const (
	DefaultBudget = 5000
	MaxImages     = 4

	// PlaceholderRender is shown whenever no composite image exists.
	PlaceholderRender = "/images/placeholder-room.jpg"
)

// Blob is an uploaded binary file, usually a room photo.
type Blob struct {
	ContentType string
	Data        []byte
}

// Image is a displayable binary resource decoded from a model response.
type Image struct {
	ContentType string
	Data        []byte
}

// Product is a shopping recommendation. Pointer fields are optional and
// stay nil when the upstream record does not carry them.
type Product struct {
	Title           string   `json:"title"`
	Link            string   `json:"link"`
	LinkClean       *string  `json:"link_clean,omitempty"`
	Price           *string  `json:"price,omitempty"`
	ExtractedPrice  *float64 `json:"extracted_price,omitempty"`
	Thumbnail       *string  `json:"thumbnail,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	Reviews         *int     `json:"reviews,omitempty"`
	BoughtLastMonth *string  `json:"bought_last_month,omitempty"`
	Delivery        []string `json:"delivery,omitempty"`
}

// DesignResult is one entry of the session's render history.
type DesignResult struct {
	ID        string
	Render    *Image
	Products  []Product
	Queries   []string
	Style     Style
	Budget    int
	CreatedAt time.Time
	Latency   time.Duration
}

// HasRender reports whether a composite image was produced for the result.
func (r DesignResult) HasRender() bool {
	return r.Render != nil && len(r.Render.Data) > 0
}

// Snapshot is an immutable copy of the session state handed to observers.
type Snapshot struct {
	Images              []Blob
	Budget              int
	Style               Style
	Notes               string
	SelectedCategories  []Category
	IsGenerating        bool
	Error               string
	RateLimited         bool
	RecommendedProducts []Product
	SearchQueries       []string
	Composite           *Image
	Results             []DesignResult
	CurrentResultID     string
}

// ReadyToSubmit mirrors Store.ReadyToSubmit for a frozen snapshot.
func (s Snapshot) ReadyToSubmit() bool {
	return s.Budget > 0 && len(s.Images) > 0 && len(s.SelectedCategories) > 0
}
