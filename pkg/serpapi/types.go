package serpapi

// Item is one Amazon listing. Rating, reviews and prices arrive as numbers
// or as display strings depending on the listing, so they stay loosely typed
// and are normalised by the consumer.
type Item struct {
	ASIN            string   `json:"asin,omitempty"`
	Title           string   `json:"title"`
	Link            string   `json:"link,omitempty"`
	LinkClean       string   `json:"link_clean,omitempty"`
	Thumbnail       string   `json:"thumbnail,omitempty"`
	Rating          any      `json:"rating,omitempty"`
	Reviews         any      `json:"reviews,omitempty"`
	Price           any      `json:"price,omitempty"`
	ExtractedPrice  any      `json:"extracted_price,omitempty"`
	BoughtLastMonth string   `json:"bought_last_month,omitempty"`
	Delivery        []string `json:"delivery,omitempty"`
	Prime           bool     `json:"prime,omitempty"`
	Badges          []any    `json:"badges,omitempty"`
}

type ProductAds struct {
	Image    string  `json:"image,omitempty"`
	Products []*Item `json:"products,omitempty"`
}

type SearchResponse struct {
	OrganicResults []*Item     `json:"organic_results,omitempty"`
	ProductAds     *ProductAds `json:"product_ads,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// QueryResult pairs a query with its search response. Failed searches keep
// their slot with Success false.
type QueryResult struct {
	Query    string
	Success  bool
	Response *SearchResponse
	Err      error
}
