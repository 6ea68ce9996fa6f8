package picker

import (
	"slices"
	"sort"
	"strings"

	"stylii-be/pkg/design"
	"stylii-be/pkg/serpapi"
)

const (
	DefaultMinRating  = 4.0
	DefaultMinReviews = 50
	DefaultCapFlex    = 1.25

	lowRatingThreshold = 3.8
)

var (
	dealBadges      = []string{"overall pick", "limited time deal"}
	longShipMarkers = []string{"oct", "nov", "dec", "3 weeks", "next year"}
)

type Options struct {
	Budget           float64
	Style            string
	Notes            string
	SelectedProducts []string

	MinRating  float64
	MinReviews int
	CapFlex    float64
}

func (o Options) withDefaults() Options {
	if o.MinRating == 0 {
		o.MinRating = DefaultMinRating
	}
	if o.MinReviews == 0 {
		o.MinReviews = DefaultMinReviews
	}
	if o.CapFlex == 0 {
		o.CapFlex = DefaultCapFlex
	}
	return o
}

type candidate struct {
	queryIdx        int
	queryText       string
	asin            string
	title           string
	link            string
	linkClean       string
	thumbnail       string
	rating          float64
	reviews         int
	price           float64
	boughtLastMonth string
	delivery        []string
	prime           bool
	badges          []string
	category        string
	score           float64
}

func (c *candidate) ratio() float64 {
	return c.score / max(1, c.price)
}

func (c *candidate) toProduct() design.Product {
	p := design.Product{
		Title:    c.title,
		Link:     c.link,
		Delivery: slices.Clone(c.delivery),
	}
	if p.Delivery == nil {
		p.Delivery = []string{}
	}
	linkClean := c.linkClean
	if linkClean == "" {
		linkClean = c.link
	}
	if linkClean != "" {
		p.LinkClean = &linkClean
	}
	if c.thumbnail != "" {
		thumb := c.thumbnail
		p.Thumbnail = &thumb
	}
	if c.rating != 0 {
		rating := c.rating
		p.Rating = &rating
	}
	if c.reviews != 0 {
		reviews := c.reviews
		p.Reviews = &reviews
	}
	if c.boughtLastMonth != "" {
		bought := c.boughtLastMonth
		p.BoughtLastMonth = &bought
	}
	if c.price != 0 {
		price := formatPrice(c.price)
		extracted := c.price
		p.Price = &price
		p.ExtractedPrice = &extracted
	}
	return p
}

// Pick chooses at most one product per successful query, preferring well
// rated listings that match the style, stay under the per-query share of the
// budget and cover distinct categories.
func Pick(results []serpapi.QueryResult, opts Options) []design.Product {
	opts = opts.withDefaults()

	queries := make([]serpapi.QueryResult, 0, len(results))
	for _, r := range results {
		if r.Success && r.Response != nil {
			queries = append(queries, r)
		}
	}
	if len(queries) == 0 {
		return []design.Product{}
	}

	perCap := 0.0
	if opts.Budget > 0 {
		perCap = opts.Budget / float64(len(queries))
	}
	styleTokens := tokenize(opts.Style)
	notesTokens := tokenize(opts.Notes)
	selected := selectedCategorySet(opts.SelectedProducts)

	pools := make([][]*candidate, len(queries))
	for qidx, qr := range queries {
		cands := extractCandidates(qr.Response, qr.Query, qidx)

		base := make([]*candidate, 0, len(cands))
		for _, c := range cands {
			if c.price <= 0 {
				continue
			}
			if c.rating != 0 && c.rating < opts.MinRating {
				continue
			}
			if c.reviews != 0 && c.reviews < opts.MinReviews {
				continue
			}
			if perCap > 0 && c.price > perCap*opts.CapFlex {
				continue
			}
			base = append(base, c)
		}
		if len(base) == 0 {
			for _, c := range cands {
				if c.price > 0 {
					base = append(base, c)
				}
			}
		}

		queryTokens := tokenize(qr.Query)
		for _, c := range base {
			c.score = score(c, styleTokens, queryTokens, perCap, notesTokens, selected)
		}
		sort.SliceStable(base, func(i, j int) bool { return base[i].score > base[j].score })
		pools[qidx] = base
	}

	picks := make([]*candidate, len(pools))
	for i, pool := range pools {
		if len(pool) > 0 {
			picks[i] = pool[0]
		}
	}

	diversify(picks, pools)
	if opts.Budget > 0 {
		picks = reconcileBudget(picks, pools, opts.Budget)
	}
	dedupeASINs(picks, pools)

	out := make([]design.Product, 0, len(picks))
	for _, p := range picks {
		if p != nil {
			out = append(out, p.toProduct())
		}
	}
	return out
}

func extractCandidates(raw *serpapi.SearchResponse, queryText string, qidx int) []*candidate {
	cands := make([]*candidate, 0, len(raw.OrganicResults))

	for _, it := range raw.OrganicResults {
		if it == nil {
			continue
		}
		cands = append(cands, &candidate{
			queryIdx:        qidx,
			queryText:       queryText,
			asin:            it.ASIN,
			title:           it.Title,
			link:            it.Link,
			linkClean:       firstNonEmpty(it.LinkClean, it.Link),
			thumbnail:       it.Thumbnail,
			rating:          safeFloat(it.Rating),
			reviews:         safeInt(it.Reviews),
			price:           itemPrice(it),
			boughtLastMonth: it.BoughtLastMonth,
			delivery:        it.Delivery,
			prime:           it.Prime,
			badges:          badgeStrings(it.Badges),
			category:        InferCategory(it.Title + " " + queryText),
		})
	}

	if ads := raw.ProductAds; ads != nil {
		for _, it := range ads.Products {
			if it == nil {
				continue
			}
			cands = append(cands, &candidate{
				queryIdx:  qidx,
				queryText: queryText,
				asin:      it.ASIN,
				title:     it.Title,
				link:      it.Link,
				linkClean: firstNonEmpty(it.LinkClean, it.Link),
				thumbnail: firstNonEmpty(it.Thumbnail, ads.Image),
				rating:    safeFloat(it.Rating),
				reviews:   safeInt(it.Reviews),
				price:     itemPrice(it),
				prime:     it.Prime,
				badges:    []string{"Sponsored"},
				category:  InferCategory(it.Title + " " + queryText),
			})
		}
	}

	kept := cands[:0]
	for _, c := range cands {
		if c.title != "" && (c.link != "" || c.linkClean != "") {
			kept = append(kept, c)
		}
	}
	return kept
}

func score(c *candidate, styleTokens, queryTokens []string, targetPrice float64, notesTokens []string, selected map[string]bool) float64 {
	title := strings.ToLower(c.title)

	styleMatch := 0.0
	for _, tok := range styleTokens {
		if strings.Contains(title, tok) {
			styleMatch = 1
			break
		}
	}

	kwMatch := 1.0
	for _, tok := range queryTokens {
		if slices.Contains(styleTokens, tok) {
			continue
		}
		if !strings.Contains(title, tok) {
			kwMatch = 0
			break
		}
	}

	notesMatch := 0.0
	if len(notesTokens) > 0 {
		hits := 0
		for _, tok := range notesTokens {
			if strings.Contains(title, tok) {
				hits++
			}
		}
		switch {
		case hits >= 3:
			notesMatch = 1
		case hits >= 1:
			notesMatch = 0.5
		}
	}

	catPriority := 0.0
	if selected[c.category] {
		catPriority = 1
	}

	primeFlag := 0.0
	if c.prime {
		primeFlag = 1
	}

	dealFlag := 0.0
	for _, b := range c.badges {
		if slices.Contains(dealBadges, strings.ToLower(b)) {
			dealFlag = 0.5
			break
		}
	}

	pricePenalty := 0.0
	if targetPrice > 0 && c.price > targetPrice {
		pricePenalty = (c.price - targetPrice) / max(1, targetPrice)
	}

	delivery := strings.ToLower(strings.Join(c.delivery, " "))
	lowRatingPen := 0.0
	if c.rating != 0 && c.rating < lowRatingThreshold {
		lowRatingPen = 1
	}
	preOrderPen := 0.0
	if strings.Contains(delivery, "pre-order") || strings.Contains(delivery, "preorder") {
		preOrderPen = 1
	}
	longShipPen := 0.0
	for _, k := range longShipMarkers {
		if strings.Contains(delivery, k) {
			longShipPen = 0.5
			break
		}
	}

	return 4.0*normRating(c.rating) +
		3.0*normReviews(c.reviews) +
		2.0*styleMatch +
		2.0*kwMatch +
		1.0*primeFlag +
		dealFlag +
		1.0*notesMatch +
		1.5*catPriority -
		1.5*pricePenalty -
		2.0*(lowRatingPen+preOrderPen+longShipPen)
}

// diversify swaps a pick whose category is already taken for the best
// remaining candidate of its pool with an unused category.
func diversify(picks []*candidate, pools [][]*candidate) {
	used := make(map[string]bool, len(picks))
	for i, it := range picks {
		if it == nil {
			continue
		}
		if used[it.category] {
			for _, c := range pools[i][1:] {
				if !used[c.category] {
					picks[i] = c
					break
				}
			}
		}
		used[picks[i].category] = true
	}
}

// reconcileBudget repeatedly replaces the pick with the worst score per
// dollar until the total fits or no replacement helps.
func reconcileBudget(picks []*candidate, pools [][]*candidate, budget float64) []*candidate {
	changed := true
	for changed && totalCost(picks) > budget {
		changed = false

		worst := -1
		worstRatio := 0.0
		for i, it := range picks {
			if it == nil || it.price <= 0 {
				continue
			}
			if r := it.ratio(); worst == -1 || r < worstRatio {
				worst, worstRatio = i, r
			}
		}
		if worst == -1 {
			break
		}

		pool := pools[worst]
		if len(pool) <= 1 {
			continue
		}
		curr := picks[worst]
		for _, alt := range pool[1:] {
			others := make(map[string]bool, len(picks))
			for _, p := range picks {
				if p != nil {
					others[p.category] = true
				}
			}
			delete(others, curr.category)
			if others[alt.category] {
				continue
			}
			trial := slices.Clone(picks)
			trial[worst] = alt
			if totalCost(trial) <= budget || alt.score/alt.price > curr.score/curr.price {
				picks = trial
				changed = true
				break
			}
		}
	}
	return picks
}

// dedupeASINs replaces repeated listings with an unseen candidate of a
// category not yet picked.
func dedupeASINs(picks []*candidate, pools [][]*candidate) {
	seen := make(map[string]bool, len(picks))
	for i, it := range picks {
		if it == nil {
			continue
		}
		if it.asin != "" && seen[it.asin] {
			cats := make(map[string]bool, len(picks))
			for _, p := range picks {
				if p != nil {
					cats[p.category] = true
				}
			}
			for _, c := range pools[i] {
				if (c.asin == "" || !seen[c.asin]) && !cats[c.category] {
					picks[i] = c
					break
				}
			}
		}
		if picks[i].asin != "" {
			seen[picks[i].asin] = true
		}
	}
}

func totalCost(items []*candidate) float64 {
	total := 0.0
	for _, it := range items {
		if it != nil {
			total += it.price
		}
	}
	return total
}

func itemPrice(it *serpapi.Item) float64 {
	if p := safeFloat(it.ExtractedPrice); p != 0 {
		return p
	}
	return safeFloat(it.Price)
}

func badgeStrings(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, b := range raw {
		if s, ok := b.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
