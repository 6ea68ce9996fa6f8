package design

import (
	"fmt"
	"sync"
)

// Listener receives a snapshot after every mutation. Listeners run
// synchronously, in mutation order, and must not mutate the store.
type Listener func(Snapshot)

// Store holds one design session: the wizard form, the generation state and
// the render history. It also owns the per-style recommendation cache so a
// reset wipes both.
type Store struct {
	notifyMu sync.Mutex
	mu       sync.RWMutex

	images     []Blob
	budget     int
	style      Style
	notes      string
	categories []Category

	isGenerating bool
	err          string
	rateLimited  bool

	products  []Product
	queries   []string
	composite *Image

	results         []DesignResult
	currentResultID string

	// attempt is the token of the in-flight generation, 0 when idle.
	attempt    uint64
	attemptSeq uint64
	// epoch advances whenever results of an in-flight run stop being
	// relevant to the session (style change, reset).
	epoch uint64

	cache     *RecommendationCache
	listeners map[int]Listener
	nextID    int
}

func NewStore(cache *RecommendationCache) *Store {
	if cache == nil {
		cache = NewRecommendationCache(RecommendationTTL, nil)
	}
	return &Store{
		budget:    DefaultBudget,
		cache:     cache,
		listeners: make(map[int]Listener),
	}
}

// Cache exposes the recommendation cache owned by the session.
func (s *Store) Cache() *RecommendationCache {
	return s.cache
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// mutate applies fn under the write lock and then notifies listeners with
// the resulting snapshot. Nothing is published when fn fails.
func (s *Store) mutate(fn func() error) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return nil
}

func (s *Store) Images() []Blob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBlobs(s.images)
}

func (s *Store) SetImages(images []Blob) error {
	if len(images) > MaxImages {
		return ErrTooManyImages
	}
	for _, img := range images {
		if len(img.Data) == 0 {
			return ErrEmptyImage
		}
	}
	return s.mutate(func() error {
		s.images = cloneBlobs(images)
		return nil
	})
}

func (s *Store) AddImage(img Blob) error {
	if len(img.Data) == 0 {
		return ErrEmptyImage
	}
	return s.mutate(func() error {
		if len(s.images) >= MaxImages {
			return ErrTooManyImages
		}
		s.images = append(cloneBlobs(s.images), img)
		return nil
	})
}

func (s *Store) RemoveImage(index int) error {
	return s.mutate(func() error {
		if index < 0 || index >= len(s.images) {
			return ErrImageIndex
		}
		next := make([]Blob, 0, len(s.images)-1)
		next = append(next, s.images[:index]...)
		s.images = append(next, s.images[index+1:]...)
		return nil
	})
}

func (s *Store) Budget() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.budget
}

func (s *Store) SetBudget(budget int) error {
	if budget <= 0 {
		return ErrInvalidBudget
	}
	return s.mutate(func() error {
		s.budget = budget
		return nil
	})
}

func (s *Store) Style() Style {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.style
}

// SetStyle selects a style. An empty style unselects. Switching to another
// style drops the composite image and marks running generations stale.
func (s *Store) SetStyle(style Style) error {
	if style != "" && !style.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStyle, style)
	}
	return s.mutate(func() error {
		s.setStyleLocked(style)
		return nil
	})
}

func (s *Store) setStyleLocked(style Style) {
	if s.style == style {
		return
	}
	s.style = style
	s.composite = nil
	s.epoch++
}

func (s *Store) Notes() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notes
}

func (s *Store) SetNotes(notes string) error {
	return s.mutate(func() error {
		s.notes = notes
		return nil
	})
}

func (s *Store) SelectedCategories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCategories(s.categories)
}

// SetSelectedCategories replaces the selection. Duplicates collapse to their
// first occurrence.
func (s *Store) SetSelectedCategories(categories []Category) error {
	normalized := make([]Category, 0, len(categories))
	seen := make(map[Category]bool, len(categories))
	for _, c := range categories {
		if !c.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidCategory, c)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		normalized = append(normalized, c)
	}
	return s.mutate(func() error {
		s.categories = normalized
		return nil
	})
}

// ToggleCategory adds the category when absent and removes it otherwise.
func (s *Store) ToggleCategory(category Category) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return s.mutate(func() error {
		next := make([]Category, 0, len(s.categories)+1)
		removed := false
		for _, c := range s.categories {
			if c == category {
				removed = true
				continue
			}
			next = append(next, c)
		}
		if !removed {
			next = append(next, category)
		}
		s.categories = next
		return nil
	})
}

func (s *Store) IsGenerating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isGenerating
}

// SetGenerating overrides the in-flight flag. Clearing it releases the
// current attempt, whose results are then ignored.
func (s *Store) SetGenerating(generating bool) error {
	return s.mutate(func() error {
		s.isGenerating = generating
		if !generating {
			s.attempt = 0
		}
		return nil
	})
}

func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store) SetError(msg string) error {
	return s.mutate(func() error {
		s.err = msg
		return nil
	})
}

// RateLimited reports whether the visualization step is parked after a
// rate-limit failure.
func (s *Store) RateLimited() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimited
}

// ClearRateLimit is the explicit user action that re-enables visualization.
func (s *Store) ClearRateLimit() error {
	return s.mutate(func() error {
		s.rateLimited = false
		return nil
	})
}

func (s *Store) RecommendedProducts() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProducts(s.products)
}

func (s *Store) SearchQueries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStrings(s.queries)
}

// Composite returns the current composite image, nil when none exists.
func (s *Store) Composite() *Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.composite
}

// Results lists the render history, newest first.
func (s *Store) Results() []DesignResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneResults(s.results)
}

func (s *Store) CurrentResult() (DesignResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findResultLocked(s.currentResultID)
}

func (s *Store) Result(id string) (DesignResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findResultLocked(id)
}

// SelectResult points the session at an earlier result and restores its
// products, queries and composite as the current view.
func (s *Store) SelectResult(id string) error {
	return s.mutate(func() error {
		r, ok := s.findResultLocked(id)
		if !ok {
			return ErrResultNotFound
		}
		s.currentResultID = r.ID
		s.products = cloneProducts(r.Products)
		s.queries = cloneStrings(r.Queries)
		s.composite = r.Render
		return nil
	})
}

func (s *Store) findResultLocked(id string) (DesignResult, bool) {
	if id == "" {
		return DesignResult{}, false
	}
	for _, r := range s.results {
		if r.ID == id {
			return r, true
		}
	}
	return DesignResult{}, false
}

// ReadyToSubmit is true once a budget, a photo and a category are set. Notes
// are never required.
func (s *Store) ReadyToSubmit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.budget > 0 && len(s.images) > 0 && len(s.categories) > 0
}

// Reset restores the defaults and clears the recommendation cache.
func (s *Store) Reset() {
	_ = s.mutate(func() error {
		s.images = nil
		s.budget = DefaultBudget
		s.style = ""
		s.notes = ""
		s.categories = nil
		s.isGenerating = false
		s.err = ""
		s.rateLimited = false
		s.products = nil
		s.queries = nil
		s.composite = nil
		s.results = nil
		s.currentResultID = ""
		s.attempt = 0
		s.epoch++
		s.cache.Clear()
		return nil
	})
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Images:              cloneBlobs(s.images),
		Budget:              s.budget,
		Style:               s.style,
		Notes:               s.notes,
		SelectedCategories:  cloneCategories(s.categories),
		IsGenerating:        s.isGenerating,
		Error:               s.err,
		RateLimited:         s.rateLimited,
		RecommendedProducts: cloneProducts(s.products),
		SearchQueries:       cloneStrings(s.queries),
		Composite:           s.composite,
		Results:             cloneResults(s.results),
		CurrentResultID:     s.currentResultID,
	}
}

// attempt is the orchestrator's claim on the session for one generation.
type attempt struct {
	token      uint64
	epoch      uint64
	style      Style
	images     []Blob
	budget     int
	notes      string
	categories []Category
}

// begin runs the busy guard and the cache lookup atomically. On a hit the
// cached pair is adopted and nil attempt is returned with hit=true.
func (s *Store) begin(style Style) (att *attempt, hit bool, err error) {
	err = s.mutate(func() error {
		if s.isGenerating {
			return ErrBusy
		}
		s.setStyleLocked(style)
		if products, queries, ok := s.cache.Get(style); ok {
			s.products = products
			s.queries = queries
			s.err = ""
			hit = true
			return nil
		}
		s.attemptSeq++
		s.attempt = s.attemptSeq
		s.isGenerating = true
		s.err = ""
		att = &attempt{
			token:      s.attempt,
			epoch:      s.epoch,
			style:      style,
			images:     cloneBlobs(s.images),
			budget:     s.budget,
			notes:      s.notes,
			categories: cloneCategories(s.categories),
		}
		return nil
	})
	return att, hit, err
}

// complete records a successful run. It reports false when the run went
// stale and its results were not written to the session.
func (s *Store) complete(att *attempt, result DesignResult, rateLimited bool) bool {
	applied := false
	_ = s.mutate(func() error {
		if att.token != s.attempt {
			// Released by a reset or an explicit override.
			return nil
		}
		s.cache.Put(att.style, result.Products, result.Queries)
		s.isGenerating = false
		s.attempt = 0
		if rateLimited {
			s.rateLimited = true
		}
		if att.epoch != s.epoch {
			return nil
		}
		s.products = cloneProducts(result.Products)
		s.queries = cloneStrings(result.Queries)
		s.composite = result.Render
		s.results = append([]DesignResult{result}, s.results...)
		s.currentResultID = result.ID
		applied = true
		return nil
	})
	return applied
}

// fail records a failed run. Products and queries keep their prior values.
func (s *Store) fail(att *attempt, msg string) {
	_ = s.mutate(func() error {
		if att.token != s.attempt {
			return nil
		}
		s.isGenerating = false
		s.attempt = 0
		s.err = msg
		return nil
	})
}

// claimVisualization guards an explicit visualization retry with the same
// in-flight flag as a generation.
func (s *Store) claimVisualization() (*attempt, []Product, error) {
	var att *attempt
	var products []Product
	err := s.mutate(func() error {
		if s.isGenerating {
			return ErrBusy
		}
		if len(s.products) == 0 {
			return ErrNoProducts
		}
		if len(s.images) == 0 {
			return ErrNoRoomImage
		}
		s.rateLimited = false
		s.attemptSeq++
		s.attempt = s.attemptSeq
		s.isGenerating = true
		att = &attempt{
			token:  s.attempt,
			epoch:  s.epoch,
			style:  s.style,
			images: cloneBlobs(s.images),
			budget: s.budget,
		}
		products = cloneProducts(s.products)
		return nil
	})
	return att, products, err
}

// finishVisualization stores the outcome of a retry. A nil render keeps the
// placeholder in place.
func (s *Store) finishVisualization(att *attempt, render *Image, rateLimited bool) {
	_ = s.mutate(func() error {
		if att.token != s.attempt {
			return nil
		}
		s.isGenerating = false
		s.attempt = 0
		if rateLimited {
			s.rateLimited = true
		}
		if att.epoch != s.epoch || render == nil {
			return nil
		}
		s.composite = render
		for i := range s.results {
			if s.results[i].ID == s.currentResultID {
				s.results[i].Render = render
			}
		}
		return nil
	})
}

func cloneBlobs(in []Blob) []Blob {
	if in == nil {
		return nil
	}
	out := make([]Blob, len(in))
	copy(out, in)
	return out
}

func cloneCategories(in []Category) []Category {
	if in == nil {
		return nil
	}
	out := make([]Category, len(in))
	copy(out, in)
	return out
}

func cloneResults(in []DesignResult) []DesignResult {
	if in == nil {
		return nil
	}
	out := make([]DesignResult, len(in))
	copy(out, in)
	return out
}
