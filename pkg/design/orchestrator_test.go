package design

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueries struct {
	calls   atomic.Int32
	mu      sync.Mutex
	last    QueryRequest
	resp    *QueryResponse
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeQueries) GenerateQueries(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.resp, f.err
}

type fakeVisualizer struct {
	calls atomic.Int32
	mu    sync.Mutex
	last  VisualizationRequest
	resp  *VisualizationResponse
	err   error
}

func (f *fakeVisualizer) Visualize(ctx context.Context, req VisualizationRequest) (*VisualizationResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return f.resp, f.err
}

func modernResponse() *QueryResponse {
	return &QueryResponse{
		AmazonSearchQueries: []string{"modern sofa under $1000", "modern floor lamp under $150"},
		RecommendedProducts: []Product{
			{Title: "Sofa", Link: "https://amazon.example/sofa", Thumbnail: strPtr("https://img.example/sofa.jpg")},
			{Title: "Lamp", Link: "https://amazon.example/lamp"},
			{Title: "Rug", Link: "https://amazon.example/rug", Thumbnail: strPtr("not a url")},
		},
	}
}

func compositePayload() *string {
	s := base64.StdEncoding.EncodeToString(pngHeader)
	return &s
}

func readySession(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	var now Clock
	if clock != nil {
		now = clock.Now
	}
	s := NewStore(NewRecommendationCache(RecommendationTTL, now))
	require.NoError(t, s.SetBudget(5000))
	require.NoError(t, s.AddImage(roomPhoto()))
	require.NoError(t, s.SetSelectedCategories([]Category{CategoryFurniture}))
	return s
}

func TestGenerateModernScenario(t *testing.T) {
	clock := newFakeClock()
	store := readySession(t, clock)
	queries := &fakeQueries{resp: modernResponse()}
	vis := &fakeVisualizer{resp: &VisualizationResponse{GeneratedImage: compositePayload()}}
	o := NewOrchestrator(store, queries, vis, OrchestratorOptions{Now: clock.Now})

	outcome, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, outcome.State)
	assert.Equal(t, CompositeCreated, outcome.Composite)
	assert.NoError(t, outcome.Err)
	assert.False(t, outcome.Stale)

	queries.mu.Lock()
	req := queries.last
	queries.mu.Unlock()
	assert.Equal(t, 5000, req.Budget)
	assert.Equal(t, "modern", req.Style)
	assert.Equal(t, []string{"furniture"}, req.SelectedProducts)
	require.Len(t, req.Images, 1)
	assert.Equal(t, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), req.Images[0])

	vis.mu.Lock()
	vreq := vis.last
	vis.mu.Unlock()
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), vreq.RoomImage)
	assert.Equal(t, []string{"https://img.example/sofa.jpg"}, vreq.ProductImageURLs)
	assert.Contains(t, vreq.Prompt, "perspective, scale, and lighting")

	assert.False(t, store.IsGenerating())
	require.NotNil(t, store.Composite())
	assert.Equal(t, "image/png", store.Composite().ContentType)

	clock.Advance(59 * time.Minute)
	products, cachedQueries, ok := store.Cache().Get(StyleModern)
	require.True(t, ok)
	assert.Equal(t, modernResponse().AmazonSearchQueries, cachedQueries)
	assert.Equal(t, modernResponse().RecommendedProducts, products)

	current, ok := store.CurrentResult()
	require.True(t, ok)
	assert.Equal(t, outcome.ResultID, current.ID)
	assert.True(t, current.HasRender())
	assert.Equal(t, StyleModern, current.Style)
}

func TestGenerateSameStyleTwiceCallsGeneratorOnce(t *testing.T) {
	for _, style := range Styles {
		t.Run(string(style), func(t *testing.T) {
			store := readySession(t, nil)
			queries := &fakeQueries{resp: modernResponse()}
			vis := &fakeVisualizer{}
			o := NewOrchestrator(store, queries, vis, OrchestratorOptions{})

			_, err := o.Generate(context.Background(), style)
			require.NoError(t, err)
			second, err := o.Generate(context.Background(), style)
			require.NoError(t, err)

			assert.Equal(t, int32(1), queries.calls.Load())
			assert.Equal(t, int32(1), vis.calls.Load())
			assert.Equal(t, OutcomeCacheHit, second.State)
			assert.Equal(t, modernResponse().AmazonSearchQueries, second.Queries)
		})
	}
}

func TestGenerateWithinTenSecondsMakesNoSecondCall(t *testing.T) {
	clock := newFakeClock()
	store := readySession(t, clock)
	queries := &fakeQueries{resp: modernResponse()}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{Now: clock.Now})

	_, err := o.Generate(context.Background(), StyleScandinavian)
	require.NoError(t, err)
	before := queries.calls.Load()

	clock.Advance(10 * time.Second)
	outcome, err := o.Generate(context.Background(), StyleScandinavian)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCacheHit, outcome.State)
	assert.Equal(t, before, queries.calls.Load())
}

func TestGenerateAfterCacheExpiryCallsAgain(t *testing.T) {
	clock := newFakeClock()
	store := readySession(t, clock)
	queries := &fakeQueries{resp: modernResponse()}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{Now: clock.Now})

	_, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)
	clock.Advance(3601 * time.Second)
	_, err = o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)

	assert.Equal(t, int32(2), queries.calls.Load())
}

func TestGenerateRejectsWhileInFlight(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{
		resp:    modernResponse(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), StyleModern)
		done <- err
	}()
	<-queries.started

	for i := 0; i < 5; i++ {
		_, err := o.Generate(context.Background(), StyleIndustrial)
		assert.ErrorIs(t, err, ErrBusy)
	}
	assert.True(t, store.IsGenerating())

	close(queries.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), queries.calls.Load())
	assert.False(t, store.IsGenerating())
}

func TestGenerateConcurrentCallersNeverOverlap(t *testing.T) {
	store := readySession(t, nil)
	var inFlight, maxInFlight atomic.Int32
	gen := queryFunc(func(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return modernResponse(), nil
	})
	o := NewOrchestrator(store, gen, nil, OrchestratorOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = o.Generate(context.Background(), Styles[i%len(Styles)])
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

type queryFunc func(ctx context.Context, req QueryRequest) (*QueryResponse, error)

func (f queryFunc) GenerateQueries(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	return f(ctx, req)
}

func TestGenerateQueryFailureIsDegraded(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{resp: modernResponse()}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{})

	_, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)
	prior := store.RecommendedProducts()

	require.NoError(t, store.SetStyle(StyleTraditional))
	queries.resp = nil
	queries.err = errors.New("status 500")

	outcome, err := o.Generate(context.Background(), StyleTraditional)
	require.NoError(t, err, "the caller is never blocked")

	assert.Equal(t, OutcomeDegraded, outcome.State)
	var qerr *QueryGenerationError
	require.ErrorAs(t, outcome.Err, &qerr)
	assert.NotEmpty(t, store.Error())
	assert.Equal(t, prior, store.RecommendedProducts())
	assert.False(t, store.IsGenerating())
	_, _, ok := store.Cache().Get(StyleTraditional)
	assert.False(t, ok)
}

func TestGenerateDegradedWaitsForDelay(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{err: errors.New("down")}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{DegradedDelay: 30 * time.Millisecond})

	start := time.Now()
	outcome, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, outcome.State)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestGenerateDegradedDelayHonoursContext(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{err: errors.New("down")}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{DegradedDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := o.Generate(ctx, StyleModern)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, outcome.State)
}

func TestGenerateVisualizationFailureIsNonFatal(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{resp: modernResponse()}
	vis := &fakeVisualizer{err: &VisualizationError{StatusCode: 500, Body: "internal error"}}
	o := NewOrchestrator(store, queries, vis, OrchestratorOptions{})

	outcome, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, outcome.State)
	assert.Equal(t, CompositeFailed, outcome.Composite)
	assert.Error(t, outcome.Err)
	assert.False(t, store.RateLimited())
	assert.Nil(t, store.Composite())
	assert.Empty(t, store.Error())
	_, _, ok := store.Cache().Get(StyleModern)
	assert.True(t, ok, "recommendations are cached even without a composite")

	current, ok := store.CurrentResult()
	require.True(t, ok)
	assert.False(t, current.HasRender())
}

func TestGenerateMissingCompositeIsNotAnError(t *testing.T) {
	store := readySession(t, nil)
	o := NewOrchestrator(store, &fakeQueries{resp: modernResponse()}, &fakeVisualizer{resp: &VisualizationResponse{}}, OrchestratorOptions{})

	outcome, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)

	assert.Equal(t, CompositeNone, outcome.Composite)
	assert.NoError(t, outcome.Err)
	assert.Nil(t, store.Composite())
}

func TestGenerateRateLimitParksVisualization(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{resp: modernResponse()}
	vis := &fakeVisualizer{err: &VisualizationError{StatusCode: 429, Body: "rate limit exceeded", RateLimited: true}}
	o := NewOrchestrator(store, queries, vis, OrchestratorOptions{})

	outcome, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)
	assert.Equal(t, CompositeRateLimited, outcome.Composite)
	assert.ErrorIs(t, outcome.Err, ErrRateLimited)
	assert.True(t, store.RateLimited())

	// A new attempt for another style does not hit the visualizer again.
	vis.err = nil
	vis.resp = &VisualizationResponse{GeneratedImage: compositePayload()}
	outcome, err = o.Generate(context.Background(), StyleIndustrial)
	require.NoError(t, err)
	assert.Equal(t, CompositeSkipped, outcome.Composite)
	assert.Equal(t, int32(1), vis.calls.Load())
	assert.True(t, store.RateLimited())

	// Explicit reset re-enables it.
	require.NoError(t, store.ClearRateLimit())
	require.NoError(t, store.SetStyle(StyleBohemian))
	outcome, err = o.Generate(context.Background(), StyleBohemian)
	require.NoError(t, err)
	assert.Equal(t, CompositeCreated, outcome.Composite)
	assert.Equal(t, int32(2), vis.calls.Load())
}

func TestRetryVisualization(t *testing.T) {
	store := readySession(t, nil)
	vis := &fakeVisualizer{err: &VisualizationError{StatusCode: 429, RateLimited: true}}
	o := NewOrchestrator(store, &fakeQueries{resp: modernResponse()}, vis, OrchestratorOptions{})

	_, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)
	require.True(t, store.RateLimited())

	vis.err = nil
	vis.resp = &VisualizationResponse{GeneratedImage: compositePayload()}
	outcome, err := o.RetryVisualization(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CompositeCreated, outcome.Composite)
	assert.False(t, store.RateLimited())
	require.NotNil(t, store.Composite())
	current, ok := store.CurrentResult()
	require.True(t, ok)
	assert.True(t, current.HasRender())
}

func TestRetryVisualizationNeedsProducts(t *testing.T) {
	store := readySession(t, nil)
	o := NewOrchestrator(store, &fakeQueries{}, &fakeVisualizer{}, OrchestratorOptions{})

	_, err := o.RetryVisualization(context.Background())
	assert.ErrorIs(t, err, ErrNoProducts)
}

func TestGenerateSkipsVisualizationWithoutInputs(t *testing.T) {
	tests := []struct {
		name     string
		images   bool
		response *QueryResponse
	}{
		{name: "no room image", images: false, response: modernResponse()},
		{
			name:   "no usable thumbnails",
			images: true,
			response: &QueryResponse{
				AmazonSearchQueries: []string{"q"},
				RecommendedProducts: []Product{{Title: "x", Link: "https://x", Thumbnail: strPtr("  ")}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(nil)
			if tt.images {
				require.NoError(t, store.AddImage(roomPhoto()))
			}
			vis := &fakeVisualizer{}
			o := NewOrchestrator(store, &fakeQueries{resp: tt.response}, vis, OrchestratorOptions{})

			outcome, err := o.Generate(context.Background(), StyleModern)
			require.NoError(t, err)
			assert.Equal(t, CompositeSkipped, outcome.Composite)
			assert.Zero(t, vis.calls.Load())
		})
	}
}

func TestGenerateStyleChangeMidFlightMarksStale(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{
		resp:    modernResponse(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{})

	done := make(chan *Outcome, 1)
	go func() {
		outcome, _ := o.Generate(context.Background(), StyleModern)
		done <- outcome
	}()
	<-queries.started
	require.NoError(t, store.SetStyle(StyleIndustrial))
	close(queries.release)

	outcome := <-done
	assert.True(t, outcome.Stale)
	assert.Empty(t, store.RecommendedProducts())
	assert.Empty(t, store.Results())
	assert.False(t, store.IsGenerating())
	_, _, ok := store.Cache().Get(StyleModern)
	assert.True(t, ok, "results stay valid for the style they were generated for")
}

func TestGenerateValidatesStyle(t *testing.T) {
	o := NewOrchestrator(NewStore(nil), &fakeQueries{}, nil, OrchestratorOptions{})

	_, err := o.Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrStyleRequired)
	_, err = o.Generate(context.Background(), "gothic")
	assert.ErrorIs(t, err, ErrInvalidStyle)
}

func TestGenerateHooks(t *testing.T) {
	store := readySession(t, nil)
	var lookups []bool
	var outcomes []OutcomeState
	var visStatus CompositeStatus
	o := NewOrchestrator(store, &fakeQueries{resp: modernResponse()}, &fakeVisualizer{resp: &VisualizationResponse{}}, OrchestratorOptions{
		Hooks: Hooks{
			OnCacheLookup:   func(_ Style, hit bool) { lookups = append(lookups, hit) },
			OnVisualization: func(_ Style, _ time.Duration, status CompositeStatus) { visStatus = status },
			OnOutcome:       func(o *Outcome) { outcomes = append(outcomes, o.State) },
		},
	})

	_, _ = o.Generate(context.Background(), StyleModern)
	_, _ = o.Generate(context.Background(), StyleModern)

	assert.Equal(t, []bool{false, true}, lookups)
	assert.Equal(t, []OutcomeState{OutcomeDone, OutcomeCacheHit}, outcomes)
	assert.Equal(t, CompositeNone, visStatus)
}

func TestResetClearsCacheBetweenGenerations(t *testing.T) {
	store := readySession(t, nil)
	queries := &fakeQueries{resp: modernResponse()}
	o := NewOrchestrator(store, queries, nil, OrchestratorOptions{})

	_, err := o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)
	store.Reset()
	require.NoError(t, store.AddImage(roomPhoto()))

	_, err = o.Generate(context.Background(), StyleModern)
	require.NoError(t, err)
	assert.Equal(t, int32(2), queries.calls.Load())
}

func TestIsRateLimitSignature(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   bool
	}{
		{status: 429, body: "", want: true},
		{status: 500, body: `{"detail":"Image generation failed: 429 RESOURCE_EXHAUSTED"}`, want: true},
		{status: 503, body: "Rate limit reached, try later", want: true},
		{status: 500, body: "quota exceeded for model", want: true},
		{status: 500, body: "internal error", want: false},
		{status: 200, body: "rate limit", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRateLimitSignature(tt.status, tt.body), tt.body)
	}
}

func TestProductImageURLs(t *testing.T) {
	products := []Product{
		{Thumbnail: strPtr("https://img/1.jpg")},
		{},
		{Thumbnail: strPtr("")},
		{Thumbnail: strPtr("ftp://img/2.jpg")},
		{Thumbnail: strPtr("http://img/3.jpg")},
		{Thumbnail: strPtr("https://img/1.jpg")},
		{Thumbnail: strPtr("/relative.jpg")},
	}

	assert.Equal(t, []string{"https://img/1.jpg", "http://img/3.jpg"}, ProductImageURLs(products))
}
