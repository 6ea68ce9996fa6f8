package design

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	logModule = "Orchestrator"

	// DefaultDegradedDelay is how long a failed generation waits before the
	// caller is let through anyway.
	DefaultDegradedDelay = 2 * time.Second
)

// OutcomeState is the terminal state of one generation attempt.
type OutcomeState string

const (
	OutcomeCacheHit OutcomeState = "cache_hit"
	OutcomeDone     OutcomeState = "done"
	OutcomeDegraded OutcomeState = "degraded"
)

// CompositeStatus describes what happened in the visualization step.
type CompositeStatus string

const (
	CompositeNone        CompositeStatus = "none"
	CompositeCreated     CompositeStatus = "composited"
	CompositeFailed      CompositeStatus = "failed"
	CompositeRateLimited CompositeStatus = "rate_limited"
	CompositeSkipped     CompositeStatus = "skipped"
)

// Outcome reports a finished attempt. The caller may always proceed; Err
// carries the query-generation failure of a degraded run or the
// visualization failure of a successful one.
type Outcome struct {
	State     OutcomeState
	Style     Style
	Products  []Product
	Queries   []string
	Composite CompositeStatus
	ResultID  string
	Stale     bool
	Latency   time.Duration
	Err       error
}

// Hooks let the hosting process observe the orchestrator without the core
// importing metrics or messaging packages. Every field is optional.
type Hooks struct {
	OnCacheLookup     func(style Style, hit bool)
	OnQueryGeneration func(style Style, took time.Duration, err error)
	OnVisualization   func(style Style, took time.Duration, status CompositeStatus)
	OnOutcome         func(outcome *Outcome)
}

type OrchestratorOptions struct {
	DegradedDelay time.Duration
	Now           Clock
	Logger        Logger
	Hooks         Hooks
	NewID         func() string
}

// Orchestrator drives generation for one session store.
type Orchestrator struct {
	store      *Store
	queries    QueryGenerator
	visualizer Visualizer

	degradedDelay time.Duration
	now           Clock
	logger        Logger
	hooks         Hooks
	newID         func() string
}

func NewOrchestrator(store *Store, queries QueryGenerator, visualizer Visualizer, opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		queries:       queries,
		visualizer:    visualizer,
		degradedDelay: opts.DegradedDelay,
		now:           opts.Now,
		logger:        opts.Logger,
		hooks:         opts.Hooks,
		newID:         opts.NewID,
	}
	if o.degradedDelay < 0 {
		o.degradedDelay = 0
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = NopLogger{}
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.NewString() }
	}
	return o
}

func (o *Orchestrator) Store() *Store {
	return o.store
}

// Generate produces recommendations and a composite for style. It returns
// ErrBusy when another attempt is in flight and a validation error for an
// unknown style; every other path ends in an Outcome.
func (o *Orchestrator) Generate(ctx context.Context, style Style) (*Outcome, error) {
	if style == "" {
		return nil, ErrStyleRequired
	}
	if !style.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStyle, style)
	}

	att, hit, err := o.store.begin(style)
	if errors.Is(err, ErrBusy) {
		o.logger.Warn(logModule, "Generation rejected, another run is in flight", map[string]interface{}{"style": style})
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if o.hooks.OnCacheLookup != nil {
		o.hooks.OnCacheLookup(style, hit)
	}
	if hit {
		o.logger.Info(logModule, "Serving recommendations from cache", map[string]interface{}{"style": style})
		outcome := &Outcome{
			State:     OutcomeCacheHit,
			Style:     style,
			Products:  o.store.RecommendedProducts(),
			Queries:   o.store.SearchQueries(),
			Composite: CompositeNone,
		}
		o.report(outcome)
		return outcome, nil
	}

	started := o.now()

	queryStarted := o.now()
	res, err := o.queries.GenerateQueries(ctx, QueryRequest{
		Budget:           att.budget,
		Style:            string(att.style),
		Notes:            att.notes,
		SelectedProducts: categoryNames(att.categories),
		Images:           EncodeAll(att.images),
	})
	if err == nil && res == nil {
		err = errors.New("empty response")
	}
	if o.hooks.OnQueryGeneration != nil {
		o.hooks.OnQueryGeneration(style, o.now().Sub(queryStarted), err)
	}
	if err != nil {
		return o.degrade(ctx, att, err), nil
	}

	products := cloneProducts(res.RecommendedProducts)
	queries := cloneStrings(res.AmazonSearchQueries)

	render, status, visErr := o.visualize(ctx, att, products, o.store.RateLimited())

	result := DesignResult{
		ID:        o.newID(),
		Render:    render,
		Products:  products,
		Queries:   queries,
		Style:     att.style,
		Budget:    att.budget,
		CreatedAt: o.now(),
	}
	result.Latency = result.CreatedAt.Sub(started)

	applied := o.store.complete(att, result, status == CompositeRateLimited)
	outcome := &Outcome{
		State:     OutcomeDone,
		Style:     style,
		Products:  products,
		Queries:   queries,
		Composite: status,
		ResultID:  result.ID,
		Stale:     !applied,
		Latency:   result.Latency,
		Err:       visErr,
	}
	if !applied {
		o.logger.Info(logModule, "Generation finished after the session moved on", map[string]interface{}{"style": style})
	}
	o.report(outcome)
	return outcome, nil
}

// RetryVisualization re-runs the composite step for the current products.
// It is the explicit user action that lifts a rate-limit parking.
func (o *Orchestrator) RetryVisualization(ctx context.Context) (*Outcome, error) {
	att, products, err := o.store.claimVisualization()
	if err != nil {
		if errors.Is(err, ErrBusy) {
			o.logger.Warn(logModule, "Visualization retry rejected, another run is in flight", nil)
		}
		return nil, err
	}

	started := o.now()
	render, status, visErr := o.visualize(ctx, att, products, false)
	o.store.finishVisualization(att, render, status == CompositeRateLimited)

	outcome := &Outcome{
		State:     OutcomeDone,
		Style:     att.style,
		Products:  products,
		Queries:   o.store.SearchQueries(),
		Composite: status,
		Latency:   o.now().Sub(started),
		Err:       visErr,
	}
	if result, ok := o.store.CurrentResult(); ok {
		outcome.ResultID = result.ID
	}
	o.report(outcome)
	return outcome, nil
}

// visualize runs the optional composite step. Failures never escape as
// errors of the attempt.
func (o *Orchestrator) visualize(ctx context.Context, att *attempt, products []Product, parked bool) (*Image, CompositeStatus, error) {
	if parked {
		o.logger.Info(logModule, "Skipping visualization while rate limited", map[string]interface{}{"style": att.style})
		return nil, CompositeSkipped, nil
	}
	if o.visualizer == nil || len(att.images) == 0 {
		return nil, CompositeSkipped, nil
	}
	urls := ProductImageURLs(products)
	if len(urls) == 0 {
		return nil, CompositeSkipped, nil
	}

	started := o.now()
	res, err := o.visualizer.Visualize(ctx, VisualizationRequest{
		RoomImage:        EncodeRaw(att.images[0]),
		ProductImageURLs: urls,
		Prompt:           VisualizationPrompt(att.style),
	})

	var render *Image
	status := CompositeCreated
	switch {
	case err != nil && errors.Is(err, ErrRateLimited):
		status = CompositeRateLimited
		o.logger.Warn(logModule, "Visualization rate limited", map[string]interface{}{"style": att.style, "error": err.Error()})
	case err != nil:
		status = CompositeFailed
		o.logger.Warn(logModule, "Visualization failed, using placeholder", map[string]interface{}{"style": att.style, "error": err.Error()})
	case res == nil || res.GeneratedImage == nil || *res.GeneratedImage == "":
		status = CompositeNone
	default:
		render, err = DecodeImage(*res.GeneratedImage)
		if err != nil {
			status = CompositeFailed
			err = &VisualizationError{Err: err}
			o.logger.Warn(logModule, "Composite payload unreadable, using placeholder", map[string]interface{}{"style": att.style, "error": err.Error()})
		}
	}
	if o.hooks.OnVisualization != nil {
		o.hooks.OnVisualization(att.style, o.now().Sub(started), status)
	}
	return render, status, err
}

func (o *Orchestrator) degrade(ctx context.Context, att *attempt, cause error) *Outcome {
	qerr := &QueryGenerationError{Err: cause}
	o.logger.Error(logModule, "Query generation failed", map[string]interface{}{"style": att.style, "error": cause.Error()})
	o.store.fail(att, qerr.Error())

	if o.degradedDelay > 0 {
		timer := time.NewTimer(o.degradedDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	outcome := &Outcome{
		State:     OutcomeDegraded,
		Style:     att.style,
		Products:  o.store.RecommendedProducts(),
		Queries:   o.store.SearchQueries(),
		Composite: CompositeSkipped,
		Err:       qerr,
	}
	o.report(outcome)
	return outcome
}

func (o *Orchestrator) report(outcome *Outcome) {
	if o.hooks.OnOutcome != nil {
		o.hooks.OnOutcome(outcome)
	}
}

func categoryNames(categories []Category) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, string(c))
	}
	return out
}
