package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stylii-be/internal/config"
	"stylii-be/internal/dto"
	"stylii-be/internal/mapper"
	"stylii-be/internal/metrics"
	"stylii-be/internal/pkg/logger"
	"stylii-be/internal/repository/memory"
	"stylii-be/pkg/design"
	"stylii-be/pkg/events"
)

const sessionModule = "SessionService"

// EventPublisher sends design events to the bus. The NATS publisher
// satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// SessionCloser disconnects the live clients of a session. The websocket hub
// satisfies it.
type SessionCloser interface {
	CloseSession(sessionID string)
}

// Workspace is one live design session.
type Workspace struct {
	ID           string
	Orchestrator *design.Orchestrator
	CreatedAt    time.Time

	unsubscribe func()
}

func (w *Workspace) Store() *design.Store {
	return w.Orchestrator.Store()
}

type ISessionService interface {
	Create(ctx context.Context) (*dto.DesignSessionResponse, error)
	Get(ctx context.Context, id string) (*dto.DesignSessionResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateDesignSessionRequest) (*dto.DesignSessionResponse, error)
	AddImage(ctx context.Context, id string, blob design.Blob) (*dto.DesignSessionResponse, error)
	RemoveImage(ctx context.Context, id string, index int) (*dto.DesignSessionResponse, error)
	ToggleCategory(ctx context.Context, id string, category string) (*dto.DesignSessionResponse, error)
	Generate(ctx context.Context, id string, style string) (*dto.GenerationOutcomeResponse, error)
	RetryVisualization(ctx context.Context, id string) (*dto.GenerationOutcomeResponse, error)
	ClearRateLimit(ctx context.Context, id string) (*dto.DesignSessionResponse, error)
	Results(ctx context.Context, id string) ([]dto.DesignResultDTO, error)
	SelectResult(ctx context.Context, id string, resultID string) (*dto.DesignSessionResponse, error)
	ResultRender(ctx context.Context, id string, resultID string) (*design.Image, error)
	Composite(ctx context.Context, id string) (*design.Image, error)
	CachedRecommendations(ctx context.Context, id string, style string) (*dto.CachedRecommendationResponse, error)
	Reset(ctx context.Context, id string) (*dto.DesignSessionResponse, error)
	Delete(ctx context.Context, id string) error
}

type sessionService struct {
	repo       *memory.SessionRepository[*Workspace]
	queries    design.QueryGenerator
	visualizer design.Visualizer
	snapshots  ISnapshotPublisher
	clients    SessionCloser
	events     EventPublisher
	mapper     *mapper.DesignMapper
	cfg        config.SessionConfig
	logger     logger.ILogger
}

// NewSessionService wires the session host. snapshots, clients and publisher
// are optional.
func NewSessionService(
	repo *memory.SessionRepository[*Workspace],
	queries design.QueryGenerator,
	visualizer design.Visualizer,
	snapshots ISnapshotPublisher,
	clients SessionCloser,
	publisher EventPublisher,
	designMapper *mapper.DesignMapper,
	cfg config.SessionConfig,
	log logger.ILogger,
) ISessionService {
	s := &sessionService{
		repo:       repo,
		queries:    queries,
		visualizer: visualizer,
		snapshots:  snapshots,
		clients:    clients,
		events:     publisher,
		mapper:     designMapper,
		cfg:        cfg,
		logger:     log,
	}
	repo.OnEvicted(s.onEvicted)
	return s
}

func (s *sessionService) Create(ctx context.Context) (*dto.DesignSessionResponse, error) {
	id := uuid.NewString()

	store := design.NewStore(design.NewRecommendationCache(s.cfg.RecommendationTTL, nil))
	ws := &Workspace{
		ID:        id,
		CreatedAt: time.Now(),
	}
	ws.Orchestrator = design.NewOrchestrator(store, s.queries, s.visualizer, design.OrchestratorOptions{
		DegradedDelay: s.cfg.DegradedDelay,
		Logger:        s.logger,
		Hooks:         s.hooksFor(id),
	})
	if s.snapshots != nil {
		// Listeners of one store never run concurrently.
		var seq uint64
		ws.unsubscribe = store.Subscribe(func(snap design.Snapshot) {
			seq++
			if err := s.snapshots.PublishSnapshot(id, seq, s.mapper.SnapshotToResponse(id, snap)); err != nil {
				s.logger.Warn(sessionModule, "Failed to queue snapshot", map[string]interface{}{
					"session_id": id,
					"error":      err.Error(),
				})
			}
		})
	}

	s.repo.Save(id, ws)
	metrics.SessionOpened()
	s.publish(ctx, events.SessionCreated, id, nil)
	s.logger.Info(sessionModule, "Design session created", map[string]interface{}{"session_id": id})

	return s.mapper.SnapshotToResponse(id, store.Snapshot()), nil
}

func (s *sessionService) Get(ctx context.Context, id string) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	return s.respond(ws), nil
}

func (s *sessionService) Update(ctx context.Context, id string, req *dto.UpdateDesignSessionRequest) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	store := ws.Store()

	if req.Budget != nil {
		if err := store.SetBudget(*req.Budget); err != nil {
			return nil, err
		}
	}
	if req.Style != nil {
		if err := store.SetStyle(design.Style(strings.TrimSpace(*req.Style))); err != nil {
			return nil, err
		}
	}
	if req.Notes != nil {
		if err := store.SetNotes(*req.Notes); err != nil {
			return nil, err
		}
	}
	if req.SelectedCategories != nil {
		categories := make([]design.Category, 0, len(*req.SelectedCategories))
		for _, c := range *req.SelectedCategories {
			categories = append(categories, design.Category(c))
		}
		if err := store.SetSelectedCategories(categories); err != nil {
			return nil, err
		}
	}

	return s.respond(ws), nil
}

func (s *sessionService) AddImage(ctx context.Context, id string, blob design.Blob) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	if err := ws.Store().AddImage(blob); err != nil {
		return nil, err
	}
	return s.respond(ws), nil
}

func (s *sessionService) RemoveImage(ctx context.Context, id string, index int) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	if err := ws.Store().RemoveImage(index); err != nil {
		return nil, err
	}
	return s.respond(ws), nil
}

func (s *sessionService) ToggleCategory(ctx context.Context, id string, category string) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	if err := ws.Store().ToggleCategory(design.Category(category)); err != nil {
		return nil, err
	}
	return s.respond(ws), nil
}

func (s *sessionService) Generate(ctx context.Context, id string, style string) (*dto.GenerationOutcomeResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}

	outcome, err := ws.Orchestrator.Generate(ctx, design.Style(strings.TrimSpace(style)))
	if err != nil {
		if errors.Is(err, design.ErrBusy) {
			metrics.ObserveRejected()
		}
		return nil, err
	}
	return s.mapper.OutcomeToResponse(outcome), nil
}

func (s *sessionService) RetryVisualization(ctx context.Context, id string) (*dto.GenerationOutcomeResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}

	outcome, err := ws.Orchestrator.RetryVisualization(ctx)
	if err != nil {
		if errors.Is(err, design.ErrBusy) {
			metrics.ObserveRejected()
		}
		return nil, err
	}
	return s.mapper.OutcomeToResponse(outcome), nil
}

func (s *sessionService) ClearRateLimit(ctx context.Context, id string) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	if err := ws.Store().ClearRateLimit(); err != nil {
		return nil, err
	}
	return s.respond(ws), nil
}

func (s *sessionService) Results(ctx context.Context, id string) ([]dto.DesignResultDTO, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	results := ws.Store().Results()
	out := make([]dto.DesignResultDTO, 0, len(results))
	for _, r := range results {
		out = append(out, s.mapper.ResultToDTO(id, r))
	}
	return out, nil
}

func (s *sessionService) SelectResult(ctx context.Context, id string, resultID string) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	if err := ws.Store().SelectResult(resultID); err != nil {
		return nil, err
	}
	return s.respond(ws), nil
}

// ResultRender returns the composite of a history entry, or nil when that
// run produced none.
func (s *sessionService) ResultRender(ctx context.Context, id string, resultID string) (*design.Image, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	result, ok := ws.Store().Result(resultID)
	if !ok {
		return nil, design.ErrResultNotFound
	}
	if !result.HasRender() {
		return nil, nil
	}
	return result.Render, nil
}

// Composite returns the current composite, or nil for the placeholder.
func (s *sessionService) Composite(ctx context.Context, id string) (*design.Image, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	return ws.Store().Composite(), nil
}

func (s *sessionService) CachedRecommendations(ctx context.Context, id string, style string) (*dto.CachedRecommendationResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	st := design.Style(style)
	if !st.Valid() {
		return nil, fmt.Errorf("%w: %q", design.ErrInvalidStyle, style)
	}
	products, queries, ok := ws.Store().Cache().Get(st)
	if !ok {
		return nil, fmt.Errorf("%w: no cached recommendations for %s", design.ErrResultNotFound, style)
	}
	return &dto.CachedRecommendationResponse{
		Style:    style,
		Products: products,
		Queries:  queries,
	}, nil
}

func (s *sessionService) Reset(ctx context.Context, id string) (*dto.DesignSessionResponse, error) {
	ws, err := s.workspace(id)
	if err != nil {
		return nil, err
	}
	ws.Store().Reset()
	s.publish(ctx, events.SessionReset, id, nil)
	return s.respond(ws), nil
}

func (s *sessionService) Delete(ctx context.Context, id string) error {
	if _, err := s.workspace(id); err != nil {
		return err
	}
	// Cleanup runs in the eviction callback.
	s.repo.Delete(id)
	return nil
}

func (s *sessionService) workspace(id string) (*Workspace, error) {
	ws, ok := s.repo.Get(id)
	if !ok {
		return nil, design.ErrSessionNotFound
	}
	s.repo.Touch(id)
	return ws, nil
}

func (s *sessionService) respond(ws *Workspace) *dto.DesignSessionResponse {
	return s.mapper.SnapshotToResponse(ws.ID, ws.Store().Snapshot())
}

func (s *sessionService) onEvicted(id string, ws *Workspace) {
	if ws.unsubscribe != nil {
		ws.unsubscribe()
	}
	if s.clients != nil {
		s.clients.CloseSession(id)
	}
	metrics.SessionClosed()
	s.publish(context.Background(), events.SessionClosed, id, map[string]interface{}{
		"lifetime_seconds": int(time.Since(ws.CreatedAt).Seconds()),
	})
	s.logger.Info(sessionModule, "Design session closed", map[string]interface{}{"session_id": id})
}

func (s *sessionService) hooksFor(id string) design.Hooks {
	return design.Hooks{
		OnCacheLookup: func(style design.Style, hit bool) {
			metrics.ObserveCacheLookup(string(style), hit)
		},
		OnQueryGeneration: func(style design.Style, took time.Duration, err error) {
			metrics.ObserveCollaborator("query_generator", resultLabel(err), took)
		},
		OnVisualization: func(style design.Style, took time.Duration, status design.CompositeStatus) {
			metrics.ObserveCollaborator("visualizer", string(status), took)
		},
		OnOutcome: func(outcome *design.Outcome) {
			metrics.ObserveOutcome(string(outcome.State), string(outcome.Composite))
			s.publishOutcome(id, outcome)
		},
	}
}

func (s *sessionService) publishOutcome(id string, outcome *design.Outcome) {
	data := map[string]interface{}{
		"style":      string(outcome.Style),
		"composite":  string(outcome.Composite),
		"products":   len(outcome.Products),
		"queries":    len(outcome.Queries),
		"latency_ms": outcome.Latency.Milliseconds(),
		"stale":      outcome.Stale,
	}
	if outcome.ResultID != "" {
		data["result_id"] = outcome.ResultID
	}
	if outcome.Err != nil {
		data["error"] = outcome.Err.Error()
	}

	eventType := events.GenerationCompleted
	switch outcome.State {
	case design.OutcomeCacheHit:
		eventType = events.GenerationCacheHit
	case design.OutcomeDegraded:
		eventType = events.GenerationDegraded
	}
	ctx := context.Background()
	s.publish(ctx, eventType, id, data)

	if outcome.Composite == design.CompositeRateLimited {
		s.publish(ctx, events.VisualizationRateLimited, id, map[string]interface{}{"style": string(outcome.Style)})
	}
}

func (s *sessionService) publish(ctx context.Context, eventType, sessionID string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, events.New(eventType, sessionID, data)); err != nil {
		s.logger.Warn(sessionModule, "Failed to publish event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}
