package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylii-be/internal/config"
	"stylii-be/internal/dto"
	"stylii-be/internal/mapper"
	"stylii-be/internal/pkg/logger"
	"stylii-be/internal/repository/memory"
	"stylii-be/internal/websocket"
	"stylii-be/pkg/design"
	"stylii-be/pkg/events"
)

type stubQueries struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubQueries) GenerateQueries(_ context.Context, req design.QueryRequest) (*design.QueryResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	thumb := "https://img.example/" + req.Style + ".jpg"
	return &design.QueryResponse{
		AmazonSearchQueries: []string{req.Style + " sofa"},
		RecommendedProducts: []design.Product{{Title: req.Style + " sofa", Link: "https://amazon.com/x", Thumbnail: &thumb}},
	}, nil
}

type stubVisualizer struct {
	err error
}

func (s *stubVisualizer) Visualize(context.Context, design.VisualizationRequest) (*design.VisualizationResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	img := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\ncomposite"))
	return &design.VisualizationResponse{GeneratedImage: &img}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

type sessionFixture struct {
	svc       ISessionService
	repo      *memory.SessionRepository[*Workspace]
	queries   *stubQueries
	vis       *stubVisualizer
	publisher *recordingPublisher
}

func newSessionFixture(t *testing.T, snapshots ISnapshotPublisher) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		repo:      memory.NewSessionRepository[*Workspace](time.Hour),
		queries:   &stubQueries{},
		vis:       &stubVisualizer{},
		publisher: &recordingPublisher{},
	}
	f.svc = NewSessionService(
		f.repo, f.queries, f.vis, snapshots, nil, f.publisher,
		mapper.NewDesignMapper("/api/session"),
		config.SessionConfig{RecommendationTTL: time.Hour},
		logger.NewNopLogger(),
	)
	return f
}

func (f *sessionFixture) ready(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	created, err := f.svc.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.AddImage(ctx, created.Id, design.Blob{ContentType: "image/jpeg", Data: []byte("room")})
	require.NoError(t, err)
	_, err = f.svc.ToggleCategory(ctx, created.Id, "furniture")
	require.NoError(t, err)
	return created.Id
}

func TestSessionCreateAndGet(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, design.DefaultBudget, created.Budget)
	assert.Equal(t, design.PlaceholderRender, created.RenderURL)
	assert.False(t, created.ReadyToSubmit)

	got, err := f.svc.Get(ctx, created.Id)
	require.NoError(t, err)
	assert.Equal(t, created.Id, got.Id)

	_, err = f.svc.Get(ctx, "unknown")
	assert.ErrorIs(t, err, design.ErrSessionNotFound)
	assert.Contains(t, f.publisher.types(), events.SessionCreated)
}

func TestSessionUpdate(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()
	created, err := f.svc.Create(ctx)
	require.NoError(t, err)

	budget := 8000
	style := "industrial"
	notes := "keep the piano"
	categories := []string{"lighting", "decor"}
	got, err := f.svc.Update(ctx, created.Id, &dto.UpdateDesignSessionRequest{
		Budget:             &budget,
		Style:              &style,
		Notes:              &notes,
		SelectedCategories: &categories,
	})
	require.NoError(t, err)
	assert.Equal(t, 8000, got.Budget)
	assert.Equal(t, "industrial", got.Style)
	assert.Equal(t, "keep the piano", got.Notes)
	assert.Equal(t, []string{"lighting", "decor"}, got.SelectedCategories)

	bad := "baroque"
	_, err = f.svc.Update(ctx, created.Id, &dto.UpdateDesignSessionRequest{Style: &bad})
	assert.ErrorIs(t, err, design.ErrInvalidStyle)

	zero := 0
	_, err = f.svc.Update(ctx, created.Id, &dto.UpdateDesignSessionRequest{Budget: &zero})
	assert.ErrorIs(t, err, design.ErrInvalidBudget)
}

func TestSessionGenerateThenCacheHit(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()
	id := f.ready(t)

	first, err := f.svc.Generate(ctx, id, "modern")
	require.NoError(t, err)
	assert.Equal(t, string(design.OutcomeDone), first.State)
	assert.Equal(t, string(design.CompositeCreated), first.Composite)
	require.Len(t, first.Products, 1)

	second, err := f.svc.Generate(ctx, id, "modern")
	require.NoError(t, err)
	assert.Equal(t, string(design.OutcomeCacheHit), second.State)
	assert.Equal(t, 1, f.queries.calls)

	snap, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, snap.HasComposite)
	assert.Equal(t, "/api/session/"+id+"/composite", snap.RenderURL)
	require.Len(t, snap.Results, 1)

	img, err := f.svc.Composite(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.ContentType)

	render, err := f.svc.ResultRender(ctx, id, first.ResultId)
	require.NoError(t, err)
	assert.NotNil(t, render)

	_, err = f.svc.ResultRender(ctx, id, "missing")
	assert.ErrorIs(t, err, design.ErrResultNotFound)

	cached, err := f.svc.CachedRecommendations(ctx, id, "modern")
	require.NoError(t, err)
	assert.Equal(t, []string{"modern sofa"}, cached.Queries)

	_, err = f.svc.CachedRecommendations(ctx, id, "bohemian")
	assert.ErrorIs(t, err, design.ErrResultNotFound)

	assert.Subset(t, f.publisher.types(), []string{events.GenerationCompleted, events.GenerationCacheHit})
}

func TestSessionGenerateDegraded(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.queries.err = errors.New("upstream down")
	ctx := context.Background()
	id := f.ready(t)

	outcome, err := f.svc.Generate(ctx, id, "bohemian")
	require.NoError(t, err)
	assert.Equal(t, string(design.OutcomeDegraded), outcome.State)
	assert.NotEmpty(t, outcome.Error)

	snap, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, snap.IsGenerating)
	assert.NotEmpty(t, snap.Error)
	assert.Contains(t, f.publisher.types(), events.GenerationDegraded)
}

func TestSessionRateLimitParkingAndRetry(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.vis.err = &design.VisualizationError{StatusCode: 429, Body: "rate limit", RateLimited: true}
	ctx := context.Background()
	id := f.ready(t)

	outcome, err := f.svc.Generate(ctx, id, "modern")
	require.NoError(t, err)
	assert.Equal(t, string(design.CompositeRateLimited), outcome.Composite)
	assert.Contains(t, f.publisher.types(), events.VisualizationRateLimited)

	snap, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, snap.RateLimited)

	f.vis.err = nil
	retried, err := f.svc.RetryVisualization(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(design.CompositeCreated), retried.Composite)

	snap, err = f.svc.ClearRateLimit(ctx, id)
	require.NoError(t, err)
	assert.False(t, snap.RateLimited)
}

func TestSessionResultsAndSelect(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()
	id := f.ready(t)

	first, err := f.svc.Generate(ctx, id, "modern")
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, id, "industrial")
	require.NoError(t, err)

	results, err := f.svc.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "industrial", results[0].Style)

	snap, err := f.svc.SelectResult(ctx, id, first.ResultId)
	require.NoError(t, err)
	assert.Equal(t, first.ResultId, snap.CurrentResultId)

	_, err = f.svc.SelectResult(ctx, id, "nope")
	assert.ErrorIs(t, err, design.ErrResultNotFound)
}

func TestSessionImagesAndReset(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()
	id := f.ready(t)

	snap, err := f.svc.RemoveImage(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Images)

	_, err = f.svc.RemoveImage(ctx, id, 3)
	assert.ErrorIs(t, err, design.ErrImageIndex)

	_, err = f.svc.Generate(ctx, id, "modern")
	require.NoError(t, err)

	snap, err = f.svc.Reset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, design.DefaultBudget, snap.Budget)
	assert.Empty(t, snap.Results)
	assert.Empty(t, snap.SelectedCategories)
	assert.Contains(t, f.publisher.types(), events.SessionReset)
}

func TestSessionDelete(t *testing.T) {
	f := newSessionFixture(t, nil)
	ctx := context.Background()
	created, err := f.svc.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, created.Id))
	assert.ErrorIs(t, f.svc.Delete(ctx, created.Id), design.ErrSessionNotFound)
	assert.Contains(t, f.publisher.types(), events.SessionClosed)
	assert.Zero(t, f.repo.Count())
}

func TestSessionSnapshotsReachBroadcaster(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	sink := &recordingBroadcaster{}
	consumer := NewSnapshotConsumer(pubSub, SnapshotTopic, sink, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Consume(ctx))

	f := newSessionFixture(t, NewSnapshotPublisher(SnapshotTopic, pubSub))
	created, err := f.svc.Create(context.Background())
	require.NoError(t, err)

	budget := 7000
	_, err = f.svc.Update(context.Background(), created.Id, &dto.UpdateDesignSessionRequest{Budget: &budget})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, 10*time.Millisecond)
	sessionID, payload := sink.last()
	assert.Equal(t, created.Id, sessionID)

	var msg dto.SessionEventMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.EqualValues(t, 1, msg.Seq)
	assert.Equal(t, 7000, msg.Data.Budget)

	// Deleted sessions stop publishing.
	before := sink.count()
	ws, ok := f.repo.Get(created.Id)
	require.True(t, ok)
	require.NoError(t, f.svc.Delete(context.Background(), created.Id))
	require.NoError(t, ws.Store().SetBudget(9000))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, sink.count())
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages [][]byte
	sessions []string
	delay    time.Duration
}

func (r *recordingBroadcaster) Send(_ context.Context, sessionID string, data []byte) {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
	r.messages = append(r.messages, data)
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recordingBroadcaster) last() (string, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[len(r.sessions)-1], r.messages[len(r.messages)-1]
}

func (r *recordingBroadcaster) seqs(t *testing.T) []uint64 {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.messages))
	for _, raw := range r.messages {
		var msg dto.SessionEventMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg.Seq)
	}
	return out
}

func TestSessionMutationsDoNotWaitForSlowBroadcast(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	sink := &recordingBroadcaster{delay: 300 * time.Millisecond}
	consumer := NewSnapshotConsumer(pubSub, SnapshotTopic, sink, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Consume(ctx))

	f := newSessionFixture(t, NewSnapshotPublisher(SnapshotTopic, pubSub))
	created, err := f.svc.Create(context.Background())
	require.NoError(t, err)

	started := time.Now()
	for _, notes := range []string{"one", "two", "three"} {
		n := notes
		_, err := f.svc.Update(context.Background(), created.Id, &dto.UpdateDesignSessionRequest{Notes: &n})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(started), 200*time.Millisecond)

	require.Eventually(t, func() bool {
		if sink.count() == 0 {
			return false
		}
		_, payload := sink.last()
		var msg dto.SessionEventMessage
		return json.Unmarshal(payload, &msg) == nil && msg.Data.Notes == "three"
	}, 3*time.Second, 20*time.Millisecond)

	seqs := sink.seqs(t)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], "snapshots forwarded out of order: %v", seqs)
	}
}

func TestSnapshotConsumerDropsOutdatedSnapshots(t *testing.T) {
	sink := &recordingBroadcaster{}
	c := NewSnapshotConsumer(nil, SnapshotTopic, sink, logger.NewNopLogger()).(*snapshotConsumer)

	deliver := func(sessionID, seq string) {
		msg := message.NewMessage(watermill.NewUUID(), []byte(`{"seq":`+seq+`}`))
		msg.Metadata.Set(sessionIDKey, sessionID)
		msg.Metadata.Set(seqKey, seq)
		c.processMessage(context.Background(), msg)
	}

	deliver("a", "2")
	deliver("a", "1")
	deliver("a", "2")
	deliver("b", "1")
	deliver("a", "3")

	assert.Equal(t, []uint64{2, 1, 3}, sink.seqs(t))
	assert.Equal(t, []string{"a", "b", "a"}, sink.sessions)
}

func TestSessionDeleteDisconnectsClients(t *testing.T) {
	hub := websocket.NewHub(nil, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	repo := memory.NewSessionRepository[*Workspace](time.Hour)
	svc := NewSessionService(
		repo, &stubQueries{}, &stubVisualizer{}, nil, hub, nil,
		mapper.NewDesignMapper("/api/session"),
		config.SessionConfig{RecommendationTTL: time.Hour},
		logger.NewNopLogger(),
	)
	created, err := svc.Create(context.Background())
	require.NoError(t, err)

	client := websocket.NewClient(hub, nil, created.Id)
	hub.Register(client)
	require.Equal(t, 1, hub.ClientCount(created.Id))

	require.NoError(t, svc.Delete(context.Background(), created.Id))

	assert.Zero(t, hub.ClientCount(created.Id))
	select {
	case _, ok := <-client.Send:
		assert.False(t, ok, "send channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("client was not disconnected")
	}
}
