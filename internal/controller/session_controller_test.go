package controller

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stylii-be/internal/config"
	"stylii-be/internal/dto"
	"stylii-be/internal/mapper"
	"stylii-be/internal/pkg/logger"
	"stylii-be/internal/pkg/serverutils"
	"stylii-be/internal/repository/memory"
	"stylii-be/internal/service"
	"stylii-be/pkg/design"
)

var compositePNG = []byte("\x89PNG\r\n\x1a\ncomposite")

type cannedQueries struct {
	calls int
}

func (c *cannedQueries) GenerateQueries(_ context.Context, req design.QueryRequest) (*design.QueryResponse, error) {
	c.calls++
	thumb := "https://img.example/lamp.jpg"
	price := "$89.99"
	return &design.QueryResponse{
		AmazonSearchQueries: []string{req.Style + " floor lamp"},
		RecommendedProducts: []design.Product{{
			Title:     "Arc Floor Lamp",
			Link:      "https://amazon.com/dp/lamp",
			Price:     &price,
			Thumbnail: &thumb,
		}},
	}, nil
}

type cannedVisualizer struct{}

func (cannedVisualizer) Visualize(context.Context, design.VisualizationRequest) (*design.VisualizationResponse, error) {
	img := base64.StdEncoding.EncodeToString(compositePNG)
	return &design.VisualizationResponse{GeneratedImage: &img}, nil
}

type sessionEnvelope struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message"`
	Data    dto.DesignSessionResponse `json:"data"`
}

type outcomeEnvelope struct {
	Success bool                          `json:"success"`
	Data    dto.GenerationOutcomeResponse `json:"data"`
}

func newSessionApp(t *testing.T, maxUpload int) (*fiber.App, *cannedQueries) {
	t.Helper()
	queries := &cannedQueries{}
	repo := memory.NewSessionRepository[*service.Workspace](time.Hour)
	t.Cleanup(repo.Flush)

	svc := service.NewSessionService(
		repo, queries, cannedVisualizer{}, nil, nil, nil,
		mapper.NewDesignMapper("/api/session"),
		config.SessionConfig{RecommendationTTL: time.Hour},
		logger.NewNopLogger(),
	)
	return newTestApp(NewSessionController(svc, maxUpload)), queries
}

func createSession(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, raw := doJSON(t, app, http.MethodPost, "/api/session", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body sessionEnvelope
	require.NoError(t, json.Unmarshal(raw, &body))
	require.True(t, body.Success)
	return body.Data.Id
}

func uploadImage(t *testing.T, app *fiber.App, id, field string, data []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="room.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/session/"+id+"/images", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	app, queries := newSessionApp(t, 1<<20)
	id := createSession(t, app)

	resp, _ := doJSON(t, app, http.MethodGet, "/api/session/"+id+"/composite", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, design.PlaceholderRender, resp.Header.Get(fiber.HeaderLocation))

	resp, raw := uploadImage(t, app, id, "images", []byte("\xff\xd8\xffroom"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var session sessionEnvelope
	require.NoError(t, json.Unmarshal(raw, &session))
	require.Len(t, session.Data.Images, 1)
	assert.Equal(t, "image/jpeg", session.Data.Images[0].ContentType)
	assert.False(t, session.Data.ReadyToSubmit)

	resp, raw = doJSON(t, app, http.MethodPost, "/api/session/"+id+"/categories/toggle", `{"category":"lighting"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	require.NoError(t, json.Unmarshal(raw, &session))
	assert.Equal(t, []string{"lighting"}, session.Data.SelectedCategories)
	assert.True(t, session.Data.ReadyToSubmit)

	resp, raw = doJSON(t, app, http.MethodPost, "/api/session/"+id+"/generate", `{"style":"modern"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var outcome outcomeEnvelope
	require.NoError(t, json.Unmarshal(raw, &outcome))
	assert.Equal(t, string(design.OutcomeDone), outcome.Data.State)
	assert.Equal(t, string(design.CompositeCreated), outcome.Data.Composite)
	assert.Equal(t, []string{"modern floor lamp"}, outcome.Data.Queries)
	require.NotEmpty(t, outcome.Data.ResultId)

	resp, raw = doJSON(t, app, http.MethodGet, "/api/session/"+id+"/composite", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, compositePNG, raw)

	resp, raw = doJSON(t, app, http.MethodGet, "/api/session/"+id+"/results/"+outcome.Data.ResultId+"/render", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, compositePNG, raw)

	resp, raw = doJSON(t, app, http.MethodPost, "/api/session/"+id+"/generate", `{"style":"modern"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &outcome))
	assert.Equal(t, string(design.OutcomeCacheHit), outcome.Data.State)
	assert.Equal(t, 1, queries.calls)

	resp, raw = doJSON(t, app, http.MethodGet, "/api/session/"+id+"/recommendations/modern", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "Arc Floor Lamp")

	resp, _ = doJSON(t, app, http.MethodGet, "/api/session/"+id+"/recommendations/industrial", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, raw = doJSON(t, app, http.MethodGet, "/api/session/"+id+"/results", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), outcome.Data.Style)

	resp, raw = doJSON(t, app, http.MethodPost, "/api/session/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &session))
	assert.Empty(t, session.Data.Images)
	assert.Equal(t, design.DefaultBudget, session.Data.Budget)

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/session/"+id, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/session/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionUpdateValidation(t *testing.T) {
	app, _ := newSessionApp(t, 1<<20)
	id := createSession(t, app)

	resp, raw := doJSON(t, app, http.MethodPatch, "/api/session/"+id, `{"budget":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body serverutils.Response[any]
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "Budget")

	resp, _ = doJSON(t, app, http.MethodPatch, "/api/session/"+id, `{"style":"baroque"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = doJSON(t, app, http.MethodPatch, "/api/session/"+id, `{"budget":8000,"style":"industrial","notes":"keep the rug"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var session sessionEnvelope
	require.NoError(t, json.Unmarshal(raw, &session))
	assert.Equal(t, 8000, session.Data.Budget)
	assert.Equal(t, "industrial", session.Data.Style)
	assert.Equal(t, "keep the rug", session.Data.Notes)
}

func TestSessionRouteErrors(t *testing.T) {
	app, _ := newSessionApp(t, 8)
	id := createSession(t, app)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"malformed id", http.MethodGet, "/api/session/not-a-uuid", "", http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/api/session/" + uuid.NewString(), "", http.StatusNotFound},
		{"missing style", http.MethodPost, "/api/session/" + id + "/generate", `{}`, http.StatusBadRequest},
		{"unknown style", http.MethodPost, "/api/session/" + id + "/generate", `{"style":"baroque"}`, http.StatusBadRequest},
		{"retry without products", http.MethodPost, "/api/session/" + id + "/visualization/retry", "", http.StatusUnprocessableEntity},
		{"bad image index", http.MethodDelete, "/api/session/" + id + "/images/abc", "", http.StatusBadRequest},
		{"image index out of range", http.MethodDelete, "/api/session/" + id + "/images/3", "", http.StatusBadRequest},
		{"unknown category", http.MethodPost, "/api/session/" + id + "/categories/toggle", `{"category":"pets"}`, http.StatusBadRequest},
		{"unknown result", http.MethodPost, "/api/session/" + id + "/results/" + uuid.NewString() + "/select", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode, string(raw))
		})
	}
}

func TestSessionUploadLimit(t *testing.T) {
	app, _ := newSessionApp(t, 8)
	id := createSession(t, app)

	resp, raw := uploadImage(t, app, id, "image", bytes.Repeat([]byte("x"), 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, string(raw), "upload limit")

	resp, _ = uploadImage(t, app, id, "photo", []byte("tiny"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
