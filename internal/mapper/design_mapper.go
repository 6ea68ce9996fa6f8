package mapper

import (
	"fmt"

	"stylii-be/internal/dto"
	"stylii-be/pkg/design"
)

type DesignMapper struct {
	basePath string
}

// NewDesignMapper builds render URLs under basePath, e.g. "/api/session".
func NewDesignMapper(basePath string) *DesignMapper {
	return &DesignMapper{basePath: basePath}
}

func (m *DesignMapper) CompositeURL(sessionID string) string {
	return fmt.Sprintf("%s/%s/composite", m.basePath, sessionID)
}

func (m *DesignMapper) ResultRenderURL(sessionID, resultID string) string {
	return fmt.Sprintf("%s/%s/results/%s/render", m.basePath, sessionID, resultID)
}

func (m *DesignMapper) SnapshotToResponse(sessionID string, s design.Snapshot) *dto.DesignSessionResponse {
	images := make([]dto.SessionImageDTO, 0, len(s.Images))
	for i, img := range s.Images {
		images = append(images, dto.SessionImageDTO{
			Index:       i,
			ContentType: img.ContentType,
			Size:        len(img.Data),
		})
	}

	categories := make([]string, 0, len(s.SelectedCategories))
	for _, c := range s.SelectedCategories {
		categories = append(categories, string(c))
	}

	results := make([]dto.DesignResultDTO, 0, len(s.Results))
	for _, r := range s.Results {
		results = append(results, m.ResultToDTO(sessionID, r))
	}

	renderURL := design.PlaceholderRender
	hasComposite := s.Composite != nil && len(s.Composite.Data) > 0
	if hasComposite {
		renderURL = m.CompositeURL(sessionID)
	}

	return &dto.DesignSessionResponse{
		Id:                  sessionID,
		Images:              images,
		Budget:              s.Budget,
		Style:               string(s.Style),
		Notes:               s.Notes,
		SelectedCategories:  categories,
		IsGenerating:        s.IsGenerating,
		Error:               s.Error,
		RateLimited:         s.RateLimited,
		ReadyToSubmit:       s.ReadyToSubmit(),
		RecommendedProducts: nonNilProducts(s.RecommendedProducts),
		SearchQueries:       nonNilStrings(s.SearchQueries),
		RenderURL:           renderURL,
		HasComposite:        hasComposite,
		Results:             results,
		CurrentResultId:     s.CurrentResultID,
	}
}

func (m *DesignMapper) ResultToDTO(sessionID string, r design.DesignResult) dto.DesignResultDTO {
	renderURL := design.PlaceholderRender
	if r.HasRender() {
		renderURL = m.ResultRenderURL(sessionID, r.ID)
	}
	return dto.DesignResultDTO{
		Id:        r.ID,
		RenderURL: renderURL,
		HasRender: r.HasRender(),
		Products:  nonNilProducts(r.Products),
		Queries:   nonNilStrings(r.Queries),
		Style:     string(r.Style),
		Budget:    r.Budget,
		CreatedAt: r.CreatedAt,
		LatencyMs: r.Latency.Milliseconds(),
	}
}

func (m *DesignMapper) OutcomeToResponse(o *design.Outcome) *dto.GenerationOutcomeResponse {
	if o == nil {
		return nil
	}
	res := &dto.GenerationOutcomeResponse{
		State:     string(o.State),
		Style:     string(o.Style),
		Composite: string(o.Composite),
		ResultId:  o.ResultID,
		Stale:     o.Stale,
		LatencyMs: o.Latency.Milliseconds(),
		Products:  nonNilProducts(o.Products),
		Queries:   nonNilStrings(o.Queries),
	}
	if o.Err != nil {
		res.Error = o.Err.Error()
	}
	return res
}

func nonNilProducts(in []design.Product) []design.Product {
	if in == nil {
		return []design.Product{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
