package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"stylii-be/internal/config"
	"stylii-be/internal/dto"
	"stylii-be/internal/metrics"
	"stylii-be/internal/pkg/logger"
	"stylii-be/internal/tracer"
	"stylii-be/pkg/design"
	"stylii-be/pkg/gemini"
	"stylii-be/pkg/picker"
	"stylii-be/pkg/serpapi"
)

const designQueryModule = "DesignQueryService"

// TextGenerator is the part of the Gemini client the query service needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, model string, parts []*gemini.Part, config *gemini.GenerationConfig) (string, error)
}

// ProductSearcher runs a single Amazon search.
type ProductSearcher interface {
	Search(ctx context.Context, query string) (*serpapi.SearchResponse, error)
}

type IDesignQueryService interface {
	GenerateDesignQueries(ctx context.Context, req *dto.DesignQueryRequest) (*dto.DesignQueryResponse, error)

	// GenerateQueries lets the orchestrator call the service in process.
	GenerateQueries(ctx context.Context, req design.QueryRequest) (*design.QueryResponse, error)
}

type designQueryService struct {
	llm      TextGenerator
	searcher ProductSearcher
	cfg      config.AIConfig
	logger   logger.ILogger
}

func NewDesignQueryService(llm TextGenerator, searcher ProductSearcher, cfg config.AIConfig, log logger.ILogger) IDesignQueryService {
	return &designQueryService{
		llm:      llm,
		searcher: searcher,
		cfg:      cfg,
		logger:   log,
	}
}

func (s *designQueryService) GenerateDesignQueries(ctx context.Context, req *dto.DesignQueryRequest) (*dto.DesignQueryResponse, error) {
	if req.Budget <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Budget must be greater than 0")
	}
	if strings.TrimSpace(req.Style) == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Style is required")
	}

	ctx, span := tracer.Tracer("design-query").Start(ctx, "GenerateDesignQueries")
	defer span.End()
	span.SetAttributes(
		attribute.String("design.style", req.Style),
		attribute.Int("design.budget", req.Budget),
		attribute.Int("design.images", len(req.Images)),
	)

	queries, err := s.generateQueries(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(designQueryModule, "Query generation failed", map[string]interface{}{
			"style": req.Style,
			"error": err.Error(),
		})

		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) && design.IsRateLimitSignature(apiErr.StatusCode, apiErr.Body) {
			return nil, fiber.NewError(fiber.StatusTooManyRequests, "Failed to process design form: "+err.Error())
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to process design form: "+err.Error())
	}

	results := s.searchAll(ctx, queries)
	products := picker.Pick(results, picker.Options{
		Budget:           float64(req.Budget),
		Style:            req.Style,
		Notes:            req.Notes,
		SelectedProducts: req.SelectedProducts,
	})
	span.SetAttributes(
		attribute.Int("design.queries", len(queries)),
		attribute.Int("design.products", len(products)),
	)

	s.logger.Info(designQueryModule, "Design queries generated", map[string]interface{}{
		"style":    req.Style,
		"queries":  len(queries),
		"products": len(products),
	})

	return &dto.DesignQueryResponse{
		AmazonSearchQueries: queries,
		RecommendedProducts: products,
		Reasoning: fmt.Sprintf("Generated %d Amazon search queries for %s style with $%s budget",
			len(queries), req.Style, groupThousands(req.Budget)),
		Status: "success",
	}, nil
}

func (s *designQueryService) GenerateQueries(ctx context.Context, req design.QueryRequest) (*design.QueryResponse, error) {
	resp, err := s.GenerateDesignQueries(ctx, &dto.DesignQueryRequest{
		Budget:           req.Budget,
		Style:            req.Style,
		Notes:            req.Notes,
		SelectedProducts: req.SelectedProducts,
		Images:           req.Images,
	})
	if err != nil {
		return nil, err
	}
	return &design.QueryResponse{
		AmazonSearchQueries: resp.AmazonSearchQueries,
		RecommendedProducts: resp.RecommendedProducts,
	}, nil
}

func (s *designQueryService) generateQueries(ctx context.Context, req *dto.DesignQueryRequest) ([]string, error) {
	parts := []*gemini.Part{gemini.TextPart(BuildDesignPrompt(req))}

	// Only the first photo goes to the model.
	if len(req.Images) > 0 {
		img, err := design.DecodeImage(req.Images[0])
		if err != nil {
			s.logger.Warn(designQueryModule, "Skipping undecodable room image", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			parts = append(parts, gemini.ImagePart(img.ContentType, img.Data))
		}
	}

	temperature := s.cfg.Temperature
	start := time.Now()
	text, err := s.llm.GenerateText(ctx, s.cfg.TextModel, parts, &gemini.GenerationConfig{
		Temperature:     &temperature,
		MaxOutputTokens: s.cfg.MaxOutputTokens,
	})
	metrics.ObserveCollaborator("gemini_text", resultLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	return splitQueries(text), nil
}

// searchAll runs every query against SerpAPI. A failed query is recorded in
// its slot and never aborts the others.
func (s *designQueryService) searchAll(ctx context.Context, queries []string) []serpapi.QueryResult {
	results := make([]serpapi.QueryResult, len(queries))

	var g errgroup.Group
	g.SetLimit(max(1, s.cfg.SearchConcurrency))
	for i, q := range queries {
		g.Go(func() error {
			start := time.Now()
			resp, err := s.searcher.Search(ctx, q)
			metrics.ObserveCollaborator("serpapi", resultLabel(err), time.Since(start))
			if err != nil {
				s.logger.Warn(designQueryModule, "Search query failed", map[string]interface{}{
					"query": q,
					"error": err.Error(),
				})
				results[i] = serpapi.QueryResult{Query: q, Err: err}
				return nil
			}
			results[i] = serpapi.QueryResult{Query: q, Success: true, Response: resp}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// BuildDesignPrompt renders the interior designer brief sent to the model.
func BuildDesignPrompt(req *dto.DesignQueryRequest) string {
	focus := "general home decor"
	if len(req.SelectedProducts) > 0 {
		focus = strings.Join(req.SelectedProducts, ", ")
	}
	notes := req.Notes
	if strings.TrimSpace(notes) == "" {
		notes = "None"
	}

	var b strings.Builder
	b.WriteString("You are a professional interior designer and shopping assistant.\n\n")
	b.WriteString("DESIGN BRIEF:\n")
	fmt.Fprintf(&b, "- Budget: $%s\n", groupThousands(req.Budget))
	fmt.Fprintf(&b, "- Style: %s\n", req.Style)
	fmt.Fprintf(&b, "- Focus Areas: %s\n", focus)
	fmt.Fprintf(&b, "- Notes: %s\n", notes)
	fmt.Fprintf(&b, "- Images: %d provided\n\n", len(req.Images))
	b.WriteString("ANALYSIS:\n")
	b.WriteString("Study the room photo for layout, existing furniture, colors, materials and light. ")
	b.WriteString("Identify what is missing or could be improved for the requested style.\n\n")
	b.WriteString("RECOMMENDATION RULES:\n")
	b.WriteString("- Every query targets one concrete product that fits the style and the focus areas.\n")
	b.WriteString("- Include material, color or size words that make the query specific.\n")
	b.WriteString("- Keep the combined cost realistic for the budget.\n")
	b.WriteString("- Do not repeat the same product type twice.\n\n")
	b.WriteString("OUTPUT:\n")
	b.WriteString("Generate exactly 5-6 optimized Amazon queries, one per line. ")
	b.WriteString("No numbering, no bullets, no extra text.")
	return b.String()
}

func splitQueries(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if q := strings.TrimSpace(line); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// groupThousands formats n with comma separators, 12000 -> "12,000".
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
