package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"stylii-be/internal/config"
	"stylii-be/internal/dto"
	"stylii-be/internal/metrics"
	"stylii-be/internal/pkg/logger"
	"stylii-be/internal/tracer"
	"stylii-be/pkg/design"
	"stylii-be/pkg/gemini"
)

const (
	visualizationModule = "VisualizationService"

	DefaultCustomPrompt = "Prioritize symmetry; leave doorways clear."
	placementPrompt     = "Place each product into the room once, matching perspective, scale, and lighting. " +
		"Return a clean, photorealistic composite image of the room with the products placed naturally."
	layoutPrompt = "The first image is the room. Every following image is a product to place in it."
)

// ImageGenerator is the part of the Gemini client that renders composites.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, model string, parts []*gemini.Part) (mimeType string, data []byte, err error)
}

type IVisualizationService interface {
	GenerateRoomVisualization(ctx context.Context, req *dto.RoomVisualizationRequest) (*dto.RoomVisualizationResponse, error)

	// Visualize lets the orchestrator call the service in process.
	Visualize(ctx context.Context, req design.VisualizationRequest) (*design.VisualizationResponse, error)
}

type visualizationService struct {
	llm     ImageGenerator
	model   string
	fetcher *resty.Client
	cache   *lru.Cache[string, string]
	group   singleflight.Group
	limiter *rate.Limiter
	logger  logger.ILogger
}

func NewVisualizationService(llm ImageGenerator, cfg config.AIConfig, log logger.ILogger) (IVisualizationService, error) {
	cache, err := lru.New[string, string](max(1, cfg.CompositeCacheSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create composite cache: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.ImageRequestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.ImageRequestsPerMin)), cfg.ImageRequestsPerMin)
	}

	return &visualizationService{
		llm:     llm,
		model:   cfg.ImageModel,
		fetcher: resty.New().SetTimeout(cfg.ProductFetchTimeout).SetHeader("User-Agent", "Stylii-Backend/1.0"),
		cache:   cache,
		limiter: limiter,
		logger:  log,
	}, nil
}

func (s *visualizationService) GenerateRoomVisualization(ctx context.Context, req *dto.RoomVisualizationRequest) (*dto.RoomVisualizationResponse, error) {
	if strings.TrimSpace(req.RoomImage) == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "room_image is required (base64 string)")
	}
	if len(req.ProductImages) == 0 && len(req.ProductImageURLs) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Provide product_images (base64) or product_image_urls (URLs)")
	}

	key := CompositeCacheKey(req)
	if cached, ok := s.cache.Get(key); ok {
		metrics.ObserveCompositeCache(true)
		return &dto.RoomVisualizationResponse{
			GeneratedImage: cached,
			Status:         "success",
			Message:        "Composite generated successfully (cached)",
		}, nil
	}
	metrics.ObserveCompositeCache(false)

	// Identical requests in flight share one model call, detached from any
	// single caller's cancellation.
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.render(context.WithoutCancel(ctx), key, req)
	})
	if err != nil {
		return nil, err
	}

	return &dto.RoomVisualizationResponse{
		GeneratedImage: v.(string),
		Status:         "success",
		Message:        "Composite generated successfully",
	}, nil
}

func (s *visualizationService) render(ctx context.Context, key string, req *dto.RoomVisualizationRequest) (string, error) {
	ctx, span := tracer.Tracer("visualization").Start(ctx, "RenderComposite")
	defer span.End()

	if !s.limiter.Allow() {
		metrics.ObserveRateLimited()
		span.SetStatus(codes.Error, "rate limited")
		return "", fiber.NewError(fiber.StatusTooManyRequests, "Image generation rate limit exceeded, retry later")
	}

	room, err := design.DecodeImage(req.RoomImage)
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "Failed to process room image: "+err.Error())
	}

	products := s.decodeProductImages(req.ProductImages)
	products = append(products, s.fetchProductImages(ctx, req.ProductImageURLs)...)
	if len(products) == 0 {
		return "", fiber.NewError(fiber.StatusBadRequest, "No valid product images available")
	}
	span.SetAttributes(attribute.Int("visualization.products", len(products)))

	parts := make([]*gemini.Part, 0, len(products)+2)
	parts = append(parts, gemini.ImagePart(room.ContentType, room.Data))
	for _, p := range products {
		parts = append(parts, gemini.ImagePart(p.ContentType, p.Data))
	}
	parts = append(parts, gemini.TextPart(BuildCompositePrompt(req.Prompt)))

	start := time.Now()
	_, data, err := s.llm.GenerateImage(ctx, s.model, parts)
	metrics.ObserveCollaborator("gemini_image", resultLabel(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(visualizationModule, "Image generation failed", map[string]interface{}{
			"products": len(products),
			"error":    err.Error(),
		})

		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) && design.IsRateLimitSignature(apiErr.StatusCode, apiErr.Body) {
			metrics.ObserveRateLimited()
			return "", fiber.NewError(fiber.StatusTooManyRequests, "Image generation failed: "+err.Error())
		}
		if errors.Is(err, gemini.ErrNoImage) {
			return "", fiber.NewError(fiber.StatusInternalServerError, "No image generated in response")
		}
		return "", fiber.NewError(fiber.StatusInternalServerError, "Image generation failed: "+err.Error())
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	s.cache.Add(key, encoded)

	s.logger.Info(visualizationModule, "Composite generated", map[string]interface{}{
		"products": len(products),
		"bytes":    len(data),
		"took_ms":  time.Since(start).Milliseconds(),
	})
	return encoded, nil
}

func (s *visualizationService) decodeProductImages(payloads []string) []*design.Image {
	out := make([]*design.Image, 0, len(payloads))
	for i, payload := range payloads {
		img, err := design.DecodeImage(payload)
		if err != nil {
			s.logger.Warn(visualizationModule, "Skipping undecodable product image", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		out = append(out, img)
	}
	return out
}

// fetchProductImages downloads every URL concurrently and keeps the ones that
// succeed, in request order.
func (s *visualizationService) fetchProductImages(ctx context.Context, urls []string) []*design.Image {
	slots := make([]*design.Image, len(urls))

	var g errgroup.Group
	g.SetLimit(4)
	for i, u := range urls {
		g.Go(func() error {
			resp, err := s.fetcher.R().SetContext(ctx).Get(u)
			if err == nil && resp.IsError() {
				err = fmt.Errorf("status %d", resp.StatusCode())
			}
			if err != nil {
				s.logger.Warn(visualizationModule, "Failed to fetch product image", map[string]interface{}{
					"url":   u,
					"error": err.Error(),
				})
				return nil
			}
			blob, err := design.NewBlob(resp.Header().Get("Content-Type"), resp.Body())
			if err != nil {
				return nil
			}
			slots[i] = &design.Image{ContentType: blob.ContentType, Data: blob.Data}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*design.Image, 0, len(slots))
	for _, img := range slots {
		if img != nil {
			out = append(out, img)
		}
	}
	return out
}

func (s *visualizationService) Visualize(ctx context.Context, req design.VisualizationRequest) (*design.VisualizationResponse, error) {
	resp, err := s.GenerateRoomVisualization(ctx, &dto.RoomVisualizationRequest{
		RoomImage:        req.RoomImage,
		ProductImageURLs: req.ProductImageURLs,
		Prompt:           req.Prompt,
	})
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return nil, &design.VisualizationError{
				StatusCode:  fiberErr.Code,
				Body:        fiberErr.Message,
				RateLimited: design.IsRateLimitSignature(fiberErr.Code, fiberErr.Message),
				Err:         err,
			}
		}
		return nil, &design.VisualizationError{Err: err}
	}
	if resp.GeneratedImage == "" {
		return &design.VisualizationResponse{}, nil
	}
	return &design.VisualizationResponse{GeneratedImage: &resp.GeneratedImage}, nil
}

// BuildCompositePrompt appends the placement and layout instructions to the
// caller's prompt, falling back to the default brief.
func BuildCompositePrompt(custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		custom = DefaultCustomPrompt + " " + placementPrompt
	}
	return custom + " " + layoutPrompt
}

// CompositeCacheKey fingerprints every input of a request: the full room
// image, each product image, the prompt and the product URLs.
func CompositeCacheKey(req *dto.RoomVisualizationRequest) string {
	h := sha256.New()
	field := func(v string) {
		fmt.Fprintf(h, "%d:%s;", len(v), v)
	}
	field(req.RoomImage)
	field(req.Prompt)
	fmt.Fprintf(h, "images=%d;", len(req.ProductImages))
	for _, img := range req.ProductImages {
		field(img)
	}
	fmt.Fprintf(h, "urls=%d;", len(req.ProductImageURLs))
	for _, u := range req.ProductImageURLs {
		field(u)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
