package controller

import (
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"stylii-be/internal/dto"
	"stylii-be/internal/pkg/serverutils"
	"stylii-be/internal/service"
	"stylii-be/pkg/design"

	"github.com/gofiber/fiber/v2"
)

type ISessionController interface {
	RegisterRoutes(r fiber.Router)
	Create(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Update(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
	AddImages(ctx *fiber.Ctx) error
	RemoveImage(ctx *fiber.Ctx) error
	ToggleCategory(ctx *fiber.Ctx) error
	Generate(ctx *fiber.Ctx) error
	RetryVisualization(ctx *fiber.Ctx) error
	ClearRateLimit(ctx *fiber.Ctx) error
	Results(ctx *fiber.Ctx) error
	SelectResult(ctx *fiber.Ctx) error
	ResultRender(ctx *fiber.Ctx) error
	Composite(ctx *fiber.Ctx) error
	CachedRecommendations(ctx *fiber.Ctx) error
	Reset(ctx *fiber.Ctx) error
}

type sessionController struct {
	service        service.ISessionService
	maxUploadBytes int
}

func NewSessionController(service service.ISessionService, maxUploadBytes int) ISessionController {
	return &sessionController{service: service, maxUploadBytes: maxUploadBytes}
}

func (c *sessionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/session")
	s := serverutils.SessionMiddleware

	h.Post("", c.Create)
	h.Get("/:id", s, c.Show)
	h.Patch("/:id", s, c.Update)
	h.Delete("/:id", s, c.Delete)

	h.Post("/:id/images", s, c.AddImages)
	h.Delete("/:id/images/:index", s, c.RemoveImage)
	h.Post("/:id/categories/toggle", s, c.ToggleCategory)

	h.Post("/:id/generate", s, c.Generate)
	h.Post("/:id/visualization/retry", s, c.RetryVisualization)
	h.Post("/:id/rate-limit/clear", s, c.ClearRateLimit)
	h.Post("/:id/reset", s, c.Reset)

	h.Get("/:id/results", s, c.Results)
	h.Post("/:id/results/:resultId/select", s, c.SelectResult)
	h.Get("/:id/results/:resultId/render", s, c.ResultRender)
	h.Get("/:id/composite", s, c.Composite)
	h.Get("/:id/recommendations/:style", s, c.CachedRecommendations)
}

func (c *sessionController) Create(ctx *fiber.Ctx) error {
	res, err := c.service.Create(ctx.UserContext())
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create design session", res))
}

func (c *sessionController) Show(ctx *fiber.Ctx) error {
	res, err := c.service.Get(ctx.UserContext(), serverutils.SessionID(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show design session", res))
}

func (c *sessionController) Update(ctx *fiber.Ctx) error {
	var req dto.UpdateDesignSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Update(ctx.UserContext(), serverutils.SessionID(ctx), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success update design session", res))
}

func (c *sessionController) Delete(ctx *fiber.Ctx) error {
	if err := c.service.Delete(ctx.UserContext(), serverutils.SessionID(ctx)); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete design session", nil))
}

// AddImages accepts one or more room photos as multipart files named
// "images" or "image".
func (c *sessionController) AddImages(ctx *fiber.Ctx) error {
	form, err := ctx.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Expected a multipart form with room images")
	}
	files := append(form.File["images"], form.File["image"]...)
	if len(files) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "No image file uploaded")
	}

	id := serverutils.SessionID(ctx)
	var res *dto.DesignSessionResponse
	for _, fh := range files {
		blob, err := c.readUpload(fh)
		if err != nil {
			return err
		}
		res, err = c.service.AddImage(ctx.UserContext(), id, blob)
		if err != nil {
			return err
		}
	}

	return ctx.JSON(serverutils.SuccessResponse("Success upload room image", res))
}

func (c *sessionController) readUpload(fh *multipart.FileHeader) (design.Blob, error) {
	if c.maxUploadBytes > 0 && fh.Size > int64(c.maxUploadBytes) {
		return design.Blob{}, fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("%s exceeds the %d byte upload limit", fh.Filename, c.maxUploadBytes))
	}
	f, err := fh.Open()
	if err != nil {
		return design.Blob{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return design.Blob{}, err
	}
	return design.NewBlob(fh.Header.Get("Content-Type"), data)
}

func (c *sessionController) RemoveImage(ctx *fiber.Ctx) error {
	index, err := strconv.Atoi(ctx.Params("index"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid image index")
	}

	res, err := c.service.RemoveImage(ctx.UserContext(), serverutils.SessionID(ctx), index)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success remove room image", res))
}

func (c *sessionController) ToggleCategory(ctx *fiber.Ctx) error {
	var req dto.ToggleCategoryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.ToggleCategory(ctx.UserContext(), serverutils.SessionID(ctx), req.Category)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success toggle category", res))
}

func (c *sessionController) Generate(ctx *fiber.Ctx) error {
	var req dto.GenerateDesignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Generate(ctx.UserContext(), serverutils.SessionID(ctx), req.Style)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success generate design", res))
}

func (c *sessionController) RetryVisualization(ctx *fiber.Ctx) error {
	res, err := c.service.RetryVisualization(ctx.UserContext(), serverutils.SessionID(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success retry visualization", res))
}

func (c *sessionController) ClearRateLimit(ctx *fiber.Ctx) error {
	res, err := c.service.ClearRateLimit(ctx.UserContext(), serverutils.SessionID(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success clear rate limit", res))
}

func (c *sessionController) Results(ctx *fiber.Ctx) error {
	res, err := c.service.Results(ctx.UserContext(), serverutils.SessionID(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get design results", res))
}

func (c *sessionController) SelectResult(ctx *fiber.Ctx) error {
	res, err := c.service.SelectResult(ctx.UserContext(), serverutils.SessionID(ctx), ctx.Params("resultId"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success select design result", res))
}

func (c *sessionController) ResultRender(ctx *fiber.Ctx) error {
	img, err := c.service.ResultRender(ctx.UserContext(), serverutils.SessionID(ctx), ctx.Params("resultId"))
	if err != nil {
		return err
	}
	return sendImage(ctx, img)
}

func (c *sessionController) Composite(ctx *fiber.Ctx) error {
	img, err := c.service.Composite(ctx.UserContext(), serverutils.SessionID(ctx))
	if err != nil {
		return err
	}
	return sendImage(ctx, img)
}

func (c *sessionController) CachedRecommendations(ctx *fiber.Ctx) error {
	res, err := c.service.CachedRecommendations(ctx.UserContext(), serverutils.SessionID(ctx), ctx.Params("style"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get cached recommendations", res))
}

func (c *sessionController) Reset(ctx *fiber.Ctx) error {
	res, err := c.service.Reset(ctx.UserContext(), serverutils.SessionID(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success reset design session", res))
}

// sendImage streams the image bytes, or redirects to the placeholder when
// there is nothing to show.
func sendImage(ctx *fiber.Ctx, img *design.Image) error {
	if img == nil || len(img.Data) == 0 {
		return ctx.Redirect(design.PlaceholderRender, fiber.StatusFound)
	}
	ctx.Set(fiber.HeaderContentType, img.ContentType)
	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.Send(img.Data)
}
