package handler

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/domain"
	"github.com/soilloss/rusle-pipeline/internal/orchestrator"
	apperrors "github.com/soilloss/rusle-pipeline/internal/pkg/errors"
	"github.com/soilloss/rusle-pipeline/internal/pkg/utils"
	"github.com/soilloss/rusle-pipeline/internal/pkg/validator"
)

// ErosionHandler binds the 8 operations of spec.md's orchestrator API
// (C7) onto fiber routes. Authentication is out of scope (an external
// framework concern per spec.md §2's exclusions); a caller's identity is
// accepted inline in the request body exactly as spec.md §4.9 describes
// the framework layer passing "the caller's user record...only when the
// caller has the admin role" down into get-or-queue.
type ErosionHandler struct {
	svc    *orchestrator.Service
	logger *zap.Logger
}

func NewErosionHandler(svc *orchestrator.Service, logger *zap.Logger) *ErosionHandler {
	return &ErosionHandler{svc: svc, logger: logger}
}

// callerRequest is the inline caller-identity fragment embedded in the
// get-or-queue request bodies.
type callerRequest struct {
	UserID  *int64 `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

func (r callerRequest) toUser() *orchestrator.User {
	if r.UserID == nil {
		return nil
	}
	return &orchestrator.User{ID: *r.UserID, IsAdmin: r.IsAdmin}
}

type getOrQueueBody struct {
	StartYear       int                    `json:"start_year" validate:"required"`
	EndYear         int                    `json:"end_year"`
	MaxZoom         int                    `json:"max_zoom"`
	ConfigOverrides map[string]interface{} `json:"config_overrides"`
	User            *callerRequest         `json:"user"`
}

func (b getOrQueueBody) user() *orchestrator.User {
	if b.User == nil {
		return nil
	}
	return b.User.toUser()
}

// GetOrQueue implements get-or-queue for a canonical region/district polygon.
func (h *ErosionHandler) GetOrQueue(c *fiber.Ctx) error {
	areaType := domain.AreaType(c.Params("area_type"))
	areaID, err := strconv.Atoi(c.Params("area_id"))
	if err != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("area_id must be an integer"))
	}

	var body getOrQueueBody
	if err := c.BodyParser(&body); err != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("invalid request body"))
	}
	if err := validator.Validate(&body); err != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage(err.Error()))
	}

	result, err := h.svc.GetOrQueue(c.Context(), orchestrator.GetOrQueueRequest{
		AreaType: areaType, AreaID: areaID,
		StartYear: body.StartYear, EndYear: body.EndYear,
		User: body.user(), Overrides: domain.ConfigOverrides(body.ConfigOverrides),
		MaxZoom: body.MaxZoom,
	})
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, result, nil)
}

type getOrQueueCustomBody struct {
	Geometry        map[string]interface{} `json:"geometry" validate:"required"`
	StartYear       int                    `json:"start_year" validate:"required"`
	EndYear         int                    `json:"end_year"`
	MaxZoom         int                    `json:"max_zoom"`
	ConfigOverrides map[string]interface{} `json:"config_overrides"`
	User            *callerRequest         `json:"user"`
}

// GetOrQueueCustom implements get-or-queue-custom for an ad-hoc polygon.
func (h *ErosionHandler) GetOrQueueCustom(c *fiber.Ctx) error {
	var body getOrQueueCustomBody
	if err := c.BodyParser(&body); err != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("invalid request body"))
	}
	if err := validator.Validate(&body); err != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage(err.Error()))
	}

	geomJSON, err := json.Marshal(body.Geometry)
	if err != nil {
		return utils.SendError(c, apperrors.ErrInvalidGeometry.WithMessage("could not re-encode geometry"))
	}

	var user *orchestrator.User
	if body.User != nil {
		user = body.User.toUser()
	}

	result, err := h.svc.GetOrQueueCustom(c.Context(), orchestrator.GetOrQueueCustomRequest{
		GeometryGeoJSON: geomJSON,
		StartYear:       body.StartYear, EndYear: body.EndYear,
		User: user, Overrides: domain.ConfigOverrides(body.ConfigOverrides),
		MaxZoom: body.MaxZoom,
	})
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, result, nil)
}

// TaskStarted implements the task-started worker callback.
func (h *ErosionHandler) TaskStarted(c *fiber.Ctx) error {
	var e domain.TaskStartedEvent
	if err := c.BodyParser(&e); err != nil || e.TaskID == "" {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("missing required callback fields"))
	}
	result, err := h.svc.TaskStarted(c.Context(), e)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, result, nil)
}

// TaskComplete implements the task-complete worker callback.
func (h *ErosionHandler) TaskComplete(c *fiber.Ctx) error {
	var e domain.TaskCompleteEvent
	if err := c.BodyParser(&e); err != nil || e.TaskID == "" {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("missing required callback fields"))
	}
	result, err := h.svc.TaskComplete(c.Context(), e)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, result, nil)
}

// TaskFailed implements the task-failed worker callback.
func (h *ErosionHandler) TaskFailed(c *fiber.Ctx) error {
	var e domain.TaskFailedEvent
	if err := c.BodyParser(&e); err != nil || e.TaskID == "" {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("missing required callback fields"))
	}
	result, err := h.svc.TaskFailed(c.Context(), e)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, result, nil)
}

// TaskStatus implements task-status.
func (h *ErosionHandler) TaskStatus(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	if taskID == "" {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("task_id required"))
	}
	result, err := h.svc.TaskStatus(c.Context(), taskID)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, result, nil)
}

// StatusProbe implements status-probe.
func (h *ErosionHandler) StatusProbe(c *fiber.Ctx) error {
	areaID, err := strconv.Atoi(c.Params("area_id"))
	if err != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("area_id must be an integer"))
	}
	result, err := h.svc.StatusProbe(c.Context(), orchestrator.StatusProbeRequest{
		AreaType:    domain.AreaType(c.Params("area_type")),
		AreaID:      areaID,
		PeriodLabel: c.Params("period_label"),
	})
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, result, nil)
}

// TileServe implements tile-serve, the terminal leaf of the tiles_url
// template completed get-or-queue/status-probe responses advertise. Only
// region/district tiles are served: a custom record's tiles_url carries its
// geometry hash in the area_id segment, which is rejected here.
func (h *ErosionHandler) TileServe(c *fiber.Ctx) error {
	areaID, err := strconv.Atoi(c.Params("area_id"))
	if err != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("area_id must be an integer"))
	}
	z, errZ := strconv.Atoi(c.Params("z"))
	x, errX := strconv.Atoi(c.Params("x"))
	y, errY := strconv.Atoi(c.Params("y"))
	if errZ != nil || errX != nil || errY != nil {
		return utils.SendError(c, apperrors.ErrInvalidInput.WithMessage("z/x/y must be integers"))
	}

	png, err := h.svc.TileServe(c.Context(), orchestrator.TileServeRequest{
		AreaType:    domain.AreaType(c.Params("area_type")),
		AreaID:      areaID,
		PeriodLabel: c.Params("period_label"),
		Z:           z, X: x, Y: y,
	})
	if err != nil {
		return utils.SendError(c, err)
	}

	c.Set("Content-Type", "image/png")
	c.Set("Cache-Control", "public, max-age=86400")
	return c.Send(png)
}
