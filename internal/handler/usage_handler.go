package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/service"
	"github.com/sefazor/portfolio-billing/pkg/utils"
	"go.uber.org/zap"
)

type UsageHandler struct {
	usage     *service.UsageService
	validator *utils.Validator
	logger    *zap.Logger
}

func NewUsageHandler(usage *service.UsageService, validator *utils.Validator, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, validator: validator, logger: logger}
}

func (h *UsageHandler) StartUsage(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var req models.StartUsageRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return respondError(c, h.logger, err)
	}

	usage, err := h.usage.Begin(c.UserContext(), who.UID, who.Email, req.Tool, req.Cost)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(models.SuccessResponse(usage, "Usage started"))
}

func (h *UsageHandler) ListUsage(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	usages, err := h.usage.ListUsage(c.UserContext(), who.UID, queryLimit(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(nonNil(usages), "Usage retrieved successfully"))
}

func (h *UsageHandler) MarkSucceeded(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var req models.MarkSucceededRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, h.validator, &req); err != nil {
			return respondError(c, h.logger, err)
		}
	}

	usage, err := h.usage.MarkSucceeded(c.UserContext(), who.UID, c.Params("id"), req.ExternalJobID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(usage, "Usage marked as succeeded"))
}

func (h *UsageHandler) MarkFailed(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var req models.MarkFailedRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return respondError(c, h.logger, err)
	}

	usage, err := h.usage.MarkFailed(c.UserContext(), who.UID, c.Params("id"), req.Reason, req.Refund)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(usage, "Usage marked as failed"))
}

func (h *UsageHandler) RefundUsage(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var req models.RefundUsageRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return respondError(c, h.logger, err)
	}

	usage, err := h.usage.RefundUsage(c.UserContext(), who.UID, c.Params("id"), req.Reason)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(usage, "Usage refunded"))
}
