package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/service"
	"go.uber.org/zap"
)

type BillingHandler struct {
	access *service.AccessService
	ledger *service.LedgerService
	logger *zap.Logger
}

func NewBillingHandler(access *service.AccessService, ledger *service.LedgerService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{access: access, ledger: ledger, logger: logger}
}

type meResponse struct {
	User   *models.BillingUser   `json:"user"`
	Access *service.AccessResult `json:"access"`
}

func (h *BillingHandler) GetMe(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	user, err := h.ledger.GetUser(c.UserContext(), who.UID)
	if errors.Is(err, service.ErrNotFound) {
		user = &models.BillingUser{UID: who.UID, Email: who.Email}
	} else if err != nil {
		return respondError(c, h.logger, err)
	}

	access, err := h.access.CheckAccess(c.UserContext(), who.UID, who.Email)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(models.SuccessResponse(meResponse{User: user, Access: access}, "Billing account retrieved successfully"))
}

func (h *BillingHandler) GetAccess(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	access, err := h.access.CheckAccess(c.UserContext(), who.UID, who.Email)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(access, "Access checked"))
}

func (h *BillingHandler) GetLedger(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	entries, err := h.ledger.ListEntries(c.UserContext(), who.UID, queryLimit(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(nonNil(entries), "Ledger retrieved successfully"))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
