package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/service"
	"github.com/sefazor/portfolio-billing/pkg/utils"
	"go.uber.org/zap"
)

type AdminHandler struct {
	admin     *service.AdminService
	ledger    *service.LedgerService
	validator *utils.Validator
	logger    *zap.Logger
}

func NewAdminHandler(admin *service.AdminService, ledger *service.LedgerService, validator *utils.Validator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, ledger: ledger, validator: validator, logger: logger}
}

func (h *AdminHandler) AdjustCredits(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var req models.AdjustCreditsRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return respondError(c, h.logger, err)
	}

	balance, err := h.admin.AdjustCredits(c.UserContext(), service.AdjustInput{
		UID:          req.UID,
		DeltaCredits: req.DeltaCredits,
		Reason:       req.Reason,
		AdminEmail:   who.Email,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(fiber.Map{"uid": req.UID, "balance_credits": balance}, "Credits adjusted"))
}

func (h *AdminHandler) ConsolidateUsers(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	var req models.ConsolidateUsersRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return respondError(c, h.logger, err)
	}

	res, err := h.admin.ConsolidateUsers(c.UserContext(), req.KeepUID, req.MergeUID, who.Email)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(res, "Users consolidated"))
}

type adminUserResponse struct {
	User    *models.BillingUser  `json:"user"`
	Entries []models.LedgerEntry `json:"entries"`
}

func (h *AdminHandler) GetUser(c *fiber.Ctx) error {
	uid := c.Params("uid")
	user, err := h.ledger.GetUser(c.UserContext(), uid)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	entries, err := h.ledger.ListEntries(c.UserContext(), uid, queryLimit(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(adminUserResponse{User: user, Entries: nonNil(entries)}, "User retrieved successfully"))
}

func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	res, err := h.ledger.Reconcile(c.UserContext(), c.Params("uid"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(res, "Ledger reconciled"))
}
