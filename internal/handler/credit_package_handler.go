package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/service"
	"go.uber.org/zap"
)

type CreditPackageHandler struct {
	packageService *service.PackageService
	logger         *zap.Logger
}

func NewCreditPackageHandler(packageService *service.PackageService, logger *zap.Logger) *CreditPackageHandler {
	return &CreditPackageHandler{
		packageService: packageService,
		logger:         logger,
	}
}

func (h *CreditPackageHandler) GetAllPackages(c *fiber.Ctx) error {
	packages, err := h.packageService.GetAllPackages(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(models.SuccessResponse(nonNil(packages), "Packages retrieved successfully"))
}

func (h *CreditPackageHandler) GetPackageByID(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse("Invalid package ID"))
	}

	pkg, err := h.packageService.GetPackageByID(c.UserContext(), uint(id))
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return c.JSON(models.SuccessResponse(pkg, "Package retrieved successfully"))
}
