package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/service"
	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"
)

// EventVerifier checks the Stripe-Signature header and decodes the event.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type PaymentHandler struct {
	purchase *service.PurchaseService
	verifier EventVerifier
	logger   *zap.Logger
}

func NewPaymentHandler(purchase *service.PurchaseService, verifier EventVerifier, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		purchase: purchase,
		verifier: verifier,
		logger:   logger,
	}
}

func (h *PaymentHandler) CreateCheckoutSession(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	packageID, err := strconv.ParseUint(c.Params("packageId"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse("Invalid package ID"))
	}

	session, err := h.purchase.CreateCheckoutSession(c.UserContext(), who.UID, who.Email, uint(packageID))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(session, "Checkout session created"))
}

// HandleStripeWebhook answers 400 for events Stripe should not retry and 500
// for failures a retry may fix.
func (h *PaymentHandler) HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := h.verifier.ConstructEvent(c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse("Invalid webhook signature"))
	}

	log := h.logger.With(zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
	if err := h.purchase.HandleStripeEvent(c.UserContext(), &event); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			log.Warn("webhook event rejected", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse(err.Error()))
		}
		log.Error("webhook event failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse("Webhook processing failed"))
	}

	return c.JSON(models.SuccessResponse(fiber.Map{"received": true}, ""))
}

func (h *PaymentHandler) GetPurchaseHistory(c *fiber.Ctx) error {
	who, err := currentCaller(c)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	purchases, err := h.purchase.ListPurchases(c.UserContext(), who.UID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(models.SuccessResponse(nonNil(purchases), "Purchase history retrieved successfully"))
}
