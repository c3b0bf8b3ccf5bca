package handler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/service"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidInput, fiber.StatusBadRequest},
		{invalid("bad body"), fiber.StatusBadRequest},
		{service.ErrUnauthorized, fiber.StatusUnauthorized},
		{service.ErrForbidden, fiber.StatusForbidden},
		{service.ErrInsufficientCredits, fiber.StatusPaymentRequired},
		{service.ErrReadOnly, fiber.StatusPaymentRequired},
		{fmt.Errorf("wrapped: %w", service.ErrNotFound), fiber.StatusNotFound},
		{service.ErrAlreadyRefunded, fiber.StatusBadRequest},
		{service.ErrSameUser, fiber.StatusBadRequest},
		{service.ErrWouldGoNegative, fiber.StatusBadRequest},
		{service.ErrInvalidTransition, fiber.StatusBadRequest},
		{service.ErrStoreUnavailable, fiber.StatusInternalServerError},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
