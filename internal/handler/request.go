package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/service"
	"github.com/sefazor/portfolio-billing/pkg/utils"
)

// bindJSON parses and validates the body into req. Errors are ErrInvalidInput.
func bindJSON(c *fiber.Ctx, v *utils.Validator, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return invalid("Invalid request body")
	}
	if err := v.Struct(req); err != nil {
		return invalid(utils.Describe(err))
	}
	return nil
}

type inputError struct{ msg string }

func (e inputError) Error() string { return e.msg }
func (e inputError) Unwrap() error { return service.ErrInvalidInput }

func invalid(msg string) error { return inputError{msg: msg} }

func queryLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > service.MaxListLimit {
		limit = service.MaxListLimit
	}
	return limit
}
