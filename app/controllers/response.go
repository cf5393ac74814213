package controllers

import (
	"errors"
	"strconv"

	"github.com/ManuelReschke/PayProof/internal/pkg/payment"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

func respondOK(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{"success": true, "data": data})
}

func respondMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": message})
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, payment.ErrValidation):
		return respondMessage(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrNotFound):
		return respondMessage(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, payment.ErrConflict), errors.Is(err, payment.ErrInvalidTransition):
		return respondMessage(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrPersistence):
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return respondMessage(c, fiber.StatusInternalServerError, payment.ErrPersistence.Error())
	default:
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return respondMessage(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// ErrorHandler renders fiber errors in the API envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	}
	return respondMessage(c, code, message)
}

func paramID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
