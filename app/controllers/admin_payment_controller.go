package controllers

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/PayProof/internal/pkg/payment"
	"github.com/ManuelReschke/PayProof/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// RuleRefresher reloads the auto-matching rules.
type RuleRefresher interface {
	Refresh(ctx context.Context) error
	RuleCount() int
}

// AdminPaymentController serves the admin verification endpoints.
type AdminPaymentController struct {
	service *payment.Service
	rules   RuleRefresher
}

func NewAdminPaymentController(service *payment.Service, rules RuleRefresher) *AdminPaymentController {
	return &AdminPaymentController{service: service, rules: rules}
}

type verifyPaymentBody struct {
	Approve *bool  `json:"approve"`
	Method  string `json:"method"`
	Notes   string `json:"notes"`
}

// HandleVerifyPayment approves or rejects a payment request
func (ac *AdminPaymentController) HandleVerifyPayment(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return respondError(c, fmt.Errorf("%w: invalid payment request id", payment.ErrValidation))
	}
	var body verifyPaymentBody
	if err := c.BodyParser(&body); err != nil {
		return respondMessage(c, fiber.StatusBadRequest, "invalid request body")
	}
	if body.Approve == nil {
		return respondMessage(c, fiber.StatusBadRequest, "approve is required")
	}

	res, err := ac.service.AdminVerifyPayment(c.UserContext(), payment.AdminVerification{
		PaymentRequestID: id,
		AdminID:          usercontext.GetUserID(c),
		Approve:          *body.Approve,
		Method:           body.Method,
		Notes:            body.Notes,
	})
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, res)
}

// HandleVerificationLogs lists the audit entries of a payment request
func (ac *AdminPaymentController) HandleVerificationLogs(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return respondError(c, fmt.Errorf("%w: invalid payment request id", payment.ErrValidation))
	}
	entries, err := ac.service.GetVerificationLogs(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return respondOK(c, fiber.StatusOK, entries)
}

// HandleRefreshRules reloads the auto-matching rules from the database
func (ac *AdminPaymentController) HandleRefreshRules(c *fiber.Ctx) error {
	if err := ac.rules.Refresh(c.UserContext()); err != nil {
		log.Errorf("[API] Rule refresh failed: %v", err)
		return respondMessage(c, fiber.StatusInternalServerError, "rule refresh failed")
	}
	return respondOK(c, fiber.StatusOK, fiber.Map{"rules": ac.rules.RuleCount()})
}
