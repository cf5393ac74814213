package controllers

import "github.com/gofiber/fiber/v2"

// HealthController reports whether the service can take traffic.
type HealthController struct {
	pingDB     func() error
	rulesReady func() bool
}

func NewHealthController(pingDB func() error, rulesReady func() bool) *HealthController {
	return &HealthController{pingDB: pingDB, rulesReady: rulesReady}
}

// HandleHealth returns 200 when the database answers and the rules are loaded
func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	dbOK := hc.pingDB == nil || hc.pingDB() == nil
	rulesOK := hc.rulesReady == nil || hc.rulesReady()

	status := fiber.StatusOK
	state := "ok"
	if !dbOK || !rulesOK {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":      state,
		"database":    dbOK,
		"rules_ready": rulesOK,
	})
}
