package router

import (
	"github.com/ManuelReschke/PayProof/app/controllers"

	"github.com/gofiber/fiber/v2"
)

type SystemRouter struct {
	deps Dependencies
}

func (h SystemRouter) InstallRouter(app *fiber.App) {
	health := controllers.NewHealthController(h.deps.PingDB, h.deps.RulesReady)
	app.Get("/health", health.HandleHealth)
}

func NewSystemRouter(deps Dependencies) *SystemRouter {
	return &SystemRouter{deps: deps}
}
