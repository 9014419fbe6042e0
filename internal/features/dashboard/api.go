package dashboard

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type DashboardApi struct {
	controller *DashboardController
}

func NewDashboardApi(controller *DashboardController) *DashboardApi {
	return &DashboardApi{
		controller: controller,
	}
}

func (h *DashboardApi) Setup(app *fiber.App) {
	app.Get("/api/dashboard/summary", h.controller.GetSummary)
	app.Get("/api/dashboard/live", websocket.New(h.controller.HandleLive))
}
