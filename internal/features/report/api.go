package report

import (
	"roadwatch/internal/config"
	"roadwatch/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type ReportApi struct {
	controller *ReportController
	config     *config.Config
}

func NewReportApi(controller *ReportController, config *config.Config) *ReportApi {
	return &ReportApi{
		controller: controller,
		config:     config,
	}
}

func (h *ReportApi) Setup(app *fiber.App) {
	auth := middleware.AuthMiddleware(h.config.SkipAuth)

	app.Post("/api/report", auth, h.controller.SubmitReport)
	app.Get("/api/report/:id", auth, h.controller.GetReport)
	app.Patch("/api/report/:id/status", auth, h.controller.UpdateStatus)
	app.Post("/api/report/:id/reanalyze", auth, h.controller.Reanalyze)
	app.Get("/api/reports", auth, h.controller.ListReports)
	app.Get("/api/reports/export", auth, h.controller.ExportReports)
}
