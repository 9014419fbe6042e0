package main

import (
	"context"
	"fmt"
	"time"

	"roadwatch/internal/config"
	"roadwatch/internal/database"
	"roadwatch/internal/features/report"
	"roadwatch/internal/logger"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// demoReports is a small fixed batch covering every severity and a couple
// of lifecycle states, enough to light up the dashboard locally.
var demoReports = []report.Report{
	{ID: "demo-1", Type: "Pothole", Severity: report.SeverityCritical, Location: "Main St & 4th Ave", Coords: []float64{12.9716, 77.5946}, Description: "Deep pothole in the right lane", ReportedDate: "2024-01-01"},
	{ID: "demo-2", Type: "Pothole", Severity: report.SeverityHigh, Location: "Riverside Dr", Coords: []float64{12.9352, 77.6245}, ReportedDate: "2024-01-03"},
	{ID: "demo-3", Type: "Crack", Severity: report.SeverityMedium, Location: "Hill Rd", Description: "Longitudinal crack near the bus stop", ReportedDate: "2024-01-05"},
	{ID: "demo-4", Type: "Erosion", Severity: report.SeverityLow, Location: "Lakeview Terrace", ReportedDate: "2024-01-07"},
}

// Seed inserts the demo batch and shuts the app down
func Seed(lc fx.Lifecycle, repo report.ReportRepository, logger *zap.Logger, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if err := shutdowner.Shutdown(); err != nil {
						logger.Error("Failed to shutdown", zap.Error(err))
					}
				}()

				logger.Info("Seeding demo reports...")

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := repo.EnsureIndexes(ctx); err != nil {
					logger.Error("Failed to ensure indexes", zap.Error(err))
					return
				}

				seeded := 0
				for _, demo := range demoReports {
					r := demo
					r.Status = report.StatusPending
					r.CreatedAt = time.Now().UTC()
					r.AIResult = map[string]any{
						"success":    true,
						"detections": []any{},
						"note":       fmt.Sprintf("seeded demo result for %s", r.ID),
					}
					if err := repo.Create(ctx, &r); err != nil {
						if err == report.ErrDuplicateID {
							logger.Info("Skipping existing demo report", zap.String("report_id", r.ID))
							continue
						}
						logger.Error("Failed to seed report", zap.String("report_id", r.ID), zap.Error(err))
						return
					}
					seeded++
				}

				logger.Info("Seeding complete", zap.Int("inserted", seeded))
			}()
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			logger.NewLogger,
			database.NewDatabase,
			report.NewReportRepository,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(Seed),
	)

	app.Run()
}
