package main

import (
	"context"
	"fmt"
	"log"
	"time"

	common_api "roadwatch/internal/common/api"
	"roadwatch/internal/config"
	"roadwatch/internal/database"
	"roadwatch/internal/features/analyzer"
	"roadwatch/internal/features/dashboard"
	"roadwatch/internal/features/report"
	"roadwatch/internal/features/system"
	"roadwatch/internal/logger"
	"roadwatch/internal/middleware"
	"roadwatch/pkg/utils"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Image part plus form fields; oversized payloads are cut off here
		// before any handler runs.
		BodyLimit: int(cfg.MaxImageBytes) + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			log.Printf("sentry init failed: %v", err)
		} else {
			app.Use(sentryfiber.New(sentryfiber.Options{
				Repanic:         true,
				WaitForDelivery: false,
			}))
		}
	}

	// Use custom CORS middleware
	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),    // Cast to Interface
		fx.ResultTags(`group:"routes"`), // Add to Group
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	for _, route := range routes {
		route.Setup(app)
	}
	log.Printf("Registered %d routes", len(routes))
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sentry.Flush(2 * time.Second)
			return app.Shutdown()
		},
	})
}

// InitializeIndexes ensures the unique report-id index exists before
// submissions start racing on it.
func InitializeIndexes(lc fx.Lifecycle, reportRepo report.ReportRepository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return reportRepo.EnsureIndexes(ctx)
		},
	})
}

// StartAggregateFeed drives the dashboard feed's worker and periodic
// reconciliation scan off the fx lifecycle.
func StartAggregateFeed(lc fx.Lifecycle, feed *dashboard.Feed) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return feed.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return feed.Stop()
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Initialize Repository
			report.NewReportRepository,

			// External analysis relay
			analyzer.NewHTTPClient,

			// Dashboard aggregate feed
			dashboard.NewFeed,

			// Services
			report.NewIngestionService,

			// Interface Adapters to satisfy Fx
			func(f *dashboard.Feed) report.AggregateNotifier { return f },
			func(r report.ReportRepository) dashboard.SummarySource { return r },

			// Initialize Controller
			report.NewReportController,
			dashboard.NewDashboardController,

			// Initialize API Routes
			AsRoute(report.NewReportApi),
			AsRoute(dashboard.NewDashboardApi),
			AsRoute(system.NewHealthApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			func(cfg *config.Config) { utils.SetSecret(cfg.JWTSecret) },

			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,
			InitializeIndexes,
			StartAggregateFeed,
		),
	)

	app.Run()
}
