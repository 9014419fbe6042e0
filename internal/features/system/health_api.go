package system

import (
	"roadwatch/internal/database"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson"
)

type HealthApi struct {
	db *database.MongodbDB
}

func NewHealthApi(db *database.MongodbDB) *HealthApi {
	return &HealthApi{db: db}
}

// Setup registers health check route
func (h *HealthApi) Setup(app *fiber.App) {
	app.Get("/api/health", h.HealthCheck)
}

// HealthCheck reports liveness and whether the store is reachable
func (h *HealthApi) HealthCheck(c *fiber.Ctx) error {
	status := fiber.Map{"status": "ok", "store": "ok"}
	if err := h.db.DB.RunCommand(c.UserContext(), bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		status["store"] = "unavailable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}
