package api

import "github.com/gofiber/fiber/v2"

// Route is implemented by every feature API so main can collect them
// in one fx group and register them uniformly.
type Route interface {
	Setup(app *fiber.App)
}
