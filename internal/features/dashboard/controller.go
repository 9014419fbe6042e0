package dashboard

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type DashboardController struct {
	Feed   *Feed
	Logger *zap.Logger
}

func NewDashboardController(feed *Feed, logger *zap.Logger) *DashboardController {
	return &DashboardController{
		Feed:   feed,
		Logger: logger,
	}
}

// GetSummary returns the current aggregate snapshot
func (ctrl *DashboardController) GetSummary(c *fiber.Ctx) error {
	return c.JSON(ctrl.Feed.Snapshot())
}

// HandleLive streams aggregate snapshots over a websocket, one JSON
// message per update, until the client disconnects.
func (ctrl *DashboardController) HandleLive(c *websocket.Conn) {
	snapshots, unsubscribe := ctrl.Feed.Subscribe()
	defer unsubscribe()

	// The read pump only exists to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := c.WriteJSON(snap); err != nil {
				ctrl.Logger.Debug("dashboard subscriber write failed", zap.Error(err))
				return
			}
		}
	}
}
