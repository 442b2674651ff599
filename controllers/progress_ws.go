package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"pitchmail/utils"
	"pitchmail/worker"
)

// UpgradeOnly rejects non-websocket requests to the progress stream.
func UpgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// DispatchProgressWS streams dispatch progress. An optional stepId query
// parameter narrows the stream to one step.
func DispatchProgressWS(hub *worker.ProgressHub) func(*websocket.Conn) {
	log := logrus.WithField("component", "progress_ws")

	return func(c *websocket.Conn) {
		defer c.Close()

		stepID := utils.ParseUint(c.Query("stepId"))
		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		// The read loop only detects the client going away.
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
			case ev, ok := <-events:
				if !ok {
					return
				}
				if stepID != 0 && ev.StepID != stepID {
					continue
				}
				if err := c.WriteJSON(ev); err != nil {
					log.WithError(err).Debug("progress write failed")
					return
				}
			}
		}
	}
}
