package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	log "github.com/sirupsen/logrus"

	controller "pitchmail/controllers"
	"pitchmail/middleware"
	"pitchmail/worker"
)

const logFormat = "[${time}] ${status} - ${latency} ${method} ${path}\n"

// Handlers bundles everything the router mounts.
type Handlers struct {
	Tracking *controller.TrackingController
	Sequence *controller.SequenceController
	Progress *worker.ProgressHub
	// RateLimit is the per-minute budget for read APIs.
	RateLimit int
	// LimiterStorage backs the limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

// SetupTrackingRoutes mounts the pixel, the click redirect and the engagement audit read.
func SetupTrackingRoutes(app *fiber.App, h Handlers) {
	track := app.Group("/track")
	track.Get("/open", h.Tracking.TrackOpen)
	track.Get("/click", h.Tracking.TrackClick)

	logs := track.Group("/logs", logger.New(logger.Config{Format: logFormat}),
		middleware.APIRateLimiter(h.RateLimit, h.LimiterStorage))
	logs.Get("/by-client", h.Tracking.GetTrackingLogs)
}

func SetupSequenceRoutes(app *fiber.App, h Handlers) {
	seq := app.Group("/api/sequence", logger.New(logger.Config{Format: logFormat}))
	seq.Post("/create-sequence", h.Sequence.CreateSequence)
	seq.Post("/send-single-email", h.Sequence.SendSingleEmail)

	reads := seq.Group("", middleware.APIRateLimiter(h.RateLimit, h.LimiterStorage))
	reads.Get("/success-count", h.Sequence.GetSuccessCount)
	reads.Get("/bcc-emails", h.Sequence.GetBccEmails)
	reads.Get("/email-logs", h.Sequence.GetEmailLogs)
}

func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupTrackingRoutes(app, h)
	SetupSequenceRoutes(app, h)

	if h.Progress != nil {
		app.Use("/ws", controller.UpgradeOnly)
		app.Get("/ws/dispatch", websocket.New(controller.DispatchProgressWS(h.Progress)))
	}

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Info("Routes initialized successfully")
}
