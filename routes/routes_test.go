package routes

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	controller "pitchmail/controllers"
	"pitchmail/store/memstore"
	"pitchmail/utils"
	"pitchmail/worker"
)

func newApp() *fiber.App {
	st := memstore.New()
	app := fiber.New()
	SetupRoutes(app, Handlers{
		Tracking:  controller.NewTrackingController(st, nil, 20*time.Second, 100),
		Sequence:  controller.NewSequenceController(st, nil, 100),
		Progress:  worker.NewProgressHub(4),
		RateLimit: 2,
	})
	return app
}

func TestRoutesMounted(t *testing.T) {
	app := newApp()

	cases := []struct {
		path   string
		status int
	}{
		{"/health", fiber.StatusOK},
		{utils.OpenPixelURL("", utils.TrackingFields{Email: "a@example.com", ClientID: 1, TrackingID: "t"}), fiber.StatusOK},
		{"/track/click?url=https%3A%2F%2Fexample.com", fiber.StatusFound},
		{"/track/logs/by-client?clientId=1", fiber.StatusOK},
		{"/api/sequence/email-logs?clientId=1", fiber.StatusOK},
		{"/ws/dispatch", fiber.StatusUpgradeRequired},
		{"/nope", fiber.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tc.path, nil))
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, tc.path)
	}
}

func TestReadRoutesAreRateLimited(t *testing.T) {
	app := newApp()
	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/sequence/bcc-emails?clientId=1", nil))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{fiber.StatusOK, fiber.StatusOK, fiber.StatusTooManyRequests}, codes)

	// The pixel is never limited.
	for i := 0; i < 5; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/track/open", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	}
}
