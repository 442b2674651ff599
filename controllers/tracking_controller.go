package controller

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pitchmail/models"
	"pitchmail/notifier"
	"pitchmail/store"
	"pitchmail/utils"
)

// 1x1 transparent PNG
var transparentPixel, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII=")

type TrackingController struct {
	Store    store.Store
	Notifier notifier.Notifier
	// DwellWindow is the minimum time after a send before a click counts.
	DwellWindow time.Duration
	PageSize    int
	Now         func() time.Time
	Logger      *logrus.Entry
}

func NewTrackingController(st store.Store, n notifier.Notifier, dwellWindow time.Duration, pageSize int) *TrackingController {
	if n == nil {
		n = notifier.Nop{}
	}
	return &TrackingController{
		Store:       st,
		Notifier:    n,
		DwellWindow: dwellWindow,
		PageSize:    pageSize,
		Now:         time.Now,
		Logger:      logrus.WithField("component", "tracking"),
	}
}

func (tc *TrackingController) now() time.Time {
	return tc.Now().UTC()
}

func decodeTracking(c *fiber.Ctx) utils.TrackingRequest {
	return utils.DecodeQueryFields(string(c.Request().URI().QueryString()))
}

func (tc *TrackingController) newEvent(c *fiber.Ctx, req utils.TrackingRequest, eventType string) *models.EmailTrackingLog {
	ua := c.Get(fiber.HeaderUserAgent)
	return &models.EmailTrackingLog{
		TrackingID:  req.TrackingID,
		EventType:   eventType,
		ContactID:   req.ContactID,
		Email:       req.Email,
		ClientID:    req.ClientID,
		StepID:      req.StepID,
		DataFileID:  req.DataFileID,
		ZohoViewID:  req.ViewID,
		Source:      models.SourceTracked,
		FullName:    req.FullName,
		Location:    req.Location,
		Company:     req.Company,
		JobTitle:    req.JobTitle,
		LinkedinURL: req.LinkedinURL,
		Website:     req.Website,
		UserAgent:   ua,
		IPAddress:   c.IP(),
		Browser:     utils.BrowserName(ua),
		Timestamp:   tc.now(),
	}
}

// record appends the event and reports whether it was new. Errors are
// logged, never surfaced to the caller.
func (tc *TrackingController) record(ctx context.Context, event *models.EmailTrackingLog) bool {
	inserted, err := tc.Store.AppendEngagement(ctx, event)
	if err != nil {
		utils.LogError("tracking_append", err, map[string]interface{}{
			"tracking_id": event.TrackingID,
			"event_type":  event.EventType,
		})
		return false
	}
	if !inserted {
		return false
	}

	if err := tc.Notifier.EngagementRecorded(ctx, notifier.EngagementRecorded{
		TrackingID: event.TrackingID,
		EventType:  event.EventType,
		ClientID:   event.ClientID,
		StepID:     event.StepID,
		Email:      event.Email,
		TargetURL:  event.TargetURL,
		IsBot:      event.IsBot,
		Timestamp:  event.Timestamp,
	}); err != nil {
		tc.Logger.WithError(err).Warn("engagement notification failed")
	}
	return true
}

func sendPixel(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, max-age=0")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Status(fiber.StatusOK).Send(transparentPixel)
}

// TrackOpen records the first open of a message and always returns the pixel.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	req := decodeTracking(c)
	if req.Email == "" || req.ClientID == 0 || req.TrackingID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "email, clientId and trackingId are required", nil)
	}

	event := tc.newEvent(c, req, models.EventOpen)
	event.DedupKey = models.OpenDedupKey(req.TrackingID)
	event.IsBot = utils.IsBotAgent(event.UserAgent)

	if tc.record(c.UserContext(), event) {
		tc.Logger.WithFields(logrus.Fields{
			"tracking_id": req.TrackingID,
			"client_id":   req.ClientID,
		}).Debug("Open recorded")
	}
	return sendPixel(c)
}

// TrackClick records a genuine click and always redirects to the target.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	req := decodeTracking(c)
	target := req.TargetURL
	if !utils.IsTrackableURL(target) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "url must be an absolute http(s) url", nil)
	}

	redirect := func() error {
		return c.Redirect(target, fiber.StatusFound)
	}
	log := tc.Logger.WithFields(logrus.Fields{
		"tracking_id": req.TrackingID,
		"client_id":   req.ClientID,
	})

	if req.Email == "" || req.TrackingID == "" || req.ClientID == 0 || (req.DataFileID == 0 && req.ViewID == "") {
		log.Debug("Click missing tracking fields")
		return redirect()
	}

	ctx := c.UserContext()
	event := tc.newEvent(c, req, models.EventClick)
	event.TargetURL = target

	if utils.IsBotAgent(event.UserAgent) {
		event.IsBot = true
		event.Source = models.SourceBotDetected
		event.DedupKey = models.BotDedupKey(req.TrackingID, uuid.NewString())
		tc.record(ctx, event)
		log.WithField("user_agent", event.UserAgent).Debug("Bot click recorded")
		return redirect()
	}

	sent, err := tc.Store.FindEmailLogByTrackingID(ctx, req.TrackingID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Warn("Send lookup failed")
		}
		return redirect()
	}
	if !tc.matchesSend(sent, req) {
		log.Debug("Click does not match its send")
		return redirect()
	}

	if elapsed := tc.now().Sub(sent.SentAt); elapsed < tc.DwellWindow {
		log.WithField("elapsed", elapsed.String()).Debug("Click inside dwell window, not recorded")
		return redirect()
	}

	event.IsBot = false
	event.DedupKey = models.ClickDedupKey(req.TrackingID, target)
	if event.StepID == 0 {
		event.StepID = sent.StepID
	}
	tc.record(ctx, event)
	return redirect()
}

func (tc *TrackingController) matchesSend(sent *models.EmailLog, req utils.TrackingRequest) bool {
	if !strings.EqualFold(strings.TrimSpace(sent.ToEmail), req.Email) {
		return false
	}
	if sent.ClientID != req.ClientID {
		return false
	}
	if req.DataFileID != 0 {
		return sent.DataFileID != nil && *sent.DataFileID == req.DataFileID
	}
	return sent.ZohoViewID == req.ViewID
}

// GetTrackingLogs lists a client's engagement events, newest first.
func (tc *TrackingController) GetTrackingLogs(c *fiber.Ctx) error {
	filter, err := auditFilter(c, tc.PageSize)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	events, err := tc.Store.ListEngagements(c.UserContext(), filter)
	if err != nil {
		utils.LogError("tracking_logs_query", err, map[string]interface{}{"client_id": filter.ClientID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch tracking logs", nil)
	}
	return c.JSON(utils.SuccessResponse(events))
}

func auditFilter(c *fiber.Ctx, pageSize int) (store.AuditFilter, error) {
	clientID := utils.ParseUint(c.Query("clientId"))
	if clientID == 0 {
		return store.AuditFilter{}, errors.New("clientId is required")
	}
	return store.AuditFilter{
		ClientID:   clientID,
		StepID:     utils.ParseUint(c.Query("stepId")),
		DataFileID: utils.ParseUint(c.Query("dataFileId")),
		ViewID:     strings.TrimSpace(c.Query("viewId")),
		Limit:      pageSize,
	}, nil
}
