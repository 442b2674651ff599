package controller

import (
	"context"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchmail/models"
	"pitchmail/store/memstore"
	"pitchmail/utils"
)

const (
	chromeUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	botUA       = "Mozilla/5.0 (compatible; LinkPreviewBot/1.0)"
	clickTarget = "https://acme.test/offer?ref=mail"
	trackID     = "0b8f0c3e-8f4c-4c1e-9a42-6d1f0f5e7a10"
)

var sentAt = time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)

type trackingFixture struct {
	app   *fiber.App
	store *memstore.Store
	tc    *TrackingController
}

func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()
	st := memstore.New()
	df := uint(5)
	require.NoError(t, st.AppendEmailLog(context.Background(), &models.EmailLog{
		StepID:     3,
		ToEmail:    "Ann@Example.com",
		IsSuccess:  true,
		DataFileID: &df,
		SentAt:     sentAt,
		ClientID:   7,
		TrackingID: trackID,
	}))

	tc := NewTrackingController(st, nil, 20*time.Second, 1000)
	tc.Now = func() time.Time { return sentAt.Add(time.Minute) }

	app := fiber.New()
	app.Get("/track/open", tc.TrackOpen)
	app.Get("/track/click", tc.TrackClick)
	app.Get("/track/logs/by-client", tc.GetTrackingLogs)
	return &trackingFixture{app: app, store: st, tc: tc}
}

func trackingFields() utils.TrackingFields {
	return utils.TrackingFields{
		Email:      "ann@example.com",
		TrackingID: trackID,
		ClientID:   7,
		DataFileID: 5,
		StepID:     3,
		ContactID:  "42",
		FullName:   "Ann Lee",
	}
}

func (f *trackingFixture) get(t *testing.T, path, ua string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestTrackOpenIsIdempotentAndUniform(t *testing.T) {
	f := newTrackingFixture(t)
	path := utils.OpenPixelURL("", trackingFields())

	var bodies [][]byte
	for i := 0; i < 3; i++ {
		resp := f.get(t, path, chromeUA)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		bodies = append(bodies, b)
	}
	assert.Equal(t, transparentPixel, bodies[0])
	assert.Equal(t, bodies[0], bodies[2])

	events := f.store.Engagements()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOpen, events[0].EventType)
	assert.Equal(t, "Ann Lee", events[0].FullName)
	assert.Equal(t, utils.BrowserChrome, events[0].Browser)
	assert.EqualValues(t, 7, events[0].ClientID)
}

func TestTrackOpenRejectsMissingFields(t *testing.T) {
	f := newTrackingFixture(t)
	for _, drop := range []func(*utils.TrackingFields){
		func(x *utils.TrackingFields) { x.Email = "" },
		func(x *utils.TrackingFields) { x.ClientID = 0 },
		func(x *utils.TrackingFields) { x.TrackingID = "" },
	} {
		fl := trackingFields()
		drop(&fl)
		resp := f.get(t, utils.OpenPixelURL("", fl), chromeUA)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	}
	assert.Empty(t, f.store.Engagements())
}

func TestTrackClickRecordsOncePerTarget(t *testing.T) {
	f := newTrackingFixture(t)
	path := utils.ClickTrackURL("", trackingFields(), clickTarget)

	for i := 0; i < 3; i++ {
		resp := f.get(t, path, chromeUA)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, clickTarget, resp.Header.Get("Location"))
	}
	other := f.get(t, utils.ClickTrackURL("", trackingFields(), "https://acme.test/other"), chromeUA)
	assert.Equal(t, fiber.StatusFound, other.StatusCode)

	events := f.store.Engagements()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventClick, events[0].EventType)
	assert.Equal(t, clickTarget, events[0].TargetURL)
	assert.False(t, events[0].IsBot)
	assert.Equal(t, models.SourceTracked, events[0].Source)
}

func TestTrackClickFailsOpen(t *testing.T) {
	f := newTrackingFixture(t)

	noClient := trackingFields()
	noClient.ClientID = 0
	noDataset := trackingFields()
	noDataset.DataFileID = 0
	unknown := trackingFields()
	unknown.TrackingID = "11111111-2222-3333-4444-555555555555"
	wrongEmail := trackingFields()
	wrongEmail.Email = "mallory@example.com"
	wrongDataset := trackingFields()
	wrongDataset.DataFileID = 6
	wrongClient := trackingFields()
	wrongClient.ClientID = 8

	for _, fl := range []utils.TrackingFields{noClient, noDataset, unknown, wrongEmail, wrongDataset, wrongClient} {
		resp := f.get(t, utils.ClickTrackURL("", fl, clickTarget), chromeUA)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, clickTarget, resp.Header.Get("Location"))
	}
	assert.Empty(t, f.store.Engagements())
}

func TestTrackClickRejectsUnsafeTarget(t *testing.T) {
	f := newTrackingFixture(t)
	for _, bad := range []string{"", "javascript:alert(1)", "/relative", "ftp://files.example.com"} {
		resp := f.get(t, utils.ClickTrackURL("", trackingFields(), bad), chromeUA)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, bad)
	}
	assert.Empty(t, f.store.Engagements())
}

func TestTrackClickDwellWindow(t *testing.T) {
	f := newTrackingFixture(t)
	path := utils.ClickTrackURL("", trackingFields(), clickTarget)

	f.tc.Now = func() time.Time { return sentAt.Add(5 * time.Second) }
	resp := f.get(t, path, chromeUA)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Empty(t, f.store.Engagements())

	f.tc.Now = func() time.Time { return sentAt.Add(25 * time.Second) }
	resp = f.get(t, path, chromeUA)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Len(t, f.store.Engagements(), 1)
}

func TestTrackClickFlagsBots(t *testing.T) {
	f := newTrackingFixture(t)
	path := utils.ClickTrackURL("", trackingFields(), clickTarget)

	for i := 0; i < 2; i++ {
		resp := f.get(t, path, botUA)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, clickTarget, resp.Header.Get("Location"))
	}

	events := f.store.Engagements()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.True(t, ev.IsBot)
		assert.Equal(t, models.SourceBotDetected, ev.Source)
	}

	// A genuine click is still recorded after bot traffic.
	f.get(t, path, chromeUA)
	assert.Len(t, f.store.Engagements(), 3)
}

func TestGetTrackingLogs(t *testing.T) {
	f := newTrackingFixture(t)
	f.get(t, utils.OpenPixelURL("", trackingFields()), chromeUA)

	resp := f.get(t, "/track/logs/by-client", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = f.get(t, "/track/logs/by-client?clientId=7&dataFileId=5", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Success bool                      `json:"success"`
		Data    []models.EmailTrackingLog `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Data, 1)
	assert.Equal(t, trackID, body.Data[0].TrackingID)

	resp = f.get(t, "/track/logs/by-client?clientId=99", "")
	b, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(b), `"data":null`) || strings.Contains(string(b), `"data":[]`))
}

var hrefPattern = regexp.MustCompile(`href="([^"]*)"`)

func TestRewrittenLinksAlwaysNavigate(t *testing.T) {
	f := newTrackingFixture(t)
	const base = "http://track.test"
	body := `<p><a href="www.acme.test/pricing">pricing</a> <a href="/about">about</a> ` +
		`<a href="` + clickTarget + `">offer</a></p>`

	out := utils.EmbedClickTracking(body, base, trackingFields())
	matches := hrefPattern.FindAllStringSubmatch(out, -1)
	require.Len(t, matches, 3)

	tracked := 0
	for _, m := range matches {
		href := html.UnescapeString(m[1])
		if !strings.HasPrefix(href, base+utils.ClickTrackPath) {
			assert.Contains(t, []string{"www.acme.test/pricing", "/about"}, href)
			continue
		}
		tracked++
		resp := f.get(t, href, chromeUA)
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, clickTarget, resp.Header.Get("Location"))
	}
	assert.Equal(t, 1, tracked)
	assert.Len(t, f.store.Engagements(), 1)
}
