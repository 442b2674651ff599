package utils

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"net/url"
	"strconv"
	"strings"

	xhtml "golang.org/x/net/html"
)

// Tracking endpoint paths, relative to the tracking base url.
const (
	OpenTrackPath  = "/track/open"
	ClickTrackPath = "/track/click"
)

// TrackingFields is the correlation and enrichment data carried by every
// tracking url. Zero values are omitted from the encoded query.
type TrackingFields struct {
	Email      string
	TrackingID string
	ClientID   uint
	DataFileID uint
	ViewID     string
	StepID     uint
	ContactID  string

	FullName    string
	Location    string
	Company     string
	Website     string
	LinkedinURL string
	JobTitle    string
}

// TrackingRequest is a decoded inbound tracking request.
type TrackingRequest struct {
	TrackingFields
	TargetURL string
}

func (f TrackingFields) values() url.Values {
	v := url.Values{}
	setIf := func(key, val string) {
		if val = strings.TrimSpace(val); val != "" {
			v.Set(key, val)
		}
	}
	setUint := func(key string, val uint) {
		if val != 0 {
			v.Set(key, strconv.FormatUint(uint64(val), 10))
		}
	}

	setIf("email", f.Email)
	setUint("clientId", f.ClientID)
	setIf("trackingId", f.TrackingID)
	setUint("dataFileId", f.DataFileID)
	setIf("viewId", f.ViewID)
	setUint("stepId", f.StepID)
	setIf("contactId", f.ContactID)
	setIf("fullName", f.FullName)
	setIf("location", f.Location)
	setIf("company", f.Company)
	setIf("website", f.Website)
	setIf("linkedinUrl", f.LinkedinURL)
	setIf("jobTitle", f.JobTitle)
	return v
}

// OpenPixelURL builds the open-tracking image url.
func OpenPixelURL(baseURL string, f TrackingFields) string {
	return strings.TrimRight(baseURL, "/") + OpenTrackPath + "?" + f.values().Encode()
}

// ClickTrackURL builds the click redirect url for one original link.
func ClickTrackURL(baseURL string, f TrackingFields, originalURL string) string {
	v := f.values()
	v.Set("url", originalURL)
	return strings.TrimRight(baseURL, "/") + ClickTrackPath + "?" + v.Encode()
}

// OpenPixelTag renders the invisible image element for the open pixel.
func OpenPixelTag(baseURL string, f TrackingFields) string {
	return fmt.Sprintf(
		`<img src="%s" width="1" height="1" style="display:none; max-height:0; overflow:hidden;" alt="" />`,
		html.EscapeString(OpenPixelURL(baseURL, f)),
	)
}

// isHTML reports whether body holds at least one real tag. A bare "<" in
// plain text is not markup.
func isHTML(body string) bool {
	if !strings.Contains(body, "<") {
		return false
	}
	z := xhtml.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return false
		case xhtml.StartTagToken, xhtml.EndTagToken, xhtml.SelfClosingTagToken:
			return true
		}
	}
}

// IsTrackableURL reports whether target is an absolute http(s) url, the only
// kind the click endpoint will redirect to.
func IsTrackableURL(target string) bool {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// skipHref leaves anchors alone unless the click endpoint can redirect to
// them: fragments, mailto, relative and scheme-less links stay as written.
func skipHref(href, baseURL string) bool {
	if !IsTrackableURL(href) {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(href), strings.TrimRight(baseURL, "/")+ClickTrackPath)
}

// EmbedClickTracking rewrites the href of every anchor in body to the click
// endpoint. Everything outside anchor start tags is copied byte for byte.
// Bodies that contain no markup are returned unchanged.
func EmbedClickTracking(body, baseURL string, f TrackingFields) string {
	if !isHTML(body) {
		return body
	}

	var out bytes.Buffer
	z := xhtml.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			if z.Err() == io.EOF {
				return out.String()
			}
			// Malformed input; leave the body as it was.
			return body
		}

		// Token lowercases the tokenizer buffer in place, so keep a copy.
		raw := append([]byte(nil), z.Raw()...)
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			out.Write(raw)
			continue
		}

		tok := z.Token()
		if tok.Data != "a" {
			out.Write(raw)
			continue
		}

		rewritten := false
		for i, attr := range tok.Attr {
			if !strings.EqualFold(attr.Key, "href") || skipHref(attr.Val, baseURL) {
				continue
			}
			tok.Attr[i].Val = ClickTrackURL(baseURL, f, strings.TrimSpace(attr.Val))
			rewritten = true
		}
		if rewritten {
			out.WriteString(tok.String())
		} else {
			out.Write(raw)
		}
	}
}

// InjectTracking rewrites links and appends the open pixel. Plain text
// bodies are returned unchanged.
func InjectTracking(body, baseURL string, f TrackingFields) string {
	if !isHTML(body) {
		return body
	}
	tracked := EmbedClickTracking(body, baseURL, f)
	pixel := OpenPixelTag(baseURL, f)

	lower := strings.ToLower(tracked)
	if idx := strings.LastIndex(lower, "</body>"); idx >= 0 {
		return tracked[:idx] + pixel + tracked[idx:]
	}
	return tracked + pixel
}

func parseUintField(v string) uint {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return uint(n)
}

// DecodeQueryFields decodes a raw tracking query string. Missing or
// malformed fields decode to their zero value.
func DecodeQueryFields(rawQuery string) TrackingRequest {
	v, err := url.ParseQuery(rawQuery)
	if err != nil && v == nil {
		v = url.Values{}
	}
	get := func(key string) string {
		return strings.TrimSpace(v.Get(key))
	}

	return TrackingRequest{
		TrackingFields: TrackingFields{
			Email:       get("email"),
			TrackingID:  get("trackingId"),
			ClientID:    parseUintField(get("clientId")),
			DataFileID:  parseUintField(get("dataFileId")),
			ViewID:      get("viewId"),
			StepID:      parseUintField(get("stepId")),
			ContactID:   get("contactId"),
			FullName:    get("fullName"),
			Location:    get("location"),
			Company:     get("company"),
			Website:     get("website"),
			LinkedinURL: get("linkedinUrl"),
			JobTitle:    get("jobTitle"),
		},
		TargetURL: get("url"),
	}
}
