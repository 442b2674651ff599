package utils

import "strings"

// Browser names resolved from a user agent.
const (
	BrowserEdge    = "Edge"
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserOpera   = "Opera"
	BrowserUnknown = "Unknown"
)

var botSignatures = []string{
	"googleimageproxy",
	"thunderbird",
	"yahoo",
	"curl",
	"bot",
	"preview",
	"proxy",
	"crawler",
	"spider",
	"facebookexternalhit",
	"slackbot",
}

var browserSignatures = []string{"chrome", "firefox", "safari", "edge"}

// BrowserName resolves a browser from the user agent with a fixed
// precedence. Edge agents also carry the Chrome token, and Chrome agents
// carry the Safari token.
func BrowserName(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/"):
		return BrowserEdge
	case strings.Contains(ua, "chrome/"):
		return BrowserChrome
	case strings.Contains(ua, "firefox/"):
		return BrowserFirefox
	case strings.Contains(ua, "safari/"):
		return BrowserSafari
	case strings.Contains(ua, "opera") || strings.Contains(ua, "opr/"):
		return BrowserOpera
	}
	return BrowserUnknown
}

// IsBotAgent reports whether the user agent looks automated: it matches a
// bot or proxy signature and no mainstream browser signature.
func IsBotAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return false
	}
	matched := false
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, sig := range browserSignatures {
		if strings.Contains(ua, sig) {
			return false
		}
	}
	return true
}
