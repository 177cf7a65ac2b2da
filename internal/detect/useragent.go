package detect

import (
	"net/http"
	"strings"
)

// uaAnalysis is the request-surface picture extracted from the user agent
// and HTTP headers: automation tool signatures, missing standard headers,
// and the coarse platform/browser split used for fingerprinting.
type uaAnalysis struct {
	Platform           string
	Browser            string
	AutomationKeywords []string
	MissingHeaders     []string
	AutomationHeaders  []string
}

var uaAutomationKeywords = []string{
	"headless", "selenium", "webdriver", "puppeteer",
	"playwright", "phantom", "jsdom", "nightmare",
	"chrome-headless", "automated", "bot", "crawler",
}

func analyzeUserAgent(userAgent string, headers http.Header) uaAnalysis {
	a := uaAnalysis{}
	lower := strings.ToLower(userAgent)

	for _, kw := range uaAutomationKeywords {
		if strings.Contains(lower, kw) {
			a.AutomationKeywords = append(a.AutomationKeywords, kw)
		}
	}
	a.Platform = uaPlatform(lower)
	a.Browser = uaBrowser(lower)

	if headers != nil {
		a.MissingHeaders = missingStandardHeaders(headers)
		a.AutomationHeaders = automationHeaders(headers)
	}
	return a
}

func uaPlatform(lower string) string {
	switch {
	// iOS user agents contain "Mac OS X", so mobile checks come first.
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad"):
		return "iOS"
	case strings.Contains(lower, "android"):
		return "Android"
	case strings.Contains(lower, "windows"):
		return "Windows"
	case strings.Contains(lower, "mac"):
		return "macOS"
	case strings.Contains(lower, "linux"):
		return "Linux"
	}
	return ""
}

func uaBrowser(lower string) string {
	switch {
	case strings.Contains(lower, "edge"):
		return "Edge"
	case strings.Contains(lower, "chrome"):
		return "Chrome"
	case strings.Contains(lower, "firefox"):
		return "Firefox"
	case strings.Contains(lower, "safari"):
		return "Safari"
	}
	return ""
}

// missingStandardHeaders reports which of the headers every real browser
// sends are absent.
func missingStandardHeaders(headers http.Header) []string {
	var missing []string
	for _, h := range []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"} {
		if headers.Get(h) == "" {
			missing = append(missing, h)
		}
	}
	return missing
}

// automationHeaders scans every header value for automation tool signatures
// and checks for headers only automation frameworks set.
func automationHeaders(headers http.Header) []string {
	var out []string
	keywords := []string{"headless", "selenium", "webdriver", "puppeteer", "playwright"}

	for name, values := range headers {
		for _, v := range values {
			lower := strings.ToLower(v)
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					out = append(out, name)
					break
				}
			}
		}
	}

	// Present at all means a DevTools-driven browser.
	if headers.Get("X-DevTools-Emulate-Network-Conditions-Client-Id") != "" {
		out = append(out, "X-DevTools-Emulate-Network-Conditions-Client-Id")
	}
	return out
}
