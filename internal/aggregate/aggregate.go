// Package aggregate merges independent detector signals into one
// SecurityContext with a weighted threat score.
package aggregate

import (
	"sort"

	"github.com/linkgate/linkgate/internal/signal"
)

// SecurityContext is the unified risk picture for one evaluation. Built
// fresh per request from detector results; never persisted directly.
type SecurityContext struct {
	Authenticated bool             `json:"authenticated"`
	Geo           *signal.GeoInfo  `json:"geo,omitempty"`
	VPN           signal.VPNInfo   `json:"vpn"`
	VPNConfidence int              `json:"vpn_confidence"`
	CaptchaScore  *float64         `json:"captcha_score,omitempty"`
	Flags         []string         `json:"flags,omitempty"`
	ThreatScore   int              `json:"threat_score"`
	ThreatLevel   signal.RiskTier  `json:"threat_level"`
	Results       []signal.Result  `json:"results,omitempty"`
}

// HasFlag reports membership in the accumulated flag set.
func (sc *SecurityContext) HasFlag(tag string) bool {
	for _, f := range sc.Flags {
		if f == tag {
			return true
		}
	}
	return false
}

// Network scoring: the four anonymization categories are mutually exclusive,
// only the highest-priority match applies.
const (
	torPoints     = 40
	vpnPoints     = 25 // VPN with confidence > 80
	proxyPoints   = 15
	hostingPoints = 10

	geoVeryLowConfPoints = 15 // confidence < 30
	geoLowConfPoints     = 10 // confidence < 50
	geoLowAccuracyPoints = 5
	geoMissingPoints     = 20

	captchaFailPoints = 30 // score < 0.3
	captchaWeakPoints = 15 // score < 0.5

	criticalTagPoints = 25
	highTagPoints     = 15
	mediumTagPoints   = 10
)

// Tag severity sets. Each bucket contributes its bonus once no matter how
// many member tags fired.
var criticalTags = map[string]bool{
	"tor_exit_node":       true,
	"challenge_bad_hash":  true,
	"challenge_too_fast":  true,
	"instant_submit":      true,
	"ai:self_reference":   true,
}

var highTags = map[string]bool{
	"machine_keystrokes":        true,
	"impossible_mouse_velocity": true,
	"fast_submit":               true,
	"ip_blacklist":              true,
	"flatline:identical":        true,
	"form_filler":               true,
	"tamper":                    true,
	"automation_user_agent":     true,
	"automation_headers":        true,
}

var mediumTags = map[string]bool{
	"no_mouse_activity":        true,
	"regular_clicks":           true,
	"zero_idle_time":           true,
	"flatline:sequence":        true,
	"flatline:alternating":     true,
	"flatline:extreme":         true,
	"checkbox_bot":             true,
	"select_bot":               true,
	"email_bot":                true,
	"missing_standard_headers": true,
}

// Aggregate merges results using the default tier cutoffs.
func Aggregate(results []signal.Result, authenticated bool, captchaScore *float64) SecurityContext {
	return AggregateWith(signal.DefaultThresholds(), results, authenticated, captchaScore)
}

// AggregateWith is a pure function over detector results. It performs no
// I/O; detector failures must already be converted to neutral results plus
// an explicit "<kind>_detection_failed" flag by the caller.
func AggregateWith(th signal.Thresholds, results []signal.Result, authenticated bool, captchaScore *float64) SecurityContext {
	sc := SecurityContext{
		Authenticated: authenticated,
		CaptchaScore:  captchaScore,
		Results:       results,
	}

	flagSet := make(map[string]bool)
	for _, r := range results {
		for _, tag := range r.Evidence {
			flagSet[tag] = true
		}
		switch r.Kind {
		case signal.KindVPN:
			if r.VPN != nil {
				sc.VPN = *r.VPN
				sc.VPNConfidence = r.Confidence
			}
		case signal.KindGeo:
			if r.Geo != nil {
				sc.Geo = r.Geo
			}
		}
	}
	sc.Flags = sortedFlags(flagSet)

	score := 0

	// Network anonymization, highest priority only.
	switch {
	case sc.VPN.IsTor:
		score += torPoints
	case sc.VPN.IsVPN && sc.VPNConfidence > 80:
		score += vpnPoints
	case sc.VPN.IsProxy:
		score += proxyPoints
	case sc.VPN.IsHosting:
		score += hostingPoints
	}

	// Geolocation quality.
	if sc.Geo == nil || sc.Geo.CountryCode == "" {
		score += geoMissingPoints
	} else {
		switch {
		case sc.Geo.Confidence < 30:
			score += geoVeryLowConfPoints
		case sc.Geo.Confidence < 50:
			score += geoLowConfPoints
		}
		if sc.Geo.Accuracy == signal.AccuracyLow {
			score += geoLowAccuracyPoints
		}
	}

	// Captcha.
	if captchaScore != nil {
		switch {
		case *captchaScore < 0.3:
			score += captchaFailPoints
		case *captchaScore < 0.5:
			score += captchaWeakPoints
		}
	}

	// Flag-tag bonuses, once per severity bucket.
	if anyIn(flagSet, criticalTags) {
		score += criticalTagPoints
	}
	if anyIn(flagSet, highTags) {
		score += highTagPoints
	}
	if anyIn(flagSet, mediumTags) {
		score += mediumTagPoints
	}

	sc.ThreatScore = score
	sc.ThreatLevel = threatLevel(th, score)
	return sc
}

func threatLevel(th signal.Thresholds, score int) signal.RiskTier {
	switch {
	case score >= th.ThreatCriticalMin:
		return signal.TierCritical
	case score >= th.ThreatHighMin:
		return signal.TierHigh
	case score >= th.ThreatMediumMin:
		return signal.TierMedium
	default:
		return signal.TierLow
	}
}

func anyIn(set map[string]bool, bucket map[string]bool) bool {
	for tag := range set {
		if bucket[tag] {
			return true
		}
	}
	return false
}

func sortedFlags(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
