// Package decision renders the final admission-control verdict for a survey
// link from the aggregated security context and project policy.
package decision

import (
	"context"
	"log"
	"strings"

	"github.com/linkgate/linkgate/internal/aggregate"
	"github.com/linkgate/linkgate/internal/repo"
	"github.com/linkgate/linkgate/internal/signal"
)

// Reason is the structured denial code surfaced to the HTTP layer. Order of
// evaluation is fixed; the first matching rule decides the user messaging.
type Reason string

const (
	ReasonAllowed Reason = ""

	ReasonLinkNotFound        Reason = "LINK_NOT_FOUND"
	ReasonLinkAlreadyUsed     Reason = "LINK_ALREADY_USED"
	ReasonGeoRestricted       Reason = "GEO_RESTRICTED"
	ReasonGeoConfidenceTooLow Reason = "GEO_CONFIDENCE_TOO_LOW"
	ReasonGeoCheckFailed      Reason = "GEO_RESTRICTION_CHECK_FAILED"
	ReasonTorDetected         Reason = "TOR_DETECTED"
	ReasonVPNDetected         Reason = "VPN_DETECTED"
	ReasonHighRiskProxy       Reason = "HIGH_RISK_PROXY_DETECTED"
	ReasonCriticalThreat      Reason = "CRITICAL_THREAT_LEVEL"
	ReasonCaptchaFailed       Reason = "CAPTCHA_FAILED"
)

// AccessDecision is the terminal value of one evaluation.
type AccessDecision struct {
	Allowed bool
	Reason  Reason
	Link    *repo.Link
	Context aggregate.SecurityContext
}

// Engine applies link state, geo policy, and network risk in a fixed order.
type Engine struct {
	th   signal.Thresholds
	repo repo.Repository
}

func NewEngine(th signal.Thresholds, r repo.Repository) *Engine {
	return &Engine{th: th, repo: r}
}

// Decide fetches the link and its project policy, then walks the deny rules
// in priority order. First match wins.
func (e *Engine) Decide(ctx context.Context, uid string, sc aggregate.SecurityContext) (AccessDecision, error) {
	deny := func(r Reason, link *repo.Link) (AccessDecision, error) {
		return AccessDecision{Allowed: false, Reason: r, Link: link, Context: sc}, nil
	}

	link, err := e.repo.GetLinkByUID(ctx, uid)
	if err != nil {
		if err == repo.ErrNotFound {
			return deny(ReasonLinkNotFound, nil)
		}
		// Storage trouble reads as "link unavailable", not an allow.
		log.Printf("decision: link lookup %s failed: %v", uid, err)
		return deny(ReasonLinkNotFound, nil)
	}

	if link.Status == repo.StatusCompleted || link.Status == repo.StatusFlagged {
		return deny(ReasonLinkAlreadyUsed, link)
	}

	policy, err := e.repo.GetProjectPolicy(ctx, link.ProjectID)
	if err != nil {
		// Unparseable or unreachable policy is a conservative deny, never a
		// silent allow.
		log.Printf("decision: policy lookup for project %s failed: %v", link.ProjectID, err)
		return deny(ReasonGeoCheckFailed, link)
	}

	if len(policy.AllowedCountries) > 0 {
		if sc.Geo == nil || sc.Geo.Confidence < e.th.GeoEnforceFloor {
			// Cannot enforce geography confidently.
			return deny(ReasonGeoConfidenceTooLow, link)
		}
		if !countryAllowed(sc.Geo.CountryCode, policy.AllowedCountries) {
			return deny(ReasonGeoRestricted, link)
		}
	}

	// Tor always denies, independent of link type.
	if sc.VPN.IsTor {
		return deny(ReasonTorDetected, link)
	}

	// Test links bypass the remaining network-risk rules so internal QA can
	// exercise surveys from office VPNs.
	if link.Type != repo.LinkTest {
		if sc.VPN.IsVPN {
			return deny(ReasonVPNDetected, link)
		}
		if sc.VPN.IsProxy && sc.VPNConfidence > e.th.ProxyDenyMin {
			return deny(ReasonHighRiskProxy, link)
		}
		if sc.ThreatLevel == signal.TierCritical {
			return deny(ReasonCriticalThreat, link)
		}
	}

	if sc.CaptchaScore != nil && *sc.CaptchaScore < e.th.CaptchaDenyMax {
		return deny(ReasonCaptchaFailed, link)
	}

	return AccessDecision{Allowed: true, Reason: ReasonAllowed, Link: link, Context: sc}, nil
}

func countryAllowed(cc string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, cc) {
			return true
		}
	}
	return false
}
