package decision

import (
	"context"
	"testing"

	"github.com/linkgate/linkgate/internal/aggregate"
	"github.com/linkgate/linkgate/internal/repo"
	"github.com/linkgate/linkgate/internal/signal"
)

func newTestEngine(t *testing.T) (*Engine, *repo.MemoryRepository) {
	t.Helper()
	r := repo.NewMemoryRepository()
	return NewEngine(signal.DefaultThresholds(), r), r
}

func addLink(r *repo.MemoryRepository, uid string, typ repo.LinkType, status repo.LinkStatus) *repo.Link {
	return r.AddLink(repo.Link{
		UID:       uid,
		ProjectID: "proj-1",
		SurveyURL: "https://surveys.example/run/1",
		Type:      typ,
		Status:    status,
	})
}

func cleanContext() aggregate.SecurityContext {
	return aggregate.SecurityContext{
		Geo:         &signal.GeoInfo{CountryCode: "DE", Confidence: 85, Accuracy: signal.AccuracyHigh},
		ThreatLevel: signal.TierLow,
	}
}

func decide(t *testing.T, e *Engine, uid string, sc aggregate.SecurityContext) AccessDecision {
	t.Helper()
	d, err := e.Decide(context.Background(), uid, sc)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	return d
}

func TestDecideCleanRequestAllowed(t *testing.T) {
	e, r := newTestEngine(t)
	addLink(r, "live-1", repo.LinkLive, repo.StatusActive)

	d := decide(t, e, "live-1", cleanContext())
	if !d.Allowed || d.Reason != ReasonAllowed {
		t.Fatalf("Decide() = %+v, want allowed", d)
	}
	if d.Link == nil || d.Link.UID != "live-1" {
		t.Errorf("Link = %+v, want live-1", d.Link)
	}
}

func TestDecideDenyRules(t *testing.T) {
	captchaLow := 0.2
	tests := []struct {
		name    string
		uid     string
		typ     repo.LinkType
		status  repo.LinkStatus
		policy  *repo.Policy
		mutate  func(sc *aggregate.SecurityContext)
		want    Reason
	}{
		{
			name: "unknown link",
			uid:  "missing",
			want: ReasonLinkNotFound,
		},
		{
			name:   "completed link",
			status: repo.StatusCompleted,
			want:   ReasonLinkAlreadyUsed,
		},
		{
			name:   "flagged link",
			status: repo.StatusFlagged,
			want:   ReasonLinkAlreadyUsed,
		},
		{
			name:   "geo confidence below the enforcement floor",
			policy: &repo.Policy{AllowedCountries: []string{"DE"}},
			mutate: func(sc *aggregate.SecurityContext) { sc.Geo.Confidence = 40 },
			want:   ReasonGeoConfidenceTooLow,
		},
		{
			name:   "no geo at all under a restricted policy",
			policy: &repo.Policy{AllowedCountries: []string{"DE"}},
			mutate: func(sc *aggregate.SecurityContext) { sc.Geo = nil },
			want:   ReasonGeoConfidenceTooLow,
		},
		{
			name:   "country outside the allow list",
			policy: &repo.Policy{AllowedCountries: []string{"US", "CA"}},
			want:   ReasonGeoRestricted,
		},
		{
			name:   "allow list match is case-insensitive",
			policy: &repo.Policy{AllowedCountries: []string{"de"}},
			want:   ReasonAllowed,
		},
		{
			name:   "tor exit",
			mutate: func(sc *aggregate.SecurityContext) { sc.VPN.IsTor = true },
			want:   ReasonTorDetected,
		},
		{
			name:   "vpn on a live link",
			mutate: func(sc *aggregate.SecurityContext) { sc.VPN.IsVPN = true },
			want:   ReasonVPNDetected,
		},
		{
			name: "high-confidence proxy",
			mutate: func(sc *aggregate.SecurityContext) {
				sc.VPN.IsProxy = true
				sc.VPNConfidence = 85
			},
			want: ReasonHighRiskProxy,
		},
		{
			name: "low-confidence proxy passes",
			mutate: func(sc *aggregate.SecurityContext) {
				sc.VPN.IsProxy = true
				sc.VPNConfidence = 50
			},
			want: ReasonAllowed,
		},
		{
			name:   "critical threat level",
			mutate: func(sc *aggregate.SecurityContext) { sc.ThreatLevel = signal.TierCritical },
			want:   ReasonCriticalThreat,
		},
		{
			name:   "failed captcha",
			mutate: func(sc *aggregate.SecurityContext) { sc.CaptchaScore = &captchaLow },
			want:   ReasonCaptchaFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, r := newTestEngine(t)
			uid := tt.uid
			if uid == "" {
				uid = "link-1"
				typ := tt.typ
				if typ == "" {
					typ = repo.LinkLive
				}
				status := tt.status
				if status == "" {
					status = repo.StatusActive
				}
				addLink(r, uid, typ, status)
			}
			if tt.policy != nil {
				r.SetPolicy("proj-1", *tt.policy)
			}

			sc := cleanContext()
			if tt.mutate != nil {
				tt.mutate(&sc)
			}

			d := decide(t, e, uid, sc)
			if d.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.want)
			}
			if d.Allowed != (tt.want == ReasonAllowed) {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.want == ReasonAllowed)
			}
		})
	}
}

func TestDecideRuleOrdering(t *testing.T) {
	// A used link wins over every network signal.
	e, r := newTestEngine(t)
	addLink(r, "used", repo.LinkLive, repo.StatusCompleted)
	sc := cleanContext()
	sc.VPN.IsTor = true
	if d := decide(t, e, "used", sc); d.Reason != ReasonLinkAlreadyUsed {
		t.Errorf("Reason = %q, want LINK_ALREADY_USED before TOR_DETECTED", d.Reason)
	}

	// Unenforceable geo wins over the restriction itself.
	e, r = newTestEngine(t)
	addLink(r, "geo", repo.LinkLive, repo.StatusActive)
	r.SetPolicy("proj-1", repo.Policy{AllowedCountries: []string{"US"}})
	sc = cleanContext()
	sc.Geo.Confidence = 10 // also outside the allow list
	if d := decide(t, e, "geo", sc); d.Reason != ReasonGeoConfidenceTooLow {
		t.Errorf("Reason = %q, want GEO_CONFIDENCE_TOO_LOW before GEO_RESTRICTED", d.Reason)
	}

	// Geo restriction wins over VPN.
	e, r = newTestEngine(t)
	addLink(r, "geo2", repo.LinkLive, repo.StatusActive)
	r.SetPolicy("proj-1", repo.Policy{AllowedCountries: []string{"US"}})
	sc = cleanContext()
	sc.VPN.IsVPN = true
	if d := decide(t, e, "geo2", sc); d.Reason != ReasonGeoRestricted {
		t.Errorf("Reason = %q, want GEO_RESTRICTED before VPN_DETECTED", d.Reason)
	}
}

func TestDecideTestLinkBypass(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(sc *aggregate.SecurityContext)
		want   Reason
	}{
		{
			name:   "vpn bypassed",
			mutate: func(sc *aggregate.SecurityContext) { sc.VPN.IsVPN = true },
			want:   ReasonAllowed,
		},
		{
			name: "proxy bypassed",
			mutate: func(sc *aggregate.SecurityContext) {
				sc.VPN.IsProxy = true
				sc.VPNConfidence = 95
			},
			want: ReasonAllowed,
		},
		{
			name:   "critical threat bypassed",
			mutate: func(sc *aggregate.SecurityContext) { sc.ThreatLevel = signal.TierCritical },
			want:   ReasonAllowed,
		},
		{
			name:   "tor is never bypassed",
			mutate: func(sc *aggregate.SecurityContext) { sc.VPN.IsTor = true },
			want:   ReasonTorDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, r := newTestEngine(t)
			addLink(r, "qa", repo.LinkTest, repo.StatusActive)
			sc := cleanContext()
			tt.mutate(&sc)

			d := decide(t, e, "qa", sc)
			if d.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.want)
			}
		})
	}
}

func TestDecidePolicyFailureDeniesConservatively(t *testing.T) {
	e, r := newTestEngine(t)
	addLink(r, "live-1", repo.LinkLive, repo.StatusActive)
	r.PolicyErr = repo.ErrMalformedPolicy

	d := decide(t, e, "live-1", cleanContext())
	if d.Allowed || d.Reason != ReasonGeoCheckFailed {
		t.Errorf("Decide() = %+v, want GEO_RESTRICTION_CHECK_FAILED deny", d)
	}
}

func TestDecideCaptchaChecksApplyToTestLinks(t *testing.T) {
	e, r := newTestEngine(t)
	addLink(r, "qa", repo.LinkTest, repo.StatusActive)
	low := 0.1
	sc := cleanContext()
	sc.CaptchaScore = &low

	if d := decide(t, e, "qa", sc); d.Reason != ReasonCaptchaFailed {
		t.Errorf("Reason = %q, want CAPTCHA_FAILED on a test link", d.Reason)
	}
}
