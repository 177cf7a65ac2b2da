package detect

import (
	"context"
	"regexp"
	"strings"

	"github.com/linkgate/linkgate/internal/signal"
	"github.com/linkgate/linkgate/internal/signal/cache"
)

// DomainReputation is a pluggable external domain-reputation capability.
// Wire a real provider; do not simulate one.
type DomainReputation interface {
	CheckDomain(ctx context.Context, domain string) (Reputation, error)
}

// patternRule is a regex-based "suspicious domain" heuristic with its own
// confidence.
type patternRule struct {
	name       string
	re         *regexp.Regexp
	confidence int
}

var defaultPatternRules = []patternRule{
	{name: "short_alphanumeric", re: regexp.MustCompile(`^[a-z0-9]{1,5}\.[a-z]{2,}$`), confidence: 55},
	{name: "digit_run", re: regexp.MustCompile(`[0-9]{4,}`), confidence: 60},
	{name: "hyphen_spam", re: regexp.MustCompile(`(-[a-z0-9]+){3,}`), confidence: 50},
	{name: "temp_keyword", re: regexp.MustCompile(`(temp|trash|fake|burner|disposable|mailinator)`), confidence: 70},
}

type domainHit struct {
	category   string
	reason     string
	confidence int
}

// DomainChecker flags email domains that belong to disposable-mail services,
// VPN-bundled mail providers, or known-fraud lists, plus pattern heuristics
// and an optional external reputation check.
type DomainChecker struct {
	th    signal.Thresholds
	cache cache.Store

	disposable map[string]bool
	vpnMail    map[string]bool
	fraud      map[string]bool
	patterns   []patternRule
	reputation DomainReputation // optional
}

// DomainConfig supplies the blacklists. Entries are lowercased on load.
type DomainConfig struct {
	Disposable []string
	VPNMail    []string
	Fraud      []string
	Reputation DomainReputation
}

func NewDomainChecker(th signal.Thresholds, store cache.Store, cfg DomainConfig) *DomainChecker {
	return &DomainChecker{
		th:         th,
		cache:      store,
		disposable: toSet(cfg.Disposable),
		vpnMail:    toSet(cfg.VPNMail),
		fraud:      toSet(cfg.Fraud),
		patterns:   defaultPatternRules,
		reputation: cfg.Reputation,
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if it != "" {
			set[it] = true
		}
	}
	return set
}

func (d *DomainChecker) Kind() signal.Kind { return signal.KindDomain }

func (d *DomainChecker) Evaluate(ctx context.Context, rc *signal.RequestContext) (signal.Result, error) {
	domain := emailDomain(rc.Email)
	if domain == "" {
		return signal.Neutral(signal.KindDomain), nil
	}
	if d.cache != nil {
		if res, ok := d.cache.Get(ctx, signal.KindDomain, domain); ok {
			return res, nil
		}
	}

	res := d.check(ctx, domain)

	if d.cache != nil {
		d.cache.Put(ctx, signal.KindDomain, domain, res)
	}
	return res, nil
}

func (d *DomainChecker) check(ctx context.Context, domain string) signal.Result {
	var hits []domainHit

	if d.disposable[domain] {
		hits = append(hits, domainHit{category: "disposable", reason: "disposable email provider", confidence: 90})
	}
	if d.vpnMail[domain] {
		hits = append(hits, domainHit{category: "vpn_email", reason: "email provider bundled with VPN services", confidence: 75})
	}
	if d.fraud[domain] {
		hits = append(hits, domainHit{category: "fraud", reason: "domain on known-fraud list", confidence: 95})
	}
	for _, p := range d.patterns {
		if p.re.MatchString(domain) {
			hits = append(hits, domainHit{category: "pattern", reason: "suspicious pattern: " + p.name, confidence: p.confidence})
		}
	}
	if d.reputation != nil {
		if rep, err := d.reputation.CheckDomain(ctx, domain); err == nil && rep.Suspicious {
			hits = append(hits, domainHit{category: "reputation", reason: "external reputation flag", confidence: rep.Confidence})
		}
	}

	info := signal.DomainInfo{Domain: domain}
	if len(hits) == 0 {
		return signal.Result{Kind: signal.KindDomain, Tier: signal.TierLow, Domain: &info}
	}

	// Report the single strongest hit; sources list everything that fired.
	best := hits[0]
	for _, h := range hits {
		info.Sources = append(info.Sources, h.category)
		if h.confidence > best.confidence {
			best = h
		}
	}
	info.Blacklisted = true
	info.Category = best.category
	info.Reason = best.reason

	tier := signal.TierMedium
	if best.confidence >= 85 {
		tier = signal.TierHigh
	}
	return signal.Result{
		Kind:       signal.KindDomain,
		Verdict:    true,
		Category:   best.category,
		Confidence: best.confidence,
		Tier:       tier,
		Evidence:   info.Sources,
		Domain:     &info,
	}
}

// emailDomain extracts the lowercased domain from an email address.
func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
