package detect

import (
	"context"
	"testing"

	"github.com/linkgate/linkgate/internal/signal"
	"github.com/linkgate/linkgate/internal/signal/cache"
)

func domainEval(t *testing.T, d *DomainChecker, email string) signal.Result {
	t.Helper()
	res, err := d.Evaluate(context.Background(), &signal.RequestContext{Email: email})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	return res
}

func TestDomainCheckerBlacklists(t *testing.T) {
	th := signal.DefaultThresholds()
	cfg := DomainConfig{
		Disposable: []string{"mailinator.com", "guerrillamail.com"},
		VPNMail:    []string{"protonmail.example"},
		Fraud:      []string{"scam-panel.biz"},
	}
	d := NewDomainChecker(th, nil, cfg)

	tests := []struct {
		name         string
		email        string
		wantVerdict  bool
		wantCategory string
		wantTier     signal.RiskTier
	}{
		{
			name:         "disposable provider",
			email:        "user@guerrillamail.com",
			wantVerdict:  true,
			wantCategory: "disposable",
			wantTier:     signal.TierHigh,
		},
		{
			name:         "vpn-bundled mail provider",
			email:        "user@protonmail.example",
			wantVerdict:  true,
			wantCategory: "vpn_email",
			wantTier:     signal.TierMedium,
		},
		{
			name:         "known-fraud domain",
			email:        "user@scam-panel.biz",
			wantVerdict:  true,
			wantCategory: "fraud",
			wantTier:     signal.TierHigh,
		},
		{
			name:         "digit-run pattern",
			email:        "user@mail48210.net",
			wantVerdict:  true,
			wantCategory: "pattern",
			wantTier:     signal.TierMedium,
		},
		{
			name:        "clean domain",
			email:       "person@example.com",
			wantVerdict: false,
		},
		{
			name:        "case-insensitive domain match",
			email:       "User@GUERRILLAMAIL.COM",
			wantVerdict: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := domainEval(t, d, tt.email)
			if res.Verdict != tt.wantVerdict {
				t.Errorf("Verdict = %v, want %v", res.Verdict, tt.wantVerdict)
			}
			if tt.wantCategory != "" && res.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", res.Category, tt.wantCategory)
			}
			if tt.wantTier != "" && res.Tier != tt.wantTier {
				t.Errorf("Tier = %v, want %v", res.Tier, tt.wantTier)
			}
		})
	}
}

func TestDomainCheckerStrongestHitWins(t *testing.T) {
	th := signal.DefaultThresholds()
	// mailinator.com is both a disposable-list hit (90) and a temp_keyword
	// pattern hit (70); the list hit must be the one surfaced.
	d := NewDomainChecker(th, nil, DomainConfig{Disposable: []string{"mailinator.com"}})

	res := domainEval(t, d, "bot@mailinator.com")
	if res.Category != "disposable" {
		t.Errorf("Category = %q, want disposable", res.Category)
	}
	if res.Confidence != 90 {
		t.Errorf("Confidence = %d, want 90", res.Confidence)
	}
	if res.Domain == nil || len(res.Domain.Sources) != 2 {
		t.Fatalf("Sources = %v, want both checks recorded", res.Domain)
	}
}

func TestDomainCheckerNeutralWithoutEmail(t *testing.T) {
	d := NewDomainChecker(signal.DefaultThresholds(), nil, DomainConfig{})
	for _, email := range []string{"", "not-an-email", "trailing@"} {
		res := domainEval(t, d, email)
		if res.Verdict {
			t.Errorf("email %q: Verdict = true, want neutral", email)
		}
	}
}

func TestDomainCheckerCachesByDomain(t *testing.T) {
	th := signal.DefaultThresholds()
	store := cache.NewMemoryStore(cache.FromThresholds(th), 0)
	calls := 0
	d := NewDomainChecker(th, store, DomainConfig{
		Reputation: reputationFunc(func(domain string) (Reputation, error) {
			calls++
			return Reputation{}, nil
		}),
	})

	domainEval(t, d, "a@example.com")
	domainEval(t, d, "b@example.com") // same domain, different mailbox
	if calls != 1 {
		t.Errorf("reputation calls = %d, want 1 (domain cached)", calls)
	}
	domainEval(t, d, "a@other.org")
	if calls != 2 {
		t.Errorf("reputation calls = %d, want 2 after new domain", calls)
	}
}

// reputationFunc adapts a function to DomainReputation.
type reputationFunc func(domain string) (Reputation, error)

func (f reputationFunc) CheckDomain(_ context.Context, domain string) (Reputation, error) {
	return f(domain)
}

func TestEmailDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"user@Example.COM", "example.com"},
		{"first.last+tag@mail.example.org", "mail.example.org"},
		{"weird@name@host.net", "host.net"},
		{"nodomain", ""},
		{"trailing@", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := emailDomain(tt.email); got != tt.want {
			t.Errorf("emailDomain(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}
