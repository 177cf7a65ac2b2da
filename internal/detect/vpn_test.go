package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/linkgate/linkgate/internal/signal"
	"github.com/linkgate/linkgate/internal/signal/cache"
)

// countingResolver fakes reverse DNS and counts lookups.
type countingResolver struct {
	names map[string][]string
	calls int
}

func (r *countingResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	r.calls++
	if names, ok := r.names[addr]; ok {
		return names, nil
	}
	return nil, errors.New("no PTR record")
}

func newTestVPNDetector(t *testing.T, cfg VPNConfig, store cache.Store) (*VPNDetector, *countingResolver) {
	t.Helper()
	d := NewVPNDetector(signal.DefaultThresholds(), store, cfg)
	r := &countingResolver{names: map[string][]string{}}
	d.SetResolver(r)
	return d, r
}

func vpnEval(t *testing.T, d *VPNDetector, ip string) signal.Result {
	t.Helper()
	res, err := d.Evaluate(context.Background(), &signal.RequestContext{IP: ip})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	return res
}

func TestVPNDetectorTorExit(t *testing.T) {
	d, _ := newTestVPNDetector(t, VPNConfig{TorExitIPs: []string{"185.220.101.1"}}, nil)

	res := vpnEval(t, d, "185.220.101.1")

	if res.VPN == nil {
		t.Fatal("VPN info missing")
	}
	if res.VPN.TorScore != 100 {
		t.Errorf("TorScore = %d, want 100", res.VPN.TorScore)
	}
	if !res.VPN.IsTor {
		t.Error("IsTor = false, want true")
	}
	if res.Tier != signal.TierHigh {
		t.Errorf("Tier = %v, want high", res.Tier)
	}
	if !hasEvidence(res.Evidence, "tor_exit_node") {
		t.Errorf("Evidence = %v, want tor_exit_node", res.Evidence)
	}
}

func TestVPNDetectorCategories(t *testing.T) {
	tests := []struct {
		name      string
		cfg       VPNConfig
		rdns      []string
		ip        string
		wantVPN   bool
		wantProxy bool
		wantHost  bool
	}{
		{
			name:    "IP inside VPN provider range",
			cfg:     VPNConfig{VPNCIDRs: []string{"10.8.0.0/16"}},
			ip:      "10.8.4.7",
			wantVPN: true,
		},
		{
			name: "rdns vpn keyword alone stays under the cutoff",
			cfg:  VPNConfig{},
			rdns: []string{"edge1.vpn.example.net."},
			ip:   "198.51.100.9",
		},
		{
			name:    "range plus rdns keyword",
			cfg:     VPNConfig{VPNCIDRs: []string{"198.51.100.0/24"}},
			rdns:    []string{"edge1.vpn.example.net."},
			ip:      "198.51.100.9",
			wantVPN: true,
		},
		{
			name:      "rdns proxy keyword alone triggers proxy",
			cfg:       VPNConfig{},
			rdns:      []string{"cache-proxy-3.example.org."},
			ip:        "203.0.113.5",
			wantProxy: true,
		},
		{
			name:     "hosting ASN blacklist",
			cfg:      VPNConfig{HostingASNs: DefaultHostingASNs(), ASN: &StaticASNTable{ByIP: map[string]ASNRecord{"3.94.12.1": {ASN: 16509, Org: "Amazon.com, Inc."}}}},
			ip:       "3.94.12.1",
			wantHost: true,
		},
		{
			name:      "reputation blacklist triggers proxy",
			cfg:       VPNConfig{Reputation: &StaticReputation{Listed: map[string]bool{"192.0.2.77": true}, Confidence: 80}},
			ip:        "192.0.2.77",
			wantProxy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, r := newTestVPNDetector(t, tt.cfg, nil)
			if tt.rdns != nil {
				r.names[tt.ip] = tt.rdns
			}

			res := vpnEval(t, d, tt.ip)
			if res.VPN == nil {
				t.Fatal("VPN info missing")
			}
			if res.VPN.IsVPN != tt.wantVPN {
				t.Errorf("IsVPN = %v, want %v (scores %+v)", res.VPN.IsVPN, tt.wantVPN, res.VPN)
			}
			if res.VPN.IsProxy != tt.wantProxy {
				t.Errorf("IsProxy = %v, want %v", res.VPN.IsProxy, tt.wantProxy)
			}
			if res.VPN.IsHosting != tt.wantHost {
				t.Errorf("IsHosting = %v, want %v", res.VPN.IsHosting, tt.wantHost)
			}
		})
	}
}

func TestVPNDetectorEmptyIP(t *testing.T) {
	d, _ := newTestVPNDetector(t, VPNConfig{}, nil)
	res, err := d.Evaluate(context.Background(), &signal.RequestContext{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Verdict || res.Confidence != 0 || res.Tier != signal.TierLow {
		t.Errorf("expected neutral result, got %+v", res)
	}
}

func TestVPNDetectorCachesByIP(t *testing.T) {
	th := signal.DefaultThresholds()
	store := cache.NewMemoryStore(cache.FromThresholds(th), 0)
	d, r := newTestVPNDetector(t, VPNConfig{VPNCIDRs: []string{"10.8.0.0/16"}}, store)

	first := vpnEval(t, d, "10.8.1.2")
	second := vpnEval(t, d, "10.8.1.2")

	if r.calls != 1 {
		t.Errorf("resolver calls = %d, want 1 (second hit served from cache)", r.calls)
	}
	if first.VPN.VPNScore != second.VPN.VPNScore {
		t.Errorf("cached result diverged: %d vs %d", first.VPN.VPNScore, second.VPN.VPNScore)
	}

	// A different IP must miss.
	vpnEval(t, d, "10.8.1.3")
	if r.calls != 2 {
		t.Errorf("resolver calls = %d, want 2 after new IP", r.calls)
	}
}

func TestVPNDetectorConfidenceClamped(t *testing.T) {
	cfg := VPNConfig{
		VPNCIDRs:     []string{"10.8.0.0/16"},
		HostingCIDRs: []string{"10.8.0.0/16"},
		HostingASNs:  DefaultHostingASNs(),
		ASN:          &StaticASNTable{ByIP: map[string]ASNRecord{"10.8.1.2": {ASN: 14061, Org: "DigitalOcean Cloud Hosting"}}},
		Reputation:   &StaticReputation{Listed: map[string]bool{"10.8.1.2": true}, Confidence: 90},
	}
	d, r := newTestVPNDetector(t, cfg, nil)
	r.names["10.8.1.2"] = []string{"vpn-proxy.example.com."}

	res := vpnEval(t, d, "10.8.1.2")
	if res.Confidence != 100 {
		t.Errorf("Confidence = %d, want clamped 100", res.Confidence)
	}
	if !res.Verdict {
		t.Error("Verdict = false, want true")
	}
}

func hasEvidence(evidence []string, tag string) bool {
	for _, e := range evidence {
		if e == tag {
			return true
		}
	}
	return false
}
