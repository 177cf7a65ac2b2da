package detect

import (
	"context"
	"net/http"
	"testing"

	"github.com/linkgate/linkgate/internal/signal"
)

func fingerprintEval(t *testing.T, rc *signal.RequestContext) signal.Result {
	t.Helper()
	d := NewDeviceFingerprinter()
	res, err := d.Evaluate(context.Background(), rc)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	return res
}

func TestFingerprintIDStable(t *testing.T) {
	dev := &signal.DeviceProfile{
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		Timezone:            "Europe/Berlin",
		Language:            "de-DE",
		HardwareConcurrency: 8,
		MaxTouchPoints:      0,
		GPU:                 "ANGLE (NVIDIA)",
	}
	ua := "Mozilla/5.0 (X11; Linux x86_64)"

	a := FingerprintID(ua, dev)
	b := FingerprintID(ua, dev)
	if a != b {
		t.Errorf("FingerprintID not stable: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("FingerprintID length = %d, want 32 hex chars", len(a))
	}

	other := *dev
	other.ScreenWidth = 1280
	if FingerprintID(ua, &other) == a {
		t.Error("FingerprintID identical across different screens")
	}
	if FingerprintID(ua, nil) == a {
		t.Error("FingerprintID identical with and without device profile")
	}
}

func TestFingerprintBehaviorFlags(t *testing.T) {
	steady := func(n int, v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}

	tests := []struct {
		name      string
		trace     *signal.InteractionTrace
		wantFlags []string
		wantTier  signal.RiskTier
	}{
		{
			name: "long session with no pointer activity",
			trace: &signal.InteractionTrace{
				DurationMillis: 60_000,
				IdleMillis:     4_000,
			},
			wantFlags: []string{"no_mouse_activity"},
			wantTier:  signal.TierMedium,
		},
		{
			name: "metronome keystrokes",
			trace: &signal.InteractionTrace{
				DurationMillis: 10_000,
				MouseMoves:     12,
				KeyIntervals:   steady(8, 20),
			},
			wantFlags: []string{"machine_keystrokes"},
			wantTier:  signal.TierMedium,
		},
		{
			name: "regular click cadence",
			trace: &signal.InteractionTrace{
				DurationMillis: 10_000,
				MouseMoves:     12,
				ClickIntervals: steady(5, 500),
			},
			wantFlags: []string{"regular_clicks"},
			wantTier:  signal.TierLow,
		},
		{
			name: "impossible mouse velocity",
			trace: &signal.InteractionTrace{
				DurationMillis:  10_000,
				MouseMoves:      40,
				MouseVelocities: []float64{22, 30, 18, 2, 1},
			},
			wantFlags: []string{"impossible_mouse_velocity"},
			wantTier:  signal.TierMedium,
		},
		{
			name: "long session without a single pause",
			trace: &signal.InteractionTrace{
				DurationMillis: 45_000,
				MouseMoves:     30,
				ScrollEvents:   3,
				IdleMillis:     0,
			},
			wantFlags: []string{"zero_idle_time"},
			wantTier:  signal.TierLow,
		},
		{
			name: "headless automation stacks flags",
			trace: &signal.InteractionTrace{
				DurationMillis: 40_000,
				KeyIntervals:   steady(10, 15),
				IdleMillis:     0,
			},
			wantFlags: []string{"no_mouse_activity", "machine_keystrokes", "zero_idle_time"},
			wantTier:  signal.TierHigh,
		},
		{
			name: "human trace is clean",
			trace: &signal.InteractionTrace{
				DurationMillis:  90_000,
				MouseMoves:      140,
				ScrollEvents:    9,
				IdleMillis:      12_000,
				KeyIntervals:    []float64{110, 240, 95, 310, 180, 150},
				ClickIntervals:  []float64{900, 2400, 1200, 4100},
				MouseVelocities: []float64{0.4, 1.2, 0.8, 2.1},
			},
			wantFlags: nil,
			wantTier:  signal.TierLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fingerprintEval(t, &signal.RequestContext{
				UserAgent: "Mozilla/5.0",
				Trace:     tt.trace,
			})
			if res.Fingerprint == nil {
				t.Fatal("Fingerprint info missing")
			}
			got := res.Fingerprint.BehaviorFlags
			if len(got) != len(tt.wantFlags) {
				t.Fatalf("BehaviorFlags = %v, want %v", got, tt.wantFlags)
			}
			for i, f := range tt.wantFlags {
				if got[i] != f {
					t.Errorf("BehaviorFlags[%d] = %q, want %q", i, got[i], f)
				}
			}
			if res.Verdict != (len(tt.wantFlags) > 0) {
				t.Errorf("Verdict = %v, want %v", res.Verdict, len(tt.wantFlags) > 0)
			}
			if res.Tier != tt.wantTier {
				t.Errorf("Tier = %v, want %v", res.Tier, tt.wantTier)
			}
		})
	}
}

func TestFingerprintAutomationUserAgent(t *testing.T) {
	res := fingerprintEval(t, &signal.RequestContext{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0",
	})
	if got := res.Fingerprint.BehaviorFlags; len(got) != 1 || got[0] != "automation_user_agent" {
		t.Fatalf("BehaviorFlags = %v, want [automation_user_agent]", got)
	}
	if !res.Verdict {
		t.Error("Verdict = false for a headless user agent")
	}
	if res.Tier != signal.TierMedium {
		t.Errorf("Tier = %v, want %v", res.Tier, signal.TierMedium)
	}
}

func TestFingerprintHeaderAnalysis(t *testing.T) {
	bare := http.Header{}
	bare.Set("User-Agent", "Mozilla/5.0")
	res := fingerprintEval(t, &signal.RequestContext{
		UserAgent: "Mozilla/5.0",
		Headers:   bare,
	})
	if got := res.Fingerprint.BehaviorFlags; len(got) != 1 || got[0] != "missing_standard_headers" {
		t.Fatalf("BehaviorFlags = %v, want [missing_standard_headers]", got)
	}

	full := http.Header{}
	full.Set("User-Agent", "Mozilla/5.0")
	full.Set("Accept", "text/html")
	full.Set("Accept-Language", "en-US")
	full.Set("Accept-Encoding", "gzip")
	full.Set("X-Requested-With", "selenium-wire")
	res = fingerprintEval(t, &signal.RequestContext{
		UserAgent: "Mozilla/5.0",
		Headers:   full,
	})
	if got := res.Fingerprint.BehaviorFlags; len(got) != 1 || got[0] != "automation_headers" {
		t.Fatalf("BehaviorFlags = %v, want [automation_headers]", got)
	}
}

func TestFingerprintPlatformBrowser(t *testing.T) {
	tests := []struct {
		ua       string
		platform string
		browser  string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64) Chrome/120.0 Safari/537.36", "Windows", "Chrome"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15", "macOS", "Safari"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Safari/604.1", "iOS", "Safari"},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Firefox/121.0", "Linux", "Firefox"},
		{"Mozilla/5.0 (Linux; Android 14) Chrome/120.0", "Android", "Chrome"},
	}
	for _, tt := range tests {
		res := fingerprintEval(t, &signal.RequestContext{UserAgent: tt.ua})
		if res.Fingerprint.Platform != tt.platform {
			t.Errorf("Platform(%q) = %q, want %q", tt.ua, res.Fingerprint.Platform, tt.platform)
		}
		if res.Fingerprint.Browser != tt.browser {
			t.Errorf("Browser(%q) = %q, want %q", tt.ua, res.Fingerprint.Browser, tt.browser)
		}
	}
}

func TestFingerprintNoTrace(t *testing.T) {
	res := fingerprintEval(t, &signal.RequestContext{UserAgent: "Mozilla/5.0"})
	if res.Verdict {
		t.Error("Verdict = true without a trace")
	}
	if res.Fingerprint == nil || res.Fingerprint.DeviceID == "" {
		t.Error("DeviceID should be synthesized even without a trace")
	}
}
