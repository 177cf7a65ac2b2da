package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/linkgate/linkgate/internal/signal"
)

// Behavioral heuristic cutoffs.
const (
	longSessionMillis  = 30_000 // window long enough that a human moves the mouse
	fastKeystrokeMs    = 40.0   // mean inter-keystroke below this is machine speed
	regularTimingDev   = 5.0    // stddev below this means metronome-regular input
	velocityOutlierPx  = 15.0   // px/ms; faster than any human hand
)

// DeviceFingerprinter synthesizes a stable device id from client-reported
// characteristics and raises behavioral flags from the interaction trace.
type DeviceFingerprinter struct{}

func NewDeviceFingerprinter() *DeviceFingerprinter { return &DeviceFingerprinter{} }

func (d *DeviceFingerprinter) Kind() signal.Kind { return signal.KindFingerprint }

// FingerprintID hashes the composite of device characteristics:
// stable across visits, opaque to the client.
func FingerprintID(userAgent string, dev *signal.DeviceProfile) string {
	parts := []string{userAgent}
	if dev != nil {
		parts = append(parts,
			fmt.Sprintf("%dx%d", dev.ScreenWidth, dev.ScreenHeight),
			dev.Timezone,
			dev.Language,
			fmt.Sprintf("cores:%d", dev.HardwareConcurrency),
			fmt.Sprintf("touch:%d", dev.MaxTouchPoints),
			dev.GPU,
		)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

func (d *DeviceFingerprinter) Evaluate(_ context.Context, rc *signal.RequestContext) (signal.Result, error) {
	info := signal.FingerprintInfo{
		DeviceID: FingerprintID(rc.UserAgent, rc.Device),
	}

	ua := analyzeUserAgent(rc.UserAgent, rc.Headers)
	info.Platform = ua.Platform
	info.Browser = ua.Browser

	score := 0
	if len(ua.AutomationKeywords) > 0 {
		info.BehaviorFlags = append(info.BehaviorFlags, "automation_user_agent")
		score += 50
	}
	if len(ua.AutomationHeaders) > 0 {
		info.BehaviorFlags = append(info.BehaviorFlags, "automation_headers")
		score += 45
	}
	// Headerless requests never came from a browser, but only judge that
	// when we were handed the header set at all.
	if rc.Headers != nil && len(ua.MissingHeaders) >= 2 {
		info.BehaviorFlags = append(info.BehaviorFlags, "missing_standard_headers")
		score += 25
	}

	if rc.Trace != nil {
		info.MouseMoves = rc.Trace.MouseMoves
		info.KeystrokeCount = len(rc.Trace.KeyIntervals)
		flags, s := behaviorFlags(rc.Trace)
		info.BehaviorFlags = append(info.BehaviorFlags, flags...)
		score += s
	}

	tier := signal.TierLow
	switch {
	case score >= 60:
		tier = signal.TierHigh
	case score >= 30:
		tier = signal.TierMedium
	}

	return signal.Result{
		Kind:        signal.KindFingerprint,
		Verdict:     len(info.BehaviorFlags) > 0,
		Confidence:  signal.Clamp(score, 0, 100),
		Tier:        tier,
		Evidence:    info.BehaviorFlags,
		Fingerprint: &info,
	}, nil
}

func behaviorFlags(tr *signal.InteractionTrace) ([]string, int) {
	var flags []string
	score := 0

	longSession := tr.DurationMillis >= longSessionMillis

	if longSession && tr.MouseMoves == 0 && tr.ScrollEvents == 0 {
		flags = append(flags, "no_mouse_activity")
		score += 35
	}

	if len(tr.KeyIntervals) >= 5 {
		m := mean(tr.KeyIntervals)
		sd := stddev(tr.KeyIntervals)
		if m > 0 && m < fastKeystrokeMs && sd < regularTimingDev {
			flags = append(flags, "machine_keystrokes")
			score += 40
		}
	}

	if len(tr.ClickIntervals) >= 4 && stddev(tr.ClickIntervals) < regularTimingDev {
		flags = append(flags, "regular_clicks")
		score += 25
	}

	outliers := 0
	for _, v := range tr.MouseVelocities {
		if v > velocityOutlierPx {
			outliers++
		}
	}
	if len(tr.MouseVelocities) > 0 && outliers*2 > len(tr.MouseVelocities) {
		flags = append(flags, "impossible_mouse_velocity")
		score += 30
	}

	if longSession && tr.IdleMillis == 0 {
		// Humans pause; a session with literally zero idle time did not have one.
		flags = append(flags, "zero_idle_time")
		score += 20
	}

	return flags, score
}
