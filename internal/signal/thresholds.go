package signal

import "time"

// Thresholds collects every tunable scoring constant in one place. The
// defaults mirror the calibration the detectors shipped with; none of them
// have a documented source, so treat overrides as policy, not bug fixes.
type Thresholds struct {
	// VPN detector category cutoffs.
	VPNScoreMin     int // isVPN when vpnScore >= this
	ProxyScoreMin   int // isProxy when proxyScore >= this
	TorScoreMin     int // isTor when torScore >= this
	HostingScoreMin int // isHosting when hostingScore >= this
	RelayScoreMin   int // isRelay when vpnScore+proxyScore >= this

	// Geo combination.
	GeoAgreementBoost  int // added when >=2 sources agree on country code
	GeoConfidenceCap   int // combined confidence never exceeds this
	GeoConfidenceFloor int // weighted average floored here when sources disagree
	GeoSourceTimeout   time.Duration

	// Honeypot suspicion weights.
	HoneypotTextWeight     int
	HoneypotCheckboxWeight int
	HoneypotSelectWeight   int
	HoneypotHiddenWeight   int
	HoneypotFastSubmit     int           // added when submit < FastSubmitWindow
	HoneypotInstantSubmit  int           // added when submit < InstantSubmitWindow (stacks)
	FastSubmitWindow       time.Duration
	InstantSubmitWindow    time.Duration

	// Flatline pattern base scores.
	FlatlineIdenticalScore   int
	FlatlineSequenceScore    int
	FlatlineAlternatingScore int
	FlatlineExtremeScore     int
	FlatlineSimilarScore     int
	FlatlineComboBonus       int // per pattern beyond the first

	// AI-text detection.
	AITextGeneratedMin int // isAIGenerated when confidence >= this

	// Challenge verification.
	ChallengeMinSolve time.Duration
	ChallengeMaxAge   time.Duration

	// Aggregator tier cutoffs.
	ThreatCriticalMin int
	ThreatHighMin     int
	ThreatMediumMin   int

	// Decision engine.
	GeoEnforceFloor int     // minimum geo confidence to enforce a restriction list
	ProxyDenyMin    int     // proxy confidence above which access is denied
	CaptchaDenyMax  float64 // captcha scores below this deny

	// Cache TTLs.
	VPNCacheTTL    time.Duration
	GeoCacheTTL    time.Duration
	DomainCacheTTL time.Duration

	// Session stores.
	SessionTTL time.Duration
}

// DefaultThresholds returns the shipped calibration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VPNScoreMin:     50,
		ProxyScoreMin:   40,
		TorScoreMin:     80,
		HostingScoreMin: 60,
		RelayScoreMin:   40,

		GeoAgreementBoost:  15,
		GeoConfidenceCap:   95,
		GeoConfidenceFloor: 30,
		GeoSourceTimeout:   8 * time.Second,

		HoneypotTextWeight:     25,
		HoneypotCheckboxWeight: 30,
		HoneypotSelectWeight:   20,
		HoneypotHiddenWeight:   40,
		HoneypotFastSubmit:     30,
		HoneypotInstantSubmit:  50,
		FastSubmitWindow:       5 * time.Second,
		InstantSubmitWindow:    2 * time.Second,

		FlatlineIdenticalScore:   40,
		FlatlineSequenceScore:    30,
		FlatlineAlternatingScore: 25,
		FlatlineExtremeScore:     35,
		FlatlineSimilarScore:     20,
		FlatlineComboBonus:       10,

		AITextGeneratedMin: 60,

		ChallengeMinSolve: 500 * time.Millisecond,
		ChallengeMaxAge:   5 * time.Minute,

		ThreatCriticalMin: 60,
		ThreatHighMin:     40,
		ThreatMediumMin:   20,

		GeoEnforceFloor: 60,
		ProxyDenyMin:    70,
		CaptchaDenyMax:  0.5,

		VPNCacheTTL:    time.Hour,
		GeoCacheTTL:    4 * time.Hour,
		DomainCacheTTL: time.Hour,

		SessionTTL: 30 * time.Minute,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp bounds v into [lo, hi]. Shared by scoring code across detectors.
func Clamp(v, lo, hi int) int { return clamp(v, lo, hi) }
