package signal

import (
	"context"
	"net/http"
	"time"
)

// Kind identifies which detector produced a Result.
type Kind string

const (
	KindVPN         Kind = "vpn"
	KindGeo         Kind = "geo"
	KindDomain      Kind = "domain"
	KindHoneypot    Kind = "honeypot"
	KindFlatline    Kind = "flatline"
	KindAIText      Kind = "ai_text"
	KindChallenge   Kind = "challenge"
	KindFingerprint Kind = "fingerprint"
)

// RiskTier is the coarse risk classification shared by detectors and the aggregator.
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// AccuracyTier describes how precise a geolocation source claims to be.
type AccuracyTier string

const (
	AccuracyHigh   AccuracyTier = "high"
	AccuracyMedium AccuracyTier = "medium"
	AccuracyLow    AccuracyTier = "low"
)

// Provider is the contract every detector implements. Evaluate must never
// panic; failures are returned as errors and the caller substitutes the
// detector's neutral default.
type Provider interface {
	Kind() Kind
	Evaluate(ctx context.Context, rc *RequestContext) (Result, error)
}

// Result is one detector's assessment for a single request.
type Result struct {
	Kind       Kind     `json:"kind"`
	Verdict    bool     `json:"verdict"`
	Category   string   `json:"category,omitempty"`
	Confidence int      `json:"confidence"` // 0-100, detector-local scale
	Tier       RiskTier `json:"tier"`
	Evidence   []string `json:"evidence,omitempty"`

	// At most one of these is set, matching Kind.
	VPN         *VPNInfo         `json:"vpn,omitempty"`
	Geo         *GeoInfo         `json:"geo,omitempty"`
	Domain      *DomainInfo      `json:"domain,omitempty"`
	Honeypot    *HoneypotInfo    `json:"honeypot,omitempty"`
	Flatline    *FlatlineInfo    `json:"flatline,omitempty"`
	AIText      *AITextInfo      `json:"ai_text,omitempty"`
	Challenge   *ChallengeInfo   `json:"challenge,omitempty"`
	Fingerprint *FingerprintInfo `json:"fingerprint,omitempty"`
}

// Neutral returns the low-risk default a detector degrades to when it fails
// or times out. A single unavailable provider must never abort an evaluation.
func Neutral(k Kind) Result {
	return Result{Kind: k, Verdict: false, Confidence: 0, Tier: TierLow}
}

// VPNInfo carries the VPN detector's per-category verdicts.
type VPNInfo struct {
	IsVPN     bool `json:"is_vpn"`
	IsProxy   bool `json:"is_proxy"`
	IsTor     bool `json:"is_tor"`
	IsHosting bool `json:"is_hosting"`
	IsRelay   bool `json:"is_relay"`

	VPNScore     int `json:"vpn_score"`
	ProxyScore   int `json:"proxy_score"`
	TorScore     int `json:"tor_score"`
	HostingScore int `json:"hosting_score"`
}

// GeoInfo is the combined location resolved from one or more sources.
type GeoInfo struct {
	Country     string       `json:"country,omitempty"`
	CountryCode string       `json:"country_code,omitempty"`
	Region      string       `json:"region,omitempty"`
	City        string       `json:"city,omitempty"`
	Latitude    float64      `json:"latitude,omitempty"`
	Longitude   float64      `json:"longitude,omitempty"`
	Timezone    string       `json:"timezone,omitempty"`
	ISP         string       `json:"isp,omitempty"`
	Confidence  int          `json:"confidence"`
	Accuracy    AccuracyTier `json:"accuracy"`
	Sources     []string     `json:"sources,omitempty"`
}

// DomainInfo reports email-domain blacklist membership.
type DomainInfo struct {
	Domain      string   `json:"domain"`
	Blacklisted bool     `json:"blacklisted"`
	Category    string   `json:"category,omitempty"` // disposable, vpn_email, fraud, pattern, reputation
	Reason      string   `json:"reason,omitempty"`
	Sources     []string `json:"sources,omitempty"` // every check that fired
}

// HoneypotInfo summarizes decoy-field validation for a session.
type HoneypotInfo struct {
	Triggered       bool     `json:"triggered"`
	TriggeredFields []string `json:"triggered_fields,omitempty"`
	SuspicionScore  int      `json:"suspicion_score"`
	SubmitMillis    int64    `json:"submit_ms,omitempty"` // issuance to submission
}

// FlatlineInfo describes detected non-attentive response patterns.
type FlatlineInfo struct {
	IsFlatline bool      `json:"is_flatline"`
	Patterns   []Pattern `json:"patterns,omitempty"`
	TotalScore int       `json:"total_score"`
}

// Pattern is one detected response-pattern family.
type Pattern struct {
	Type       string `json:"type"` // identical, sequence, alternating, extreme, first_option, last_option, similar_text
	Confidence int    `json:"confidence"`
	Detail     string `json:"detail,omitempty"`
}

// AITextInfo reports machine-generated-text indicators across free-text answers.
type AITextInfo struct {
	IsAIGenerated bool        `json:"is_ai_generated"`
	Indicators    []Indicator `json:"indicators,omitempty"`
}

// Indicator is a single fired AI-text heuristic with its contribution.
type Indicator struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// ChallengeInfo is the outcome of human-verification challenge validation.
type ChallengeInfo struct {
	Passed      bool   `json:"passed"`
	FailureCode string `json:"failure_code,omitempty"` // too_fast, expired, bad_hash, empty_answer, bad_fingerprint, wrong_answer
	SolveMillis int64  `json:"solve_ms,omitempty"`
}

// FingerprintInfo carries the synthesized device id plus behavioral tags.
type FingerprintInfo struct {
	DeviceID       string   `json:"device_id,omitempty"`
	Platform       string   `json:"platform,omitempty"`
	Browser        string   `json:"browser,omitempty"`
	BehaviorFlags  []string `json:"behavior_flags,omitempty"`
	MouseMoves     int      `json:"mouse_moves"`
	KeystrokeCount int      `json:"keystroke_count"`
}

// AnswerKind types a survey response for pattern analysis.
type AnswerKind string

const (
	AnswerScale  AnswerKind = "scale"
	AnswerChoice AnswerKind = "multiple_choice"
	AnswerText   AnswerKind = "text"
)

// Answer is one survey response in submission order.
type Answer struct {
	QuestionID string     `json:"question_id,omitempty"`
	Kind       AnswerKind `json:"kind"`
	Text       string     `json:"text,omitempty"`

	// Scale answers.
	Value    float64 `json:"value,omitempty"`
	ScaleMin float64 `json:"scale_min,omitempty"`
	ScaleMax float64 `json:"scale_max,omitempty"`

	// Multiple-choice answers.
	OptionIndex int `json:"option_index,omitempty"`
	OptionCount int `json:"option_count,omitempty"`
}

// InteractionTrace is the client-collected behavioral record for a session.
type InteractionTrace struct {
	MouseMoves      int       `json:"mouse_moves"`
	MouseVelocities []float64 `json:"mouse_velocities,omitempty"` // px/ms samples
	KeyIntervals    []float64 `json:"key_intervals,omitempty"`    // ms between keystrokes
	ClickIntervals  []float64 `json:"click_intervals,omitempty"`  // ms between clicks
	ScrollEvents    int       `json:"scroll_events"`
	FocusEvents     int       `json:"focus_events"`
	ResizeEvents    int       `json:"resize_events"`
	IdleMillis      float64   `json:"idle_ms"`
	DurationMillis  float64   `json:"duration_ms"`
}

// DeviceProfile holds client-reported device characteristics used for
// fingerprint synthesis. Zero values mean "not reported".
type DeviceProfile struct {
	ScreenWidth         int    `json:"screen_w,omitempty"`
	ScreenHeight        int    `json:"screen_h,omitempty"`
	Timezone            string `json:"tz,omitempty"`
	Language            string `json:"language,omitempty"`
	HardwareConcurrency int    `json:"hardware_concurrency,omitempty"`
	MaxTouchPoints      int    `json:"max_touch_points,omitempty"`
	GPU                 string `json:"gpu,omitempty"`
}

// ChallengeResponse is the client's answer to an issued challenge.
type ChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Answer      string `json:"answer"`
	Fingerprint string `json:"fingerprint"`
}

// RequestContext is the immutable snapshot for one evaluation. Built once per
// inbound request by the HTTP layer; detectors never mutate it.
type RequestContext struct {
	EvaluationID string
	IP           string
	UserAgent    string
	Headers      http.Header
	SessionID    string
	Email        string
	ReceivedAt   time.Time

	FormValues map[string]string // raw submitted fields, honeypots included
	Answers    []Answer
	Trace      *InteractionTrace
	Device     *DeviceProfile
	Challenge  *ChallengeResponse
}
