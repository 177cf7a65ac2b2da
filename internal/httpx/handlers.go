package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linkgate/linkgate/internal/aggregate"
	"github.com/linkgate/linkgate/internal/decision"
	"github.com/linkgate/linkgate/internal/detect"
	"github.com/linkgate/linkgate/internal/metrics"
	"github.com/linkgate/linkgate/internal/repo"
	"github.com/linkgate/linkgate/internal/signal"
	"github.com/linkgate/linkgate/internal/sink"
	cfg "github.com/linkgate/linkgate/pkg/config"
)

type Env struct {
	Cfg        cfg.Config
	Evaluator  *aggregate.Evaluator
	Engine     *decision.Engine
	Repo       repo.Repository
	Honeypots  *detect.HoneypotValidator
	Challenges *detect.ChallengeVerifier
	Metrics    *metrics.Metrics
	Emit       func(sink.FlagEvent) // injected sink fan-out
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	// Repositories that hold an external connection expose Ping; the memory
	// repository has nothing to probe and stays always-ready.
	if p, ok := e.Repo.(interface{ Ping(ctx context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			log.Printf("readyz: repository ping: %v", err)
			http.Error(w, "repository unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// screenResponse is the JSON body for both allow and deny outcomes.
type screenResponse struct {
	Allowed        bool                   `json:"allowed"`
	Reason         string                 `json:"reason,omitempty"`
	SurveyURL      string                 `json:"survey_url,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	HoneypotFields []detect.HoneypotField `json:"honeypot_fields,omitempty"`
	ThreatLevel    string                 `json:"threat_level,omitempty"`
	ThreatScore    int                    `json:"threat_score"`
	Flags          []string               `json:"flags,omitempty"`
}

// GET /s/{uid} — survey link entry. Screens the visitor on network signals
// alone (no submission yet), then either hands out a session with its decoy
// fields or explains the denial.
func (e Env) Screen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid := strings.TrimPrefix(r.URL.Path, "/s/")
	if uid == "" || strings.Contains(uid, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	rc := &signal.RequestContext{
		EvaluationID: uuid.NewString(),
		IP:           clientIP(r, e.Cfg.TrustProxy),
		UserAgent:    r.UserAgent(),
		Headers:      r.Header,
		ReceivedAt:   time.Now().UTC(),
	}

	sc := e.Evaluator.Evaluate(r.Context(), rc, false, nil)
	dec, err := e.Engine.Decide(r.Context(), uid, sc)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	e.record(r, rc, uid, dec)

	if !dec.Allowed {
		writeJSON(w, statusForReason(dec.Reason), denyBody(dec))
		return
	}

	sessionID := uuid.NewString()
	fields := e.Honeypots.Issue(sessionID)

	// Browsers follow the redirect; API clients negotiate JSON to get the
	// session and decoy fields for form injection.
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, screenResponse{
			Allowed:        true,
			SurveyURL:      dec.Link.SurveyURL,
			SessionID:      sessionID,
			HoneypotFields: fields,
			ThreatLevel:    string(sc.ThreatLevel),
			ThreatScore:    sc.ThreatScore,
		})
		return
	}

	w.Header().Set("X-Linkgate-Session", sessionID)
	http.Redirect(w, r, dec.Link.SurveyURL, http.StatusFound)
}

// submission is the POST /collect payload: the survey answers plus the
// client-collected behavioral record.
type submission struct {
	LinkUID       string                    `json:"link_uid"`
	SessionID     string                    `json:"session_id,omitempty"`
	Email         string                    `json:"email,omitempty"`
	Authenticated bool                      `json:"authenticated,omitempty"`
	CaptchaScore  *float64                  `json:"captcha_score,omitempty"`
	Form          map[string]string         `json:"form,omitempty"`
	Answers       []signal.Answer           `json:"answers,omitempty"`
	Trace         *signal.InteractionTrace  `json:"trace,omitempty"`
	Device        *signal.DeviceProfile     `json:"device,omitempty"`
	Challenge     *signal.ChallengeResponse `json:"challenge,omitempty"`
}

// POST /collect — full submission intake. Every detector sees the complete
// context here; the decision closes out the link either way.
func (e Env) Collect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var sub submission
	if err := json.Unmarshal(body, &sub); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if sub.LinkUID == "" {
		http.Error(w, "link_uid is required", http.StatusBadRequest)
		return
	}

	rc := &signal.RequestContext{
		EvaluationID: uuid.NewString(),
		IP:           clientIP(r, e.Cfg.TrustProxy),
		UserAgent:    r.UserAgent(),
		Headers:      r.Header,
		SessionID:    sub.SessionID,
		Email:        sub.Email,
		ReceivedAt:   time.Now().UTC(),
		FormValues:   sub.Form,
		Answers:      sub.Answers,
		Trace:        sub.Trace,
		Device:       sub.Device,
		Challenge:    sub.Challenge,
	}

	sc := e.Evaluator.Evaluate(r.Context(), rc, sub.Authenticated, sub.CaptchaScore)
	dec, err := e.Engine.Decide(r.Context(), sub.LinkUID, sc)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	e.record(r, rc, sub.LinkUID, dec)

	if !dec.Allowed {
		writeJSON(w, statusForReason(dec.Reason), denyBody(dec))
		return
	}

	if dec.Link != nil {
		if err := e.Repo.UpdateLinkStatus(r.Context(), dec.Link.ID, repo.StatusCompleted); err != nil {
			log.Printf("collect: completing link %s: %v", dec.Link.ID, err)
		}
	}
	writeJSON(w, http.StatusOK, screenResponse{
		Allowed:     true,
		ThreatLevel: string(sc.ThreatLevel),
		ThreatScore: sc.ThreatScore,
		Flags:       sc.Flags,
	})
}

// GET /challenge?fp={fingerprint} — issue a human-verification puzzle bound
// to the client fingerprint.
func (e Env) NewChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fp := strings.TrimSpace(r.URL.Query().Get("fp"))
	if fp == "" {
		http.Error(w, "fp is required", http.StatusBadRequest)
		return
	}
	c := e.Challenges.Issue(fp)
	writeJSON(w, http.StatusOK, c)
}

type challengeVerdict struct {
	Passed      bool   `json:"passed"`
	FailureCode string `json:"failure_code,omitempty"`
	Confidence  int    `json:"confidence"`
}

// POST /challenge/verify — standalone verification for clients that solve
// the challenge before submitting. One shot: the challenge is consumed.
func (e Env) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var resp signal.ChallengeResponse
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes)).Decode(&resp); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if resp.ChallengeID == "" {
		http.Error(w, "challenge_id is required", http.StatusBadRequest)
		return
	}

	rc := &signal.RequestContext{
		EvaluationID: uuid.NewString(),
		IP:           clientIP(r, e.Cfg.TrustProxy),
		ReceivedAt:   time.Now().UTC(),
		Challenge:    &resp,
	}
	res, err := e.Challenges.Evaluate(r.Context(), rc)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	v := challengeVerdict{Confidence: res.Confidence}
	if res.Challenge != nil {
		v.Passed = res.Challenge.Passed
		v.FailureCode = res.Challenge.FailureCode
	}
	writeJSON(w, http.StatusOK, v)
}

// record updates metrics, emits the audit event, and flags the link when the
// denial came from a fraud signal rather than link state.
func (e Env) record(r *http.Request, rc *signal.RequestContext, uid string, dec decision.AccessDecision) {
	if e.Metrics != nil {
		e.Metrics.IncrementEvaluations(string(dec.Context.ThreatLevel))
		e.Metrics.IncrementDecisions(dec.Allowed, string(dec.Reason))
	}

	if e.Emit != nil && !dec.Allowed {
		ev := sink.NewFlagEvent()
		ev.EvaluationID = rc.EvaluationID
		ev.LinkUID = uid
		if dec.Link != nil {
			ev.LinkID = dec.Link.ID
			ev.ProjectID = dec.Link.ProjectID
		}
		ev.Allowed = dec.Allowed
		ev.Reason = string(dec.Reason)
		ev.ThreatLevel = string(dec.Context.ThreatLevel)
		ev.ThreatScore = dec.Context.ThreatScore
		ev.Flags = dec.Context.Flags
		if dec.Context.Geo != nil {
			ev.CountryCode = dec.Context.Geo.CountryCode
		}
		ev.IPHash = hashIP(rc.IP, e.Cfg.IPHashSecret, time.Now().UTC())
		e.Emit(ev)
	}

	if !dec.Allowed && dec.Link != nil && riskReason(dec.Reason) {
		rec := repo.FlagRecord{
			LinkID: dec.Link.ID,
			Reason: string(dec.Reason),
			Metadata: map[string]any{
				"evaluation_id": rc.EvaluationID,
				"threat_level":  string(dec.Context.ThreatLevel),
				"threat_score":  dec.Context.ThreatScore,
				"flags":         dec.Context.Flags,
			},
		}
		if err := e.Repo.RecordFlag(r.Context(), rec); err != nil {
			log.Printf("screen: recording flag for link %s: %v", dec.Link.ID, err)
		}
		if err := e.Repo.UpdateLinkStatus(r.Context(), dec.Link.ID, repo.StatusFlagged); err != nil {
			log.Printf("screen: flagging link %s: %v", dec.Link.ID, err)
		}
	}
}

// riskReason reports whether a denial indicates fraud rather than link state
// or policy configuration. Only fraud denials burn the link.
func riskReason(r decision.Reason) bool {
	switch r {
	case decision.ReasonTorDetected,
		decision.ReasonVPNDetected,
		decision.ReasonHighRiskProxy,
		decision.ReasonCriticalThreat,
		decision.ReasonCaptchaFailed:
		return true
	}
	return false
}

func statusForReason(r decision.Reason) int {
	switch r {
	case decision.ReasonLinkNotFound:
		return http.StatusNotFound
	case decision.ReasonLinkAlreadyUsed:
		return http.StatusGone
	default:
		return http.StatusForbidden
	}
}

func denyBody(dec decision.AccessDecision) screenResponse {
	return screenResponse{
		Allowed:     false,
		Reason:      string(dec.Reason),
		ThreatLevel: string(dec.Context.ThreatLevel),
		ThreatScore: dec.Context.ThreatScore,
		Flags:       dec.Context.Flags,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
