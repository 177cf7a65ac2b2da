package detect

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/linkgate/linkgate/internal/signal"
)

// FieldType determines how a honeypot's triggered predicate works.
type FieldType string

const (
	FieldText     FieldType = "text"     // any non-empty value triggers
	FieldCheckbox FieldType = "checkbox" // checked triggers
	FieldSelect   FieldType = "select"   // non-default selection triggers
	FieldHidden   FieldType = "hidden"   // changed value triggers
)

// HoneypotField is one decoy form input. Humans never see it; automation
// that fills forms blindly does.
type HoneypotField struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Style        string    `json:"style"` // invisible, offscreen, hidden, transparent
	DefaultValue string    `json:"default_value,omitempty"`
	Tags         []string  `json:"-"`
}

// DefaultHoneypotPool is the stock decoy set. Field names mimic real inputs
// so form fillers cannot skip them by name.
func DefaultHoneypotPool() []HoneypotField {
	return []HoneypotField{
		{Name: "website_url", Type: FieldText, Style: "invisible", Tags: []string{"form_filler"}},
		{Name: "company_fax", Type: FieldText, Style: "offscreen", Tags: []string{"form_filler"}},
		{Name: "confirm_email", Type: FieldText, Style: "transparent", Tags: []string{"form_filler", "email_bot"}},
		{Name: "middle_name_2", Type: FieldText, Style: "invisible", Tags: []string{"form_filler"}},
		{Name: "newsletter_opt", Type: FieldCheckbox, Style: "hidden", Tags: []string{"checkbox_bot"}},
		{Name: "terms_extra", Type: FieldCheckbox, Style: "offscreen", Tags: []string{"checkbox_bot"}},
		{Name: "referral_source", Type: FieldSelect, Style: "invisible", DefaultValue: "none", Tags: []string{"select_bot"}},
		{Name: "contact_pref", Type: FieldSelect, Style: "transparent", DefaultValue: "email", Tags: []string{"select_bot"}},
		{Name: "form_token_2", Type: FieldHidden, Style: "hidden", DefaultValue: "v1", Tags: []string{"tamper"}},
		{Name: "session_check", Type: FieldHidden, Style: "hidden", DefaultValue: "ok", Tags: []string{"tamper"}},
	}
}

type issuedSession struct {
	fields   []HoneypotField
	issuedAt time.Time
}

// HoneypotValidator issues a random decoy subset per session and scores the
// submission. Session state is one-shot: validated sessions are deleted
// immediately, abandoned ones are swept on a TTL.
type HoneypotValidator struct {
	th         signal.Thresholds
	pool       []HoneypotField
	perSession int

	mu       sync.Mutex
	sessions map[string]issuedSession
	now      func() time.Time
	rng      *rand.Rand
}

func NewHoneypotValidator(th signal.Thresholds, pool []HoneypotField, perSession int) *HoneypotValidator {
	if len(pool) == 0 {
		pool = DefaultHoneypotPool()
	}
	if perSession <= 0 {
		perSession = 3
	}
	return &HoneypotValidator{
		th:         th,
		pool:       pool,
		perSession: perSession,
		sessions:   make(map[string]issuedSession),
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock replaces the time source. Test hook.
func (v *HoneypotValidator) SetClock(now func() time.Time) { v.now = now }

// Issue selects the session's decoy subset and records the issuance time.
// Re-issuing for the same session replaces the previous selection.
func (v *HoneypotValidator) Issue(sessionID string) []HoneypotField {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := v.perSession
	if n > len(v.pool) {
		n = len(v.pool)
	}
	idx := v.rng.Perm(len(v.pool))[:n]
	fields := make([]HoneypotField, n)
	for i, j := range idx {
		fields[i] = v.pool[j]
	}
	v.sessions[sessionID] = issuedSession{fields: fields, issuedAt: v.now()}
	return fields
}

// IssueFixed records a specific decoy set for a session. Used by tests and
// by callers that render their own forms.
func (v *HoneypotValidator) IssueFixed(sessionID string, fields []HoneypotField) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions[sessionID] = issuedSession{fields: fields, issuedAt: v.now()}
}

func (v *HoneypotValidator) Kind() signal.Kind { return signal.KindHoneypot }

func (v *HoneypotValidator) Evaluate(_ context.Context, rc *signal.RequestContext) (signal.Result, error) {
	if rc.SessionID == "" {
		return signal.Neutral(signal.KindHoneypot), nil
	}

	v.mu.Lock()
	sess, ok := v.sessions[rc.SessionID]
	if ok {
		// One-shot: the session cannot be validated twice.
		delete(v.sessions, rc.SessionID)
	}
	v.mu.Unlock()
	if !ok {
		return signal.Neutral(signal.KindHoneypot), nil
	}

	info := signal.HoneypotInfo{}
	var evidence []string

	for _, f := range sess.fields {
		value, present := rc.FormValues[f.Name]
		if !present {
			continue
		}
		if !fieldTriggered(f, value) {
			continue
		}
		info.SuspicionScore += v.weightFor(f.Type)
		info.TriggeredFields = append(info.TriggeredFields, f.Name)
		evidence = append(evidence, f.Tags...)
	}

	elapsed := v.now().Sub(sess.issuedAt)
	info.SubmitMillis = elapsed.Milliseconds()
	if elapsed < v.th.FastSubmitWindow {
		info.SuspicionScore += v.th.HoneypotFastSubmit
		evidence = append(evidence, "fast_submit")
	}
	if elapsed < v.th.InstantSubmitWindow {
		// Stacks with the fast-submit penalty.
		info.SuspicionScore += v.th.HoneypotInstantSubmit
		evidence = append(evidence, "instant_submit")
	}

	info.Triggered = len(info.TriggeredFields) > 0

	tier := signal.TierLow
	switch {
	case info.SuspicionScore >= 80:
		tier = signal.TierCritical
	case info.SuspicionScore >= 50:
		tier = signal.TierHigh
	case info.SuspicionScore >= 25:
		tier = signal.TierMedium
	}

	return signal.Result{
		Kind:       signal.KindHoneypot,
		Verdict:    info.Triggered,
		Confidence: signal.Clamp(info.SuspicionScore, 0, 100),
		Tier:       tier,
		Evidence:   dedupe(evidence),
		Honeypot:   &info,
	}, nil
}

func (v *HoneypotValidator) weightFor(t FieldType) int {
	switch t {
	case FieldText:
		return v.th.HoneypotTextWeight
	case FieldCheckbox:
		return v.th.HoneypotCheckboxWeight
	case FieldSelect:
		return v.th.HoneypotSelectWeight
	case FieldHidden:
		return v.th.HoneypotHiddenWeight
	}
	return 0
}

func fieldTriggered(f HoneypotField, value string) bool {
	switch f.Type {
	case FieldText:
		return value != ""
	case FieldCheckbox:
		switch value {
		case "", "0", "false", "off":
			return false
		}
		return true
	case FieldSelect, FieldHidden:
		return value != f.DefaultValue
	}
	return false
}

// Sweep drops sessions older than the session TTL and reports how many.
func (v *HoneypotValidator) Sweep() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	removed := 0
	for id, sess := range v.sessions {
		if now.Sub(sess.issuedAt) >= v.th.SessionTTL {
			delete(v.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on a ticker until ctx is done.
func (v *HoneypotValidator) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := v.Sweep(); n > 0 {
					log.Printf("honeypot: swept %d abandoned sessions", n)
				}
			}
		}
	}()
}

// PendingSessions reports the live session count.
func (v *HoneypotValidator) PendingSessions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.sessions)
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
