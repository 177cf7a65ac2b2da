package detect

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linkgate/linkgate/internal/signal"
)

// ChallengeType selects the puzzle family for an issued challenge.
type ChallengeType string

const (
	ChallengeArithmetic ChallengeType = "arithmetic"
	ChallengeOrdering   ChallengeType = "ordering"
	ChallengeVisual     ChallengeType = "visual"
)

// Challenge is a human-verification puzzle bound to a client fingerprint by
// an HMAC over its identity fields.
type Challenge struct {
	ID        string        `json:"challenge_id"`
	Type      ChallengeType `json:"type"`
	Prompt    string        `json:"prompt"`
	Options   []string      `json:"options,omitempty"`
	IssuedAt  int64         `json:"issued_at"` // unix millis
	Hash      string        `json:"hash"`

	answer string
}

type issuedChallenge struct {
	challenge   Challenge
	fingerprint string
	issuedAt    time.Time
}

// ChallengeVerifier issues and verifies challenges. The HMAC secret is
// required; a missing secret is a startup configuration error, not something
// to limp past.
type ChallengeVerifier struct {
	th     signal.Thresholds
	secret []byte

	mu     sync.Mutex
	issued map[string]issuedChallenge
	now    func() time.Time
	rng    *rand.Rand
}

func NewChallengeVerifier(th signal.Thresholds, secret string) (*ChallengeVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("challenge secret is required")
	}
	return &ChallengeVerifier{
		th:     th,
		secret: []byte(secret),
		issued: make(map[string]issuedChallenge),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// SetClock replaces the time source. Test hook.
func (v *ChallengeVerifier) SetClock(now func() time.Time) { v.now = now }

// Issue creates a randomly-typed challenge bound to the client fingerprint.
func (v *ChallengeVerifier) Issue(fingerprint string) Challenge {
	v.mu.Lock()
	defer v.mu.Unlock()

	var c Challenge
	switch v.rng.Intn(3) {
	case 0:
		c = v.makeArithmetic()
	case 1:
		c = v.makeOrdering()
	default:
		c = v.makeVisual()
	}
	c.ID = uuid.NewString()
	now := v.now()
	c.IssuedAt = now.UnixMilli()
	c.Hash = v.hash(c, fingerprint)

	v.issued[c.ID] = issuedChallenge{challenge: c, fingerprint: fingerprint, issuedAt: now}
	return c
}

func (v *ChallengeVerifier) makeArithmetic() Challenge {
	a, b := v.rng.Intn(20)+1, v.rng.Intn(20)+1
	return Challenge{
		Type:   ChallengeArithmetic,
		Prompt: fmt.Sprintf("What is %d + %d?", a, b),
		answer: strconv.Itoa(a + b),
	}
}

func (v *ChallengeVerifier) makeOrdering() Challenge {
	nums := v.rng.Perm(9)[:4]
	opts := make([]string, len(nums))
	sorted := make([]int, len(nums))
	for i, n := range nums {
		opts[i] = strconv.Itoa(n + 1)
		sorted[i] = n + 1
	}
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = strconv.Itoa(n)
	}
	return Challenge{
		Type:    ChallengeOrdering,
		Prompt:  "Arrange these numbers from smallest to largest",
		Options: opts,
		answer:  strings.Join(parts, ","),
	}
}

func (v *ChallengeVerifier) makeVisual() Challenge {
	shapes := []string{"circle", "square", "triangle"}
	odd := []string{"star", "heart", "arrow"}
	base := shapes[v.rng.Intn(len(shapes))]
	oddOne := odd[v.rng.Intn(len(odd))]
	opts := []string{base, base, base}
	pos := v.rng.Intn(4)
	opts = append(opts[:pos], append([]string{oddOne}, opts[pos:]...)...)
	return Challenge{
		Type:    ChallengeVisual,
		Prompt:  "Select the shape that differs from the others",
		Options: opts,
		answer:  oddOne,
	}
}

// hash binds the challenge identity and the client fingerprint to the
// server secret.
func (v *ChallengeVerifier) hash(c Challenge, fingerprint string) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s|%s|%s|%d|%s", c.ID, c.Type, strings.Join(c.Options, ","), c.IssuedAt, fingerprint)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *ChallengeVerifier) Kind() signal.Kind { return signal.KindChallenge }

func (v *ChallengeVerifier) Evaluate(_ context.Context, rc *signal.RequestContext) (signal.Result, error) {
	if rc.Challenge == nil {
		return signal.Neutral(signal.KindChallenge), nil
	}

	v.mu.Lock()
	iss, ok := v.issued[rc.Challenge.ChallengeID]
	if ok {
		delete(v.issued, rc.Challenge.ChallengeID) // one-shot
	}
	v.mu.Unlock()

	if !ok {
		return v.failure("unknown_challenge", 0), nil
	}

	elapsed := v.now().Sub(iss.issuedAt)
	info := signal.ChallengeInfo{SolveMillis: elapsed.Milliseconds()}

	switch {
	case elapsed < v.th.ChallengeMinSolve:
		// Sub-human solve time means a script answered.
		return v.failureWith(info, "too_fast", 90), nil
	case elapsed >= v.th.ChallengeMaxAge:
		return v.failureWith(info, "expired", 40), nil
	case strings.TrimSpace(rc.Challenge.Answer) == "":
		return v.failureWith(info, "empty_answer", 70), nil
	case !plausibleFingerprint(rc.Challenge.Fingerprint):
		return v.failureWith(info, "bad_fingerprint", 80), nil
	case !hmac.Equal([]byte(v.hash(iss.challenge, rc.Challenge.Fingerprint)), []byte(iss.challenge.Hash)):
		return v.failureWith(info, "bad_hash", 95), nil
	case !answersMatch(rc.Challenge.Answer, iss.challenge.answer):
		return v.failureWith(info, "wrong_answer", 60), nil
	}

	info.Passed = true
	return signal.Result{
		Kind:      signal.KindChallenge,
		Verdict:   false,
		Tier:      signal.TierLow,
		Challenge: &info,
	}, nil
}

func (v *ChallengeVerifier) failure(code string, confidence int) signal.Result {
	return v.failureWith(signal.ChallengeInfo{}, code, confidence)
}

func (v *ChallengeVerifier) failureWith(info signal.ChallengeInfo, code string, confidence int) signal.Result {
	info.Passed = false
	info.FailureCode = code
	tier := signal.TierMedium
	if confidence >= 80 {
		tier = signal.TierHigh
	}
	return signal.Result{
		Kind:       signal.KindChallenge,
		Verdict:    true,
		Category:   code,
		Confidence: confidence,
		Tier:       tier,
		Evidence:   []string{"challenge_" + code},
		Challenge:  &info,
	}
}

func answersMatch(got, want string) bool {
	norm := func(s string) string {
		return strings.ToLower(strings.Join(strings.FieldsFunc(s, func(r rune) bool {
			return r == ' ' || r == ','
		}), ","))
	}
	return norm(got) == norm(want)
}

// plausibleFingerprint is a syntactic sanity check, not a validation: hex-ish
// strings of reasonable length pass.
func plausibleFingerprint(fp string) bool {
	if len(fp) < 8 || len(fp) > 128 {
		return false
	}
	for _, r := range fp {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Pending reports how many issued challenges await an answer.
func (v *ChallengeVerifier) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.issued)
}

// Sweep drops unanswered challenges past the session TTL.
func (v *ChallengeVerifier) Sweep() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	removed := 0
	for id, iss := range v.issued {
		if now.Sub(iss.issuedAt) >= v.th.SessionTTL {
			delete(v.issued, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on a ticker until ctx is done.
func (v *ChallengeVerifier) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := v.Sweep(); n > 0 {
					log.Printf("challenge: swept %d expired challenges", n)
				}
			}
		}
	}()
}
