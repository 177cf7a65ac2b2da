package detect

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/linkgate/linkgate/internal/signal"
)

const testFingerprint = "a1b2c3d4e5f60718"

func newTestVerifier(t *testing.T) (*ChallengeVerifier, *time.Time) {
	t.Helper()
	v, err := NewChallengeVerifier(signal.DefaultThresholds(), "test-secret")
	if err != nil {
		t.Fatalf("NewChallengeVerifier() error = %v", err)
	}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	v.SetClock(func() time.Time { return now })
	return v, &now
}

func challengeEval(t *testing.T, v *ChallengeVerifier, resp *signal.ChallengeResponse) signal.Result {
	t.Helper()
	res, err := v.Evaluate(context.Background(), &signal.RequestContext{Challenge: resp})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	return res
}

// solveFor derives the expected answer from the issued prompt and options so
// tests work regardless of the randomly chosen challenge type.
func solveFor(t *testing.T, c Challenge) string {
	t.Helper()
	switch c.Type {
	case ChallengeArithmetic:
		var a, b int
		if _, err := fmt.Sscanf(c.Prompt, "What is %d + %d?", &a, &b); err != nil {
			t.Fatalf("unparseable prompt %q: %v", c.Prompt, err)
		}
		return strconv.Itoa(a + b)
	case ChallengeOrdering:
		nums := append([]string(nil), c.Options...)
		for i := 0; i < len(nums); i++ {
			for j := i + 1; j < len(nums); j++ {
				if len(nums[j]) < len(nums[i]) || (len(nums[j]) == len(nums[i]) && nums[j] < nums[i]) {
					nums[i], nums[j] = nums[j], nums[i]
				}
			}
		}
		return strings.Join(nums, ",")
	case ChallengeVisual:
		counts := map[string]int{}
		for _, o := range c.Options {
			counts[o]++
		}
		for _, o := range c.Options {
			if counts[o] == 1 {
				return o
			}
		}
	}
	t.Fatalf("unknown challenge type %q", c.Type)
	return ""
}

func TestChallengePass(t *testing.T) {
	v, now := newTestVerifier(t)
	c := v.Issue(testFingerprint)
	*now = now.Add(4 * time.Second)

	res := challengeEval(t, v, &signal.ChallengeResponse{
		ChallengeID: c.ID,
		Answer:      solveFor(t, c),
		Fingerprint: testFingerprint,
	})
	if res.Verdict {
		t.Fatalf("Verdict = true (%s), want pass", res.Category)
	}
	if res.Challenge == nil || !res.Challenge.Passed {
		t.Fatalf("Challenge info = %+v, want Passed", res.Challenge)
	}
	if res.Challenge.SolveMillis != 4000 {
		t.Errorf("SolveMillis = %d, want 4000", res.Challenge.SolveMillis)
	}
}

func TestChallengeFailures(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		respond  func(c Challenge) *signal.ChallengeResponse
		wantCode string
		wantConf int
		wantTier signal.RiskTier
	}{
		{
			name:    "sub-human solve time",
			elapsed: 100 * time.Millisecond,
			respond: func(c Challenge) *signal.ChallengeResponse {
				return &signal.ChallengeResponse{ChallengeID: c.ID, Answer: "whatever", Fingerprint: testFingerprint}
			},
			wantCode: "too_fast",
			wantConf: 90,
			wantTier: signal.TierHigh,
		},
		{
			name:    "expired challenge",
			elapsed: 10 * time.Minute,
			respond: func(c Challenge) *signal.ChallengeResponse {
				return &signal.ChallengeResponse{ChallengeID: c.ID, Answer: "whatever", Fingerprint: testFingerprint}
			},
			wantCode: "expired",
			wantConf: 40,
			wantTier: signal.TierMedium,
		},
		{
			name:    "empty answer",
			elapsed: 5 * time.Second,
			respond: func(c Challenge) *signal.ChallengeResponse {
				return &signal.ChallengeResponse{ChallengeID: c.ID, Answer: "   ", Fingerprint: testFingerprint}
			},
			wantCode: "empty_answer",
			wantConf: 70,
			wantTier: signal.TierMedium,
		},
		{
			name:    "implausible fingerprint",
			elapsed: 5 * time.Second,
			respond: func(c Challenge) *signal.ChallengeResponse {
				return &signal.ChallengeResponse{ChallengeID: c.ID, Answer: "whatever", Fingerprint: "nope"}
			},
			wantCode: "bad_fingerprint",
			wantConf: 80,
			wantTier: signal.TierHigh,
		},
		{
			name:    "fingerprint swapped after issue",
			elapsed: 5 * time.Second,
			respond: func(c Challenge) *signal.ChallengeResponse {
				return &signal.ChallengeResponse{ChallengeID: c.ID, Answer: "whatever", Fingerprint: "ffffffffffffffff"}
			},
			wantCode: "bad_hash",
			wantConf: 95,
			wantTier: signal.TierHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, now := newTestVerifier(t)
			c := v.Issue(testFingerprint)
			*now = now.Add(tt.elapsed)

			res := challengeEval(t, v, tt.respond(c))
			if !res.Verdict {
				t.Fatal("Verdict = false, want failure")
			}
			if res.Challenge.FailureCode != tt.wantCode {
				t.Errorf("FailureCode = %q, want %q", res.Challenge.FailureCode, tt.wantCode)
			}
			if res.Confidence != tt.wantConf {
				t.Errorf("Confidence = %d, want %d", res.Confidence, tt.wantConf)
			}
			if res.Tier != tt.wantTier {
				t.Errorf("Tier = %v, want %v", res.Tier, tt.wantTier)
			}
			if len(res.Evidence) != 1 || res.Evidence[0] != "challenge_"+tt.wantCode {
				t.Errorf("Evidence = %v, want [challenge_%s]", res.Evidence, tt.wantCode)
			}
		})
	}
}

func TestChallengeWrongAnswer(t *testing.T) {
	v, now := newTestVerifier(t)
	c := v.Issue(testFingerprint)
	*now = now.Add(5 * time.Second)

	right := solveFor(t, c)
	res := challengeEval(t, v, &signal.ChallengeResponse{
		ChallengeID: c.ID,
		Answer:      right + "x",
		Fingerprint: testFingerprint,
	})
	if !res.Verdict || res.Challenge.FailureCode != "wrong_answer" {
		t.Errorf("FailureCode = %q Verdict = %v, want wrong_answer failure", res.Challenge.FailureCode, res.Verdict)
	}
	if res.Confidence != 60 {
		t.Errorf("Confidence = %d, want 60", res.Confidence)
	}
}

func TestChallengeUnknownID(t *testing.T) {
	v, _ := newTestVerifier(t)
	res := challengeEval(t, v, &signal.ChallengeResponse{
		ChallengeID: "never-issued",
		Answer:      "42",
		Fingerprint: testFingerprint,
	})
	if !res.Verdict || res.Challenge.FailureCode != "unknown_challenge" {
		t.Errorf("got %+v, want unknown_challenge failure", res.Challenge)
	}
}

func TestChallengeIsOneShot(t *testing.T) {
	v, now := newTestVerifier(t)
	c := v.Issue(testFingerprint)
	*now = now.Add(5 * time.Second)

	resp := &signal.ChallengeResponse{ChallengeID: c.ID, Answer: solveFor(t, c), Fingerprint: testFingerprint}
	if res := challengeEval(t, v, resp); res.Verdict {
		t.Fatalf("first attempt failed: %s", res.Category)
	}
	second := challengeEval(t, v, resp)
	if !second.Verdict || second.Challenge.FailureCode != "unknown_challenge" {
		t.Errorf("replay = %+v, want unknown_challenge", second.Challenge)
	}
}

func TestChallengeNoResponseNeutral(t *testing.T) {
	v, _ := newTestVerifier(t)
	res := challengeEval(t, v, nil)
	if res.Verdict || res.Challenge != nil {
		t.Errorf("Evaluate() without response = %+v, want neutral", res)
	}
}

func TestChallengeSweep(t *testing.T) {
	v, now := newTestVerifier(t)
	v.Issue(testFingerprint)
	*now = now.Add(10 * time.Minute)
	v.Issue(testFingerprint)

	if v.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", v.Pending())
	}
	*now = now.Add(25 * time.Minute)
	if removed := v.Sweep(); removed != 1 {
		t.Errorf("Sweep() = %d, want 1", removed)
	}
	if v.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1 after sweep", v.Pending())
	}
}

func TestChallengeRequiresSecret(t *testing.T) {
	if _, err := NewChallengeVerifier(signal.DefaultThresholds(), ""); err == nil {
		t.Error("NewChallengeVerifier(\"\") error = nil, want error")
	}
}

func TestAnswersMatch(t *testing.T) {
	tests := []struct {
		got, want string
		match     bool
	}{
		{"17", "17", true},
		{" 17 ", "17", true},
		{"1, 3, 5, 8", "1,3,5,8", true},
		{"Star", "star", true},
		{"18", "17", false},
		{"1,3,8,5", "1,3,5,8", false},
	}
	for _, tt := range tests {
		if got := answersMatch(tt.got, tt.want); got != tt.match {
			t.Errorf("answersMatch(%q, %q) = %v, want %v", tt.got, tt.want, got, tt.match)
		}
	}
}
