package detect

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/linkgate/linkgate/internal/signal"
)

// FlatlineAnalyzer detects non-attentive response patterns: straight-lining,
// mechanical sequences, alternation, extreme clustering, option-position
// dominance, and degenerate text. Pure and stateless.
type FlatlineAnalyzer struct {
	th signal.Thresholds
}

func NewFlatlineAnalyzer(th signal.Thresholds) *FlatlineAnalyzer {
	return &FlatlineAnalyzer{th: th}
}

func (a *FlatlineAnalyzer) Kind() signal.Kind { return signal.KindFlatline }

func (a *FlatlineAnalyzer) Evaluate(_ context.Context, rc *signal.RequestContext) (signal.Result, error) {
	if len(rc.Answers) == 0 {
		return signal.Neutral(signal.KindFlatline), nil
	}

	var scales []signal.Answer
	var choices []signal.Answer
	var texts []string
	for _, ans := range rc.Answers {
		switch ans.Kind {
		case signal.AnswerScale:
			scales = append(scales, ans)
		case signal.AnswerChoice:
			choices = append(choices, ans)
		case signal.AnswerText:
			texts = append(texts, ans.Text)
		}
	}

	var patterns []signal.Pattern
	if p := detectIdentical(scales); p != nil {
		patterns = append(patterns, *p)
	}
	if p := detectSequence(scaleValues(scales)); p != nil {
		patterns = append(patterns, *p)
	}
	if p := detectAlternating(scaleValues(scales)); p != nil {
		patterns = append(patterns, *p)
	}
	if p := detectExtremes(scales); p != nil {
		patterns = append(patterns, *p)
	}
	patterns = append(patterns, detectOptionDominance(choices)...)
	if p := detectSimilarText(texts); p != nil {
		patterns = append(patterns, *p)
	}

	if len(patterns) == 0 {
		return signal.Result{Kind: signal.KindFlatline, Tier: signal.TierLow, Flatline: &signal.FlatlineInfo{}}, nil
	}

	total := 0
	evidence := make([]string, 0, len(patterns))
	for _, p := range patterns {
		total += a.baseScore(p.Type) * p.Confidence / 100
		evidence = append(evidence, "flatline:"+p.Type)
	}
	severity := total + a.th.FlatlineComboBonus*(len(patterns)-1)

	tier := signal.TierLow
	switch {
	case severity >= 80:
		tier = signal.TierCritical
	case severity >= 60:
		tier = signal.TierHigh
	case severity >= 30:
		tier = signal.TierMedium
	}

	info := signal.FlatlineInfo{
		IsFlatline: true,
		Patterns:   patterns,
		TotalScore: total,
	}
	return signal.Result{
		Kind:       signal.KindFlatline,
		Verdict:    true,
		Confidence: signal.Clamp(severity, 0, 100),
		Tier:       tier,
		Evidence:   evidence,
		Flatline:   &info,
	}, nil
}

func (a *FlatlineAnalyzer) baseScore(patternType string) int {
	switch patternType {
	case "identical":
		return a.th.FlatlineIdenticalScore
	case "sequence":
		return a.th.FlatlineSequenceScore
	case "alternating":
		return a.th.FlatlineAlternatingScore
	case "extreme", "first_option", "last_option":
		return a.th.FlatlineExtremeScore
	case "similar_text":
		return a.th.FlatlineSimilarScore
	}
	return 0
}

func scaleValues(scales []signal.Answer) []float64 {
	vals := make([]float64, len(scales))
	for i, s := range scales {
		vals[i] = s.Value
	}
	return vals
}

// detectIdentical flags 100% identical runs of >=3 scale answers, or >=90%
// identical across >=5.
func detectIdentical(scales []signal.Answer) *signal.Pattern {
	if len(scales) < 3 {
		return nil
	}
	counts := make(map[float64]int)
	for _, s := range scales {
		counts[s.Value]++
	}
	var mode float64
	best := 0
	for v, c := range counts {
		if c > best {
			best, mode = c, v
		}
	}
	ratio := float64(best) / float64(len(scales))

	if ratio == 1.0 || (len(scales) >= 5 && ratio >= 0.9) {
		return &signal.Pattern{
			Type:       "identical",
			Confidence: int(math.Round(ratio * 100)),
			Detail:     fmt.Sprintf("%d of %d answers are %g", best, len(scales), mode),
		}
	}
	return nil
}

// detectSequence flags monotonic runs of exactly +/-1 steps. The minimum run
// of 4 consecutive steps is fixed here.
func detectSequence(vals []float64) *signal.Pattern {
	run := longestStepRun(vals, 1) // ascending
	if down := longestStepRun(vals, -1); down > run {
		run = down
	}
	if run < 4 {
		return nil
	}
	conf := run * 20
	if conf > 100 {
		conf = 100
	}
	return &signal.Pattern{
		Type:       "sequence",
		Confidence: conf,
		Detail:     fmt.Sprintf("%d consecutive unit steps", run),
	}
}

func longestStepRun(vals []float64, step float64) int {
	longest, cur := 0, 0
	for i := 1; i < len(vals); i++ {
		if vals[i]-vals[i-1] == step {
			cur++
			if cur > longest {
				longest = cur
			}
		} else {
			cur = 0
		}
	}
	return longest
}

// detectAlternating flags two-value A/B/A/B patterns. Minimum of 4
// consecutive alternating matches, fixed here.
func detectAlternating(vals []float64) *signal.Pattern {
	if len(vals) < 3 {
		return nil
	}
	longest, cur := 0, 0
	for i := 2; i < len(vals); i++ {
		if vals[i] == vals[i-2] && vals[i] != vals[i-1] {
			cur++
			if cur > longest {
				longest = cur
			}
		} else {
			cur = 0
		}
	}
	if longest < 4 {
		return nil
	}
	conf := longest * 20
	if conf > 100 {
		conf = 100
	}
	return &signal.Pattern{
		Type:       "alternating",
		Confidence: conf,
		Detail:     fmt.Sprintf("%d alternating matches", longest),
	}
}

// detectExtremes flags >=80% of scale answers pinned at their declared
// minimum or maximum.
func detectExtremes(scales []signal.Answer) *signal.Pattern {
	if len(scales) < 3 {
		return nil
	}
	extreme := 0
	for _, s := range scales {
		if s.ScaleMin == s.ScaleMax {
			continue
		}
		if s.Value == s.ScaleMin || s.Value == s.ScaleMax {
			extreme++
		}
	}
	ratio := float64(extreme) / float64(len(scales))
	if ratio < 0.8 {
		return nil
	}
	return &signal.Pattern{
		Type:       "extreme",
		Confidence: int(math.Round(ratio * 100)),
		Detail:     fmt.Sprintf("%d of %d answers at scale bounds", extreme, len(scales)),
	}
}

// detectOptionDominance flags >=80% first-option or last-option selection
// across multiple-choice answers.
func detectOptionDominance(choices []signal.Answer) []signal.Pattern {
	if len(choices) < 3 {
		return nil
	}
	first, last := 0, 0
	for _, c := range choices {
		if c.OptionIndex == 0 {
			first++
		}
		if c.OptionCount > 0 && c.OptionIndex == c.OptionCount-1 {
			last++
		}
	}
	var out []signal.Pattern
	if ratio := float64(first) / float64(len(choices)); ratio >= 0.8 {
		out = append(out, signal.Pattern{
			Type:       "first_option",
			Confidence: int(math.Round(ratio * 100)),
			Detail:     fmt.Sprintf("%d of %d first-option picks", first, len(choices)),
		})
	}
	if ratio := float64(last) / float64(len(choices)); ratio >= 0.8 {
		out = append(out, signal.Pattern{
			Type:       "last_option",
			Confidence: int(math.Round(ratio * 100)),
			Detail:     fmt.Sprintf("%d of %d last-option picks", last, len(choices)),
		})
	}
	return out
}

// detectSimilarText flags identical or degenerate (<3 chars) free-text
// answers.
func detectSimilarText(texts []string) *signal.Pattern {
	if len(texts) < 2 {
		return nil
	}
	degenerate := 0
	seen := make(map[string]int)
	for _, t := range texts {
		norm := strings.ToLower(strings.TrimSpace(t))
		if len(norm) < 3 {
			degenerate++
		}
		seen[norm]++
	}

	identical := 0
	for _, c := range seen {
		if c > identical {
			identical = c
		}
	}
	if identical >= 2 && identical == len(texts) {
		return &signal.Pattern{
			Type:       "similar_text",
			Confidence: 90,
			Detail:     fmt.Sprintf("all %d text answers identical", len(texts)),
		}
	}
	if ratio := float64(degenerate) / float64(len(texts)); ratio >= 0.8 {
		return &signal.Pattern{
			Type:       "similar_text",
			Confidence: int(math.Round(ratio * 100)),
			Detail:     fmt.Sprintf("%d of %d answers under 3 chars", degenerate, len(texts)),
		}
	}
	return nil
}
