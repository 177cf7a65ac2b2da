package detect

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/linkgate/linkgate/internal/signal"
)

// AITextDetector scores free-text answers for machine-generated writing:
// self-references, assistant-style vocabulary, template phrases, and
// statistical features no hurried survey respondent produces.
type AITextDetector struct {
	th signal.Thresholds
}

func NewAITextDetector(th signal.Thresholds) *AITextDetector {
	return &AITextDetector{th: th}
}

var selfReferencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bas an ai\b`),
	regexp.MustCompile(`(?i)\bas a language model\b`),
	regexp.MustCompile(`(?i)\bi (?:am|'m) an? (?:ai|artificial intelligence|language model|assistant)\b`),
	regexp.MustCompile(`(?i)\bi (?:cannot|can't|don't) have personal (?:opinions|experiences|feelings)\b`),
	regexp.MustCompile(`(?i)\bmy training data\b`),
	regexp.MustCompile(`(?i)\bknowledge cutoff\b`),
}

var transitionWords = regexp.MustCompile(`(?i)\b(furthermore|moreover|additionally|consequently|nevertheless|nonetheless|subsequently|accordingly|henceforth)\b`)

var hedgingPhrases = regexp.MustCompile(`(?i)\b(it(?:'s| is) (?:important|worth) (?:to note|noting)|it should be noted|generally speaking|in many cases|it depends on|one could argue|broadly speaking)\b`)

var aiVocabulary = regexp.MustCompile(`(?i)\b(delve|leverage|multifaceted|landscape|tapestry|holistic|robust|seamless|comprehensive|pivotal|foster|utilize|facilitate|paradigm)\b`)

var templateSubstrings = []string{
	"i hope this helps",
	"in conclusion,",
	"to summarize,",
	"here are some key points",
	"there are several factors to consider",
	"ultimately, the answer depends",
}

const (
	selfReferenceScore   = 60
	transitionUnitScore  = 8 // per match, capped below
	hedgingUnitScore     = 10
	vocabularyUnitScore  = 6
	templateScore        = 30
	formalityScore       = 15
	complexityScore      = 12
	diversityScore       = 12
	punctuationScore     = 10
	longResponseScore    = 10
	crossFormalityScore  = 20
	crossLengthScore     = 15
	sharedPhraseScore    = 25
	transitionScoreCap   = 24
	hedgingScoreCap      = 30
	vocabularyScoreCap   = 24
)

func (d *AITextDetector) Kind() signal.Kind { return signal.KindAIText }

func (d *AITextDetector) Evaluate(_ context.Context, rc *signal.RequestContext) (signal.Result, error) {
	var texts []string
	for _, ans := range rc.Answers {
		if ans.Kind == signal.AnswerText && strings.TrimSpace(ans.Text) != "" {
			texts = append(texts, ans.Text)
		}
	}
	if len(texts) == 0 {
		return signal.Neutral(signal.KindAIText), nil
	}

	var indicators []signal.Indicator
	for _, t := range texts {
		indicators = append(indicators, analyzeText(t)...)
	}
	indicators = append(indicators, analyzeCrossResponse(texts)...)

	info := signal.AITextInfo{Indicators: indicators}
	confidence := 0
	maxSingle := 0
	evidence := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		confidence += ind.Score
		if ind.Score > maxSingle {
			maxSingle = ind.Score
		}
		evidence = append(evidence, "ai:"+ind.Name)
	}
	if confidence > 100 {
		confidence = 100
	}
	info.IsAIGenerated = confidence >= d.th.AITextGeneratedMin

	tier := signal.TierLow
	switch {
	case maxSingle >= 50 || confidence >= 85:
		tier = signal.TierCritical
	case confidence >= 70:
		tier = signal.TierHigh
	case confidence >= 50:
		tier = signal.TierMedium
	}

	return signal.Result{
		Kind:       signal.KindAIText,
		Verdict:    info.IsAIGenerated,
		Confidence: confidence,
		Tier:       tier,
		Evidence:   dedupe(evidence),
		AIText:     &info,
	}, nil
}

func analyzeText(text string) []signal.Indicator {
	var out []signal.Indicator
	lower := strings.ToLower(text)

	for _, re := range selfReferencePatterns {
		if re.MatchString(text) {
			out = append(out, signal.Indicator{Name: "self_reference", Score: selfReferenceScore})
			break
		}
	}

	if n := len(transitionWords.FindAllString(text, -1)); n >= 2 {
		out = append(out, signal.Indicator{Name: "transition_overuse", Score: capScore(n*transitionUnitScore, transitionScoreCap)})
	}
	if n := len(hedgingPhrases.FindAllString(text, -1)); n >= 1 {
		out = append(out, signal.Indicator{Name: "hedging", Score: capScore(n*hedgingUnitScore, hedgingScoreCap)})
	}
	if n := len(aiVocabulary.FindAllString(text, -1)); n >= 2 {
		out = append(out, signal.Indicator{Name: "ai_vocabulary", Score: capScore(n*vocabularyUnitScore, vocabularyScoreCap)})
	}

	for _, sub := range templateSubstrings {
		if strings.Contains(lower, sub) {
			out = append(out, signal.Indicator{Name: "template_phrase", Score: templateScore})
			break
		}
	}

	out = append(out, statisticalIndicators(text)...)
	return out
}

func statisticalIndicators(text string) []signal.Indicator {
	var out []signal.Indicator
	words := strings.Fields(text)
	if len(words) < 20 {
		return nil // too short for stable statistics
	}

	if formalityRatio(words) > 0.12 {
		out = append(out, signal.Indicator{Name: "high_formality", Score: formalityScore})
	}

	sentences := splitSentences(text)
	if len(sentences) >= 3 {
		lengths := make([]float64, len(sentences))
		for i, s := range sentences {
			lengths[i] = float64(len(strings.Fields(s)))
		}
		// Suspiciously uniform sentence lengths read as generated prose.
		if stddev(lengths) < 2.0 && mean(lengths) > 8 {
			out = append(out, signal.Indicator{Name: "uniform_complexity", Score: complexityScore})
		}
	}

	unique := make(map[string]bool, len(words))
	for _, w := range words {
		unique[strings.ToLower(strings.Trim(w, ".,!?;:\"'"))] = true
	}
	diversity := float64(len(unique)) / float64(len(words))
	if diversity > 0.85 && len(words) > 40 {
		out = append(out, signal.Indicator{Name: "high_diversity", Score: diversityScore})
	}

	if perfectPunctuation(text, sentences) {
		out = append(out, signal.Indicator{Name: "perfect_punctuation", Score: punctuationScore})
	}
	if len(words) > 150 {
		out = append(out, signal.Indicator{Name: "long_response", Score: longResponseScore})
	}
	return out
}

func analyzeCrossResponse(texts []string) []signal.Indicator {
	if len(texts) < 3 {
		return nil
	}
	var out []signal.Indicator

	formalities := make([]float64, len(texts))
	lengths := make([]float64, len(texts))
	for i, t := range texts {
		words := strings.Fields(t)
		lengths[i] = float64(len(words))
		formalities[i] = formalityRatio(words)
	}
	if stddev(formalities) < 0.01 && mean(formalities) > 0.02 {
		out = append(out, signal.Indicator{Name: "cross_formality_variance", Score: crossFormalityScore})
	}
	if m := mean(lengths); m > 15 && stddev(lengths)/m < 0.1 {
		out = append(out, signal.Indicator{Name: "cross_length_variance", Score: crossLengthScore})
	}

	if sharedNGramAcross(texts) {
		out = append(out, signal.Indicator{Name: "shared_phrases", Score: sharedPhraseScore})
	}
	return out
}

// sharedNGramAcross reports whether any 3-5 word phrase repeats across
// distinct answers.
func sharedNGramAcross(texts []string) bool {
	seen := make(map[string]int) // phrase -> first text index
	for i, t := range texts {
		words := strings.Fields(strings.ToLower(t))
		local := make(map[string]bool)
		for n := 3; n <= 5; n++ {
			for j := 0; j+n <= len(words); j++ {
				phrase := strings.Join(words[j:j+n], " ")
				if local[phrase] {
					continue
				}
				local[phrase] = true
				if prev, ok := seen[phrase]; ok && prev != i {
					return true
				}
				seen[phrase] = i
			}
		}
	}
	return false
}

func formalityRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	formal := 0
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,!?;:"))
		if transitionWords.MatchString(lw) || aiVocabulary.MatchString(lw) {
			formal++
		}
	}
	return float64(formal) / float64(len(words))
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

// perfectPunctuation checks for capitalized sentence starts and a
// terminating period on every sentence.
func perfectPunctuation(text string, sentences []string) bool {
	if len(sentences) < 3 {
		return false
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !strings.ContainsAny(string(trimmed[len(trimmed)-1]), ".!?") {
		return false
	}
	for _, s := range sentences {
		first := []rune(s)[0]
		if first >= 'a' && first <= 'z' {
			return false
		}
	}
	return true
}

func capScore(v, max int) int {
	if v > max {
		return max
	}
	return v
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	sum := 0.0
	for _, v := range vals {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(vals)))
}
