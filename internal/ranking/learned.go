// internal/ranking/learned.go
package ranking

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/xkilldash9x/surveyfill/api/schemas"
)

// Promotion thresholds for learned patterns.
const (
	MinLearnedConfidence = 0.7
	MinLearnedSimilarity = 0.6
	MaxLearnedScore      = 98

	// DefaultMaxContexts bounds the success contexts kept per pattern.
	DefaultMaxContexts = 20
)

// Outcome is one fill attempt of a regex locator.
type Outcome struct {
	Kind        schemas.LocatorKind
	Pattern     string
	Success     bool
	Domain      string
	Label       string
	ElementType string
	At          time.Time
}

// Learn folds an outcome into patterns and reports whether anything changed. Successes create the
// pattern on first sight; failures only count against patterns already known. Non-regex kinds are
// ignored. At most maxContexts contexts are kept, newest last.
func Learn(patterns map[string]schemas.LearnedPattern, o Outcome, maxContexts int) bool {
	if !o.Kind.IsRegex() || o.Pattern == "" {
		return false
	}
	if maxContexts <= 0 {
		maxContexts = DefaultMaxContexts
	}
	key := schemas.LearnedPatternKey(o.Kind, o.Pattern)
	p, known := patterns[key]

	if !o.Success {
		if !known {
			return false
		}
		p.FailureCount++
		p.Confidence = confidence(p)
		patterns[key] = p
		return true
	}

	if !known {
		p = schemas.LearnedPattern{Kind: o.Kind, Pattern: o.Pattern, Domains: []string{}}
	}
	p.SuccessCount++
	if o.Domain != "" && !slices.Contains(p.Domains, o.Domain) {
		p.Domains = append(p.Domains, o.Domain)
	}
	p.Contexts = append(p.Contexts, schemas.PatternContext{
		Label:       o.Label,
		ElementType: o.ElementType,
		Timestamp:   o.At,
		Domain:      o.Domain,
	})
	if over := len(p.Contexts) - maxContexts; over > 0 {
		p.Contexts = slices.Clone(p.Contexts[over:])
	}
	p.Confidence = confidence(p)
	patterns[key] = p
	return true
}

func confidence(p schemas.LearnedPattern) float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// Similarity is the best word overlap between text and the labels of contexts: shared words over
// the larger word count, case-insensitive.
func Similarity(text string, contexts []schemas.PatternContext) float64 {
	words := strings.Fields(strings.ToLower(text))
	best := 0.0
	for _, ctx := range contexts {
		other := strings.Fields(strings.ToLower(ctx.Label))
		denom := max(len(words), len(other))
		if denom == 0 {
			continue
		}
		shared := 0
		for _, w := range words {
			if slices.Contains(other, w) {
				shared++
			}
		}
		best = max(best, float64(shared)/float64(denom))
	}
	return best
}

// Eligible reports whether a pattern has earned promotion: confidence above 0.7 on more than one
// distinct domain.
func Eligible(p schemas.LearnedPattern) bool {
	return p.Confidence > MinLearnedConfidence && len(p.Domains) > 1
}

// learnedSuggestions returns the eligible patterns whose contexts resemble text, best first.
func learnedSuggestions(patterns map[string]schemas.LearnedPattern, text string) []schemas.Suggestion {
	keys := make([]string, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var out []schemas.Suggestion
	for _, k := range keys {
		p := patterns[k]
		if !Eligible(p) {
			continue
		}
		sim := Similarity(text, p.Contexts)
		if sim <= MinLearnedSimilarity {
			continue
		}
		score := min(int(math.Round(p.Confidence*sim*100)), MaxLearnedScore)
		stability := "medium"
		if p.Confidence > 0.8 {
			stability = "high"
		}
		potential := "good"
		if len(p.Domains) > 2 {
			potential = "excellent"
		}
		out = append(out, schemas.Suggestion{
			Locator:     schemas.LocatorCandidate{Kind: p.Kind, Pattern: p.Pattern, Label: "Learned pattern"},
			Confidence:  score,
			Reason:      learnedReason(p),
			Stability:   stability,
			MultiDomain: potential,
			Learned:     true,
			LearnedFrom: len(p.Domains),
		})
	}
	slices.SortStableFunc(out, func(a, b schemas.Suggestion) int { return b.Confidence - a.Confidence })
	return out
}
