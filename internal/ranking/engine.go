// internal/ranking/engine.go

// Package ranking recommends the locator most likely to find a field again on later visits and on
// other sites. Text-derived regex locators are preferred over structural ones, and patterns with a
// proven cross-site record are promoted above everything else.
package ranking

import (
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
)

// Confidence assigned to each synthesized locator kind.
const (
	ScoreLabelLearned = 98
	ScoreLabel        = 95
	ScoreContent      = 90
	ScorePlaceholder  = 85
	ScoreID           = 75
	ScoreName         = 70
	ScoreFallback     = 30

	maxAlternatives = 2
)

// PatternSource supplies the learned-pattern table.
type PatternSource interface {
	LearnedPatterns(ctx context.Context) (map[string]schemas.LearnedPattern, error)
}

// Engine ranks locator candidates for an element.
type Engine struct {
	guard    *regexguard.Guard
	patterns PatternSource
	logger   *zap.Logger
}

// NewEngine creates an Engine. patterns may be nil, in which case nothing learned is promoted.
func NewEngine(guard *regexguard.Guard, patterns PatternSource, logger *zap.Logger) *Engine {
	return &Engine{guard: guard, patterns: patterns, logger: logger.Named("ranking")}
}

// Recommend ranks ways of finding el. cands are the literal candidates from the generator; the
// CSS one is used as the last-resort fallback. A failure to load learned patterns is logged and
// ranking continues without them.
func (e *Engine) Recommend(ctx context.Context, el *dom.Element, cands []schemas.LocatorCandidate) schemas.Recommendation {
	label := locator.Label(el)
	placeholder := el.Attr("placeholder")
	id, name := el.ID(), el.Name()
	surrounding := SurroundingText(el)

	query := label
	if query == "" {
		query = placeholder
	}
	if query == "" {
		query = surrounding
	}

	var suggestions []schemas.Suggestion
	learned := e.learned(ctx, query)
	suggestions = append(suggestions, learned...)

	if utf8.RuneCountInString(label) > 3 {
		if p := e.synthesize(CreateRegexPattern(label)); p != "" {
			isLearned := slices.ContainsFunc(learned, func(s schemas.Suggestion) bool { return s.Locator.Pattern == p })
			s := schemas.Suggestion{
				Locator:     schemas.LocatorCandidate{Kind: schemas.LocatorRegexLabel, Pattern: p, Label: "Label pattern"},
				Confidence:  ScoreLabel,
				Reason:      fmt.Sprintf("Strong label text %q detected. Label patterns survive markup changes.", label),
				Stability:   "high",
				MultiDomain: "excellent",
			}
			if isLearned {
				s.Confidence = ScoreLabelLearned
				s.Learned = true
				s.Reason = fmt.Sprintf("Proven label pattern %q, already successful on several sites.", label)
			}
			suggestions = append(suggestions, s)
		}
	}

	if utf8.RuneCountInString(surrounding) > 5 {
		if p := e.synthesize(CreateRegexPattern(surrounding)); p != "" {
			suggestions = append(suggestions, schemas.Suggestion{
				Locator:     schemas.LocatorCandidate{Kind: schemas.LocatorRegexContent, Pattern: p, Label: "Question text pattern"},
				Confidence:  ScoreContent,
				Reason:      fmt.Sprintf("Question text %q found nearby. Question wording tends to repeat across platforms.", truncateRunes(surrounding, 50)),
				Stability:   "high",
				MultiDomain: "excellent",
			})
		}
	}

	if utf8.RuneCountInString(placeholder) > 5 && !isGenericPlaceholder(placeholder) {
		if p := e.synthesize(CreateRegexPattern(placeholder)); p != "" {
			suggestions = append(suggestions, schemas.Suggestion{
				Locator:     schemas.LocatorCandidate{Kind: schemas.LocatorRegexPlaceholder, Pattern: p, Label: "Placeholder pattern"},
				Confidence:  ScorePlaceholder,
				Reason:      fmt.Sprintf("Specific placeholder %q detected.", placeholder),
				Stability:   "medium-high",
				MultiDomain: "good",
			})
		}
	}

	if len(id) > 3 && hasPattern(id) {
		if p := e.synthesize(ExtractIDPattern(id)); p != "" {
			suggestions = append(suggestions, schemas.Suggestion{
				Locator:     schemas.LocatorCandidate{Kind: schemas.LocatorRegexID, Pattern: p, Label: "ID pattern"},
				Confidence:  ScoreID,
				Reason:      fmt.Sprintf("ID %q has a recognizable structure, but ids often change between survey instances.", id),
				Stability:   "medium",
				MultiDomain: "limited",
			})
		}
	}

	if len(name) > 3 && hasPattern(name) {
		if p := e.synthesize(ExtractIDPattern(name)); p != "" {
			suggestions = append(suggestions, schemas.Suggestion{
				Locator:     schemas.LocatorCandidate{Kind: schemas.LocatorRegexName, Pattern: p, Label: "Name pattern"},
				Confidence:  ScoreName,
				Reason:      fmt.Sprintf("Name attribute %q has a recognizable structure.", name),
				Stability:   "medium",
				MultiDomain: "limited",
			})
		}
	}

	if len(suggestions) == 0 {
		if fb, ok := fallback(id, name, cands); ok {
			suggestions = append(suggestions, fb)
		}
	}

	slices.SortStableFunc(suggestions, func(a, b schemas.Suggestion) int { return b.Confidence - a.Confidence })
	for i := range suggestions {
		suggestions[i].Locator.Priority = i + 1
	}

	rec := schemas.Recommendation{
		Alternatives: []schemas.Suggestion{},
		Analysis: schemas.FieldAnalysis{
			HasLabel:           label != "",
			HasPlaceholder:     placeholder != "",
			HasSurroundingText: surrounding != "",
			FieldType:          fieldType(el),
			RegexViability:     countRegex(suggestions),
		},
	}
	if len(suggestions) > 0 {
		rec.Recommended = &suggestions[0]
		rec.Alternatives = suggestions[1:min(len(suggestions), 1+maxAlternatives)]
	}
	return rec
}

// synthesize returns pattern if the guard accepts it, "" otherwise.
func (e *Engine) synthesize(pattern string) string {
	if pattern == "" {
		return ""
	}
	if v := e.guard.Validate(pattern); !v.Valid() {
		e.logger.Debug("Dropping synthesized pattern", zap.String("pattern", pattern), zap.Strings("errors", v.Errors))
		return ""
	}
	return pattern
}

func (e *Engine) learned(ctx context.Context, query string) []schemas.Suggestion {
	if e.patterns == nil || query == "" {
		return nil
	}
	patterns, err := e.patterns.LearnedPatterns(ctx)
	if err != nil {
		e.logger.Warn("Could not load learned patterns, ranking without them", zap.Error(err))
		return nil
	}
	var out []schemas.Suggestion
	for _, s := range learnedSuggestions(patterns, query) {
		if e.synthesize(s.Locator.Pattern) != "" {
			out = append(out, s)
		}
	}
	return out
}

func fallback(id, name string, cands []schemas.LocatorCandidate) (schemas.Suggestion, bool) {
	s := schemas.Suggestion{
		Confidence:  ScoreFallback,
		Stability:   "low",
		MultiDomain: "none",
	}
	const advice = " Consider adding a label or question text near this field so a pattern can be used."
	switch {
	case id != "":
		s.Locator = schemas.LocatorCandidate{Kind: schemas.LocatorExactID, Pattern: id, Label: "ID attribute"}
		s.Reason = "ID selector chosen as fallback. IDs are brittle and rarely carry over to other survey instances." + advice
	case name != "":
		s.Locator = schemas.LocatorCandidate{Kind: schemas.LocatorExactName, Pattern: name, Label: "Name attribute"}
		s.Reason = "Name selector chosen as fallback. Name attributes may change between survey versions." + advice
	default:
		i := slices.IndexFunc(cands, func(c schemas.LocatorCandidate) bool { return c.Kind == schemas.LocatorCSS })
		if i < 0 {
			return s, false
		}
		s.Locator = cands[i]
		s.Reason = "CSS selector chosen as fallback. CSS paths are tied to the current page structure." + advice
	}
	return s, true
}

func fieldType(el *dom.Element) string {
	switch el.Tag() {
	case "select", "textarea":
		return el.Tag()
	}
	if t := el.Type(); t != "" {
		return t
	}
	return "text"
}

func countRegex(s []schemas.Suggestion) int {
	n := 0
	for _, x := range s {
		if x.Locator.Kind.IsRegex() {
			n++
		}
	}
	return n
}

func learnedReason(p schemas.LearnedPattern) string {
	return fmt.Sprintf("Pattern used successfully on %d domains with %d successes", len(p.Domains), p.SuccessCount)
}
