package fill

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/ranking"
)

// Scanner finds fields the user has already filled in, ready to be stored.
type Scanner struct {
	gen    *locator.Generator
	rank   *ranking.Engine
	logger *zap.Logger
}

// NewScanner creates a Scanner.
func NewScanner(gen *locator.Generator, rank *ranking.Engine, logger *zap.Logger) *Scanner {
	return &Scanner{gen: gen, rank: rank, logger: logger.Named("field_scanner")}
}

// Scan returns every populated, safe, visible form control of the page with its candidates and
// recommendation, highest recommended confidence first and then by label.
func (s *Scanner) Scan(ctx context.Context, pg *page.Page) ([]schemas.DetectedField, error) {
	doc, err := pg.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	controls, err := doc.QueryCSS("input, select, textarea")
	if err != nil {
		return nil, err
	}

	var out []schemas.DetectedField
	for _, el := range controls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !populated(el) || CheckSafe(el) != nil || !el.IsVisible() {
			continue
		}
		cands := s.gen.Generate(el)
		if len(cands) == 0 {
			continue
		}
		out = append(out, schemas.DetectedField{
			XPath:          dom.GenerateUniqueXPath(el),
			Label:          locator.Label(el),
			Value:          el.Value(),
			ElementType:    el.ElementType(),
			Candidates:     cands,
			Recommendation: s.rank.Recommend(ctx, el, cands),
		})
	}

	slices.SortStableFunc(out, func(a, b schemas.DetectedField) int {
		if c := cmp.Compare(recommendedConfidence(b), recommendedConfidence(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	s.logger.Debug("Scanned page for filled fields", zap.Int("controls", len(controls)), zap.Int("found", len(out)))
	return out, nil
}

func populated(el *dom.Element) bool {
	v := strings.TrimSpace(el.Value())
	return v != "" && v != "false"
}

func recommendedConfidence(f schemas.DetectedField) int {
	if f.Recommendation.Recommended == nil {
		return 0
	}
	return f.Recommendation.Recommended.Confidence
}
