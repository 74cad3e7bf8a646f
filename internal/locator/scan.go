// internal/locator/scan.go
package locator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

// MaxPatternMatches caps the matches a pattern test reports.
const MaxPatternMatches = 20

// PatternMatch is one element a regex locator would accept.
type PatternMatch struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	ElementType string `json:"type"`
	XPath       string `json:"xpath"`
}

// PatternReport is the outcome of testing a regex locator against a page.
type PatternReport struct {
	Matches   []PatternMatch `json:"matches"`
	Warnings  []string       `json:"warnings,omitempty"`
	Examined  int            `json:"examined"`
	ElapsedMs int64          `json:"elapsedMs"`
}

// TestPattern lists the elements a regex locator of the given kind matches in doc, deduplicated
// by label and value and capped at MaxPatternMatches. The pattern is validated before any element
// is examined; an invalid pattern yields a ValidationError and no matches.
func (r *Resolver) TestPattern(ctx context.Context, doc *dom.Document, pattern string, kind schemas.LocatorKind) (*PatternReport, error) {
	if !kind.IsRegex() || !kind.Valid() {
		return nil, apperr.NewValidationError("selectorType", fmt.Sprintf("%q is not a regex locator kind", kind))
	}
	v := r.guard.Validate(pattern)
	if !v.Valid() {
		return nil, apperr.NewValidationError("pattern", strings.Join(v.Errors, ", "))
	}
	if doc == nil {
		return nil, apperr.NewValidationError("document", "no page snapshot")
	}

	start := time.Now()
	s, cancel, err := r.newScan(ctx, pattern, "test "+string(kind))
	if err != nil {
		return nil, err
	}
	defer cancel()

	c := &collector{seen: make(map[string]struct{})}
	switch kind {
	case schemas.LocatorRegexLabel:
		err = s.collectLabels(doc, c)
	case schemas.LocatorRegexID:
		err = s.collectAttr(doc, c, "id")
	case schemas.LocatorRegexName:
		err = s.collectAttr(doc, c, "name")
	case schemas.LocatorRegexClass:
		err = s.collectAttr(doc, c, "class")
	case schemas.LocatorRegexPlaceholder:
		err = s.collectAttr(doc, c, "placeholder")
	case schemas.LocatorRegexValue:
		err = s.collectValues(doc, c)
	case schemas.LocatorRegexContent:
		err = s.collectContent(doc, c)
	}
	if err != nil {
		return nil, err
	}

	report := &PatternReport{
		Matches:   c.matches,
		Warnings:  v.Warnings,
		Examined:  s.budget.Seen(),
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if report.Matches == nil {
		report.Matches = []PatternMatch{}
	}
	r.logger.Debug("Pattern test completed",
		zap.String("kind", string(kind)),
		zap.Int("matches", len(report.Matches)),
		zap.Int("examined", report.Examined),
		zap.Int64("elapsed_ms", report.ElapsedMs))
	return report, nil
}

type collector struct {
	matches []PatternMatch
	seen    map[string]struct{}
}

func (c *collector) full() bool { return len(c.matches) >= MaxPatternMatches }

func (c *collector) add(label string, el *dom.Element) {
	value := el.Value()
	key := label + "|" + value
	if _, dup := c.seen[key]; dup || c.full() {
		return
	}
	c.seen[key] = struct{}{}
	c.matches = append(c.matches, PatternMatch{
		Label:       label,
		Value:       value,
		ElementType: el.ElementType(),
		XPath:       dom.GenerateUniqueXPath(el),
	})
}

func (s *scan) collectLabels(doc *dom.Document, c *collector) error {
	labels, _ := doc.QueryCSS("label")
	for _, l := range labels {
		if c.full() {
			return nil
		}
		text := strings.TrimSpace(l.Text())
		ok, err := s.match(l, text)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var el *dom.Element
		if id := l.Attr("for"); id != "" {
			el = doc.ByID(id)
		} else {
			el = l.FindDescendant(isFillableControl)
		}
		if el != nil && el.IsTargetable() {
			c.add(text, el)
		}
	}
	return s.collectAttr(doc, c, "aria-label")
}

func (s *scan) collectAttr(doc *dom.Document, c *collector, attr string) error {
	for _, el := range doc.Elements() {
		if c.full() {
			return nil
		}
		v := el.Attr(attr)
		if v == "" {
			continue
		}
		ok, err := s.match(el, v)
		if err != nil {
			return err
		}
		if ok && el.IsTargetable() {
			c.add(v, el)
		}
	}
	return nil
}

func (s *scan) collectValues(doc *dom.Document, c *collector) error {
	controls, _ := doc.QueryCSS("input, select, textarea")
	for _, el := range controls {
		if c.full() {
			return nil
		}
		value := el.Value()
		if value == "" {
			continue
		}
		ok, err := s.match(el, value)
		if err != nil {
			return err
		}
		if ok && el.IsTargetable() {
			label := Label(el)
			if label == "" {
				label = "No label"
			}
			c.add(label, el)
		}
	}
	return nil
}

func (s *scan) collectContent(doc *dom.Document, c *collector) error {
	controls, _ := doc.QueryCSS("input, select, textarea")
	for _, el := range controls {
		if c.full() {
			return nil
		}
		parent := el.Parent()
		if !isFillableControl(el) || !el.IsTargetable() || parent == nil {
			continue
		}
		text := parent.Text()
		ok, err := s.match(parent, text)
		if err != nil {
			return err
		}
		if ok {
			c.add(truncate(strings.TrimSpace(text), 100)+"...", el)
		}
	}
	return nil
}
