// internal/locator/resolver.go
package locator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
)

// contentSearchDepth bounds how far up from matching text the content locator looks for a control.
const contentSearchDepth = 3

// Resolver finds the element a locator candidate designates in a page snapshot. Regex kinds are
// compiled through the guard and evaluated under its time and element budget.
type Resolver struct {
	guard  *regexguard.Guard
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(guard *regexguard.Guard, logger *zap.Logger) *Resolver {
	return &Resolver{guard: guard, logger: logger.Named("locator_resolver")}
}

// Guard returns the regex guard the resolver evaluates patterns with.
func (r *Resolver) Guard() *regexguard.Guard { return r.guard }

// Resolve returns the element cand designates. It returns a NotFoundError when nothing matches,
// a ValidationError for a malformed selector or pattern, and a TimeoutError when a regex scan
// exhausts its budget.
func (r *Resolver) Resolve(ctx context.Context, doc *dom.Document, cand schemas.LocatorCandidate) (*dom.Element, error) {
	if doc == nil {
		return nil, apperr.NewValidationError("document", "no page snapshot")
	}
	if cand.Pattern == "" {
		return nil, apperr.NewValidationError("locator", "empty pattern")
	}

	var (
		el  *dom.Element
		err error
	)
	if cand.Kind.IsRegex() {
		el, err = r.resolveRegex(ctx, doc, cand)
	} else {
		el, err = r.resolveLiteral(doc, cand)
	}
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, apperr.NewNotFoundError("element", string(cand.Kind)+":"+cand.Pattern)
	}
	return el, nil
}

// ResolveFirst tries cands in order and returns the first element that accept admits, together
// with the candidate that found it. A candidate that fails to resolve is skipped; the caller's
// cancellation stops the search.
func (r *Resolver) ResolveFirst(ctx context.Context, doc *dom.Document, cands []schemas.LocatorCandidate, accept func(*dom.Element) bool) (*dom.Element, schemas.LocatorCandidate, error) {
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return nil, schemas.LocatorCandidate{}, err
		}
		el, err := r.Resolve(ctx, doc, cand)
		if err != nil {
			if !apperr.IsNotFound(err) {
				r.logger.Debug("Locator candidate failed",
					zap.String("kind", string(cand.Kind)),
					zap.String("pattern", cand.Pattern),
					zap.Error(err))
			}
			continue
		}
		if accept == nil || accept(el) {
			return el, cand, nil
		}
	}
	return nil, schemas.LocatorCandidate{}, apperr.NewNotFoundError("element", fmt.Sprintf("%d locator candidates", len(cands)))
}

func (r *Resolver) resolveLiteral(doc *dom.Document, cand schemas.LocatorCandidate) (*dom.Element, error) {
	switch cand.Kind {
	case schemas.LocatorExactID:
		return doc.ByID(cand.Pattern), nil
	case schemas.LocatorExactName:
		return queryOne(doc, attrSelector("name", cand.Pattern))
	case schemas.LocatorCSS:
		return queryOne(doc, cand.Pattern)
	case schemas.LocatorPlaceholder:
		return queryOne(doc, attrSelector("placeholder", cand.Pattern))
	case schemas.LocatorAriaLabel:
		return queryOne(doc, attrSelector("aria-label", cand.Pattern))
	case schemas.LocatorDataAttr:
		name, value, ok := strings.Cut(cand.Pattern, "=")
		if !ok || !strings.HasPrefix(name, "data-") {
			return nil, apperr.NewValidationError("locator", fmt.Sprintf("data attribute %q is not name=value", cand.Pattern))
		}
		return queryOne(doc, attrSelector(name, value))
	case schemas.LocatorXPath:
		el, err := doc.QueryXPathOne(cand.Pattern)
		if err != nil {
			return nil, apperr.NewValidationError("locator", err.Error())
		}
		return el, nil
	case schemas.LocatorLabelText:
		return byLabelText(doc, cand.Pattern)
	}
	return nil, apperr.NewValidationError("locator", fmt.Sprintf("unknown kind %q", cand.Kind))
}

func queryOne(doc *dom.Document, selector string) (*dom.Element, error) {
	el, err := doc.QueryCSSOne(selector)
	if err != nil {
		return nil, apperr.NewValidationError("locator", err.Error())
	}
	return el, nil
}

func byLabelText(doc *dom.Document, text string) (*dom.Element, error) {
	labels, err := doc.QueryCSS("label")
	if err != nil {
		return nil, err
	}
	for _, l := range labels {
		if strings.TrimSpace(l.Text()) != text {
			continue
		}
		if id := l.Attr("for"); id != "" {
			return doc.ByID(id), nil
		}
		if input := l.FindDescendant((*dom.Element).IsFormControl); input != nil {
			return input, nil
		}
	}
	// Label text may have come from aria-label, placeholder or a preceding sibling.
	controls, err := doc.QueryCSS("input, select, textarea")
	if err != nil {
		return nil, err
	}
	for _, el := range controls {
		if el.IsTargetable() && Label(el) == text {
			return el, nil
		}
	}
	return nil, nil
}

// scan pairs a compiled matcher with the budget every examined element is charged against.
// Each element is charged once, however many controls look at it.
type scan struct {
	m      *regexguard.Matcher
	budget *regexguard.Budget
	memo   map[memoKey]bool
}

type memoKey struct {
	node any
	text string
}

// match tests the text of node, an element or text node. Repeated tests of the same node and
// text reuse the first result.
func (s *scan) match(node any, text string) (bool, error) {
	if err := s.budget.Visit(node); err != nil {
		return false, err
	}
	k := memoKey{node: node, text: text}
	if ok, done := s.memo[k]; done {
		return ok, nil
	}
	ok, err := s.m.MatchString(text)
	if err != nil {
		return false, err
	}
	s.memo[k] = ok
	return ok, nil
}

func (r *Resolver) newScan(ctx context.Context, pattern, op string) (*scan, context.CancelFunc, error) {
	m, err := r.guard.Compile(pattern)
	if err != nil {
		return nil, nil, err
	}
	budget, cancel := r.guard.NewBudget(ctx, op)
	return &scan{m: m, budget: budget, memo: make(map[memoKey]bool)}, cancel, nil
}

func (r *Resolver) resolveRegex(ctx context.Context, doc *dom.Document, cand schemas.LocatorCandidate) (*dom.Element, error) {
	s, cancel, err := r.newScan(ctx, cand.Pattern, "resolve "+string(cand.Kind))
	if err != nil {
		return nil, err
	}
	defer cancel()

	switch cand.Kind {
	case schemas.LocatorRegexLabel:
		return s.byLabel(doc)
	case schemas.LocatorRegexID:
		return s.byAttr(doc, "id")
	case schemas.LocatorRegexName:
		return s.byAttr(doc, "name")
	case schemas.LocatorRegexClass:
		return s.byAttr(doc, "class")
	case schemas.LocatorRegexPlaceholder:
		return s.byAttr(doc, "placeholder")
	case schemas.LocatorRegexValue:
		return s.byAttr(doc, "value")
	case schemas.LocatorRegexContent:
		return s.byContent(doc)
	}
	return nil, apperr.NewValidationError("locator", fmt.Sprintf("unknown regex kind %q", cand.Kind))
}

// byLabel checks label elements, then aria-label attributes, then text placed before or around
// each control for survey questions that carry no label markup.
func (s *scan) byLabel(doc *dom.Document) (*dom.Element, error) {
	labels, _ := doc.QueryCSS("label")
	for _, l := range labels {
		ok, err := s.match(l, strings.TrimSpace(l.Text()))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if id := l.Attr("for"); id != "" {
			if el := doc.ByID(id); el != nil && el.IsTargetable() {
				return el, nil
			}
		}
		if input := l.FindDescendant(isFillableControl); input != nil && input.IsTargetable() {
			return input, nil
		}
	}

	if el, err := s.byAttr(doc, "aria-label"); el != nil || err != nil {
		return el, err
	}

	controls, _ := doc.QueryCSS("input, select, textarea")
	for _, el := range controls {
		if !isFillableControl(el) || !el.IsTargetable() {
			continue
		}
		for prev := el.PrevElementSibling(); prev != nil; prev = prev.PrevElementSibling() {
			ok, err := s.match(prev, prev.Text())
			if err != nil {
				return nil, err
			}
			if ok {
				return el, nil
			}
		}
		if parent := el.Parent(); parent != nil {
			ok, err := s.match(parent, textWithoutControls(parent))
			if err != nil {
				return nil, err
			}
			if ok {
				return el, nil
			}
		}
	}
	return nil, nil
}

func (s *scan) byAttr(doc *dom.Document, attr string) (*dom.Element, error) {
	for _, el := range doc.Elements() {
		v := el.Attr(attr)
		if v == "" {
			continue
		}
		ok, err := s.match(el, v)
		if err != nil {
			return nil, err
		}
		if ok && el.IsTargetable() {
			return el, nil
		}
	}
	return nil, nil
}

// byContent finds text matching the pattern and looks up to three levels around it for a control:
// the ancestor itself, a control inside it, or a control in one of its following siblings.
func (s *scan) byContent(doc *dom.Document) (*dom.Element, error) {
	body := doc.Body()
	if body == nil {
		return nil, nil
	}

	var texts []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
				texts = append(texts, c)
			}
			if c.Type == html.ElementNode && (c.Data == "script" || c.Data == "style") {
				continue
			}
			walk(c)
		}
	}
	walk(body.Node())

	for _, t := range texts {
		ok, err := s.match(t, t.Data)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for parent, depth := doc.Wrap(t.Parent), 0; parent != nil && depth < contentSearchDepth; parent, depth = parent.Parent(), depth+1 {
			if el := targetIn(parent); el != nil {
				return el, nil
			}
			for sib := parent.NextElementSibling(); sib != nil; sib = sib.NextElementSibling() {
				if el := targetIn(sib); el != nil {
					return el, nil
				}
			}
		}
	}
	return nil, nil
}

// targetIn returns el itself when targetable, else its first targetable form control.
func targetIn(el *dom.Element) *dom.Element {
	if el.IsTargetable() {
		return el
	}
	return el.FindDescendant(func(d *dom.Element) bool {
		return d.IsFormControl() && d.IsTargetable()
	})
}
