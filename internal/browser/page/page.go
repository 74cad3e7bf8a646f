// internal/browser/page/page.go
package page

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/locator"
)

// HighlightClass is added to the element a highlighted regex locator resolves to.
const HighlightClass = "autofill-regex-highlight"

// Handle refers to a located element of the page's current snapshot.
type Handle struct {
	XPath string
	el    *dom.Element
}

// Element returns the snapshot element behind the handle.
func (h *Handle) Element() *dom.Element { return h.el }

// Page is the DOM capability the engines work against. Locating and reading use the latest
// snapshot; writes go through the backend and are mirrored nowhere, so callers Refresh before
// reading state they changed.
type Page struct {
	prims    Primitives
	resolver *locator.Resolver
	logger   *zap.Logger

	mu  sync.Mutex
	doc *dom.Document
}

// New creates a Page over a backend.
func New(prims Primitives, resolver *locator.Resolver, logger *zap.Logger) *Page {
	return &Page{prims: prims, resolver: resolver, logger: logger.Named("page")}
}

// URL returns the page address.
func (p *Page) URL(ctx context.Context) (string, error) { return p.prims.URL(ctx) }

// Refresh takes a new DOM snapshot.
func (p *Page) Refresh(ctx context.Context) (*dom.Document, error) {
	doc, err := p.prims.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return doc, nil
}

// Document returns the latest snapshot, taking one if none exists yet.
func (p *Page) Document(ctx context.Context) (*dom.Document, error) {
	p.mu.Lock()
	doc := p.doc
	p.mu.Unlock()
	if doc != nil {
		return doc, nil
	}
	return p.Refresh(ctx)
}

func (p *Page) handle(el *dom.Element) *Handle {
	return &Handle{XPath: dom.GenerateUniqueXPath(el), el: el}
}

// Locate resolves one locator candidate. It returns a NotFoundError when nothing matches.
func (p *Page) Locate(ctx context.Context, cand schemas.LocatorCandidate) (*Handle, error) {
	doc, err := p.Document(ctx)
	if err != nil {
		return nil, err
	}
	el, err := p.resolver.Resolve(ctx, doc, cand)
	if err != nil {
		return nil, err
	}
	return p.handle(el), nil
}

// LocateFirst tries cands in order and returns the first element accept admits.
func (p *Page) LocateFirst(ctx context.Context, cands []schemas.LocatorCandidate, accept func(*dom.Element) bool) (*Handle, schemas.LocatorCandidate, error) {
	doc, err := p.Document(ctx)
	if err != nil {
		return nil, schemas.LocatorCandidate{}, err
	}
	el, cand, err := p.resolver.ResolveFirst(ctx, doc, cands, accept)
	if err != nil {
		return nil, cand, err
	}
	return p.handle(el), cand, nil
}

// Read returns the element's value as of the latest snapshot.
func (p *Page) Read(h *Handle) string { return h.el.Value() }

// IsVisible reports whether the element can be seen and edited.
func (p *Page) IsVisible(h *Handle) bool { return h.el.IsVisible() }

// MarkOwned tags the element as filled by this engine. It is idempotent.
func (p *Page) MarkOwned(ctx context.Context, h *Handle) error {
	if h.el.OwnedByUs() {
		return nil
	}
	if err := p.prims.SetAttribute(ctx, h.XPath, dom.OwnerAttribute, "true"); err != nil {
		return err
	}
	h.el.SetAttr(dom.OwnerAttribute, "true")
	return nil
}

// Write applies value to the element according to its type and then fires input and change
// events. Toggles are checked for "true", "yes", "1", "checked" or "on"; date inputs receive
// YYYY-MM-DD; selects take the option whose value or text equals value, ignoring case.
func (p *Page) Write(ctx context.Context, h *Handle, value string) error {
	el := h.el
	var err error
	switch {
	case el.Tag() == "input" && el.IsToggle():
		err = p.prims.SetChecked(ctx, h.XPath, Truthy(value))
	case el.Tag() == "input" && el.Type() == "date":
		err = p.prims.SetValue(ctx, h.XPath, FormatDate(value))
	case el.Tag() == "input", el.Tag() == "textarea":
		err = p.prims.SetValue(ctx, h.XPath, value)
	case el.Tag() == "select":
		opt, ok := MatchOption(el, value)
		if !ok {
			return apperr.NewNotFoundError("option", value)
		}
		err = p.prims.SetValue(ctx, h.XPath, opt.Value)
	case el.IsContentEditable():
		err = p.prims.SetText(ctx, h.XPath, value)
	default:
		return apperr.NewValidationError("element", fmt.Sprintf("unsupported element type %s", el.ElementType()))
	}
	if err != nil {
		return err
	}
	return p.prims.Dispatch(ctx, h.XPath, EventInput, EventChange)
}

// Highlight marks the element a locator resolves to with HighlightClass, clearing any previous
// highlight first.
func (p *Page) Highlight(ctx context.Context, cand schemas.LocatorCandidate) (*Handle, error) {
	doc, err := p.Document(ctx)
	if err != nil {
		return nil, err
	}
	for _, el := range doc.Elements() {
		if !hasClass(el, HighlightClass) {
			continue
		}
		classes := withoutClass(el.Classes(), HighlightClass)
		if err := p.prims.SetAttribute(ctx, dom.GenerateUniqueXPath(el), "class", strings.Join(classes, " ")); err != nil {
			p.logger.Warn("Failed to clear highlight", zap.Error(err))
		}
		el.SetAttr("class", strings.Join(classes, " "))
	}

	h, err := p.Locate(ctx, cand)
	if err != nil {
		return nil, err
	}
	classes := append(h.el.Classes(), HighlightClass)
	if err := p.prims.SetAttribute(ctx, h.XPath, "class", strings.Join(classes, " ")); err != nil {
		return nil, err
	}
	h.el.SetAttr("class", strings.Join(classes, " "))
	return h, nil
}

func hasClass(el *dom.Element, cls string) bool {
	for _, c := range el.Classes() {
		if c == cls {
			return true
		}
	}
	return false
}

func withoutClass(classes []string, cls string) []string {
	out := classes[:0]
	for _, c := range classes {
		if c != cls {
			out = append(out, c)
		}
	}
	return out
}

// Truthy reports whether a stored toggle value means "checked".
func Truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "checked", "on":
		return true
	}
	return false
}

// MatchOption finds the option of a select whose value or text equals value, exact matches first.
func MatchOption(sel *dom.Element, value string) (dom.Option, bool) {
	opts := sel.Options()
	for _, o := range opts {
		if o.Value == value || o.Text == value {
			return o, true
		}
	}
	for _, o := range opts {
		if strings.EqualFold(o.Value, value) || strings.EqualFold(o.Text, value) {
			return o, true
		}
	}
	return dom.Option{}, false
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dateLayouts are the formats stored values are commonly written in.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
}

// FormatDate coerces value to the YYYY-MM-DD form date inputs accept. Values it cannot parse are
// returned unchanged.
func FormatDate(value string) string {
	v := strings.TrimSpace(value)
	if isoDate.MatchString(v) {
		return v
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return value
}
