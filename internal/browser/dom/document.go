// internal/browser/dom/document.go
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a parsed page snapshot. Elements obtained from it share identity: the same node is
// always returned as the same *Element.
type Document struct {
	root *html.Node

	mu       sync.Mutex
	elements map[*html.Node]*Element
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return NewDocument(root), nil
}

// ParseString parses an HTML document held in memory.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// NewDocument wraps an already parsed node tree.
func NewDocument(root *html.Node) *Document {
	return &Document{root: root, elements: make(map[*html.Node]*Element)}
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[n]; ok {
		return el
	}
	el := &Element{node: n, doc: d}
	d.elements[n] = el
	return el
}

// Wrap returns the Element for a node of this document.
func (d *Document) Wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return d.wrap(n)
}

// Elements returns every element in document order.
func (d *Document) Elements() []*Element {
	var out []*Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, d.wrap(c))
			}
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// Body returns the body element, or the first element when there is none.
func (d *Document) Body() *Element {
	if n := htmlquery.FindOne(d.root, "//body"); n != nil {
		return d.wrap(n)
	}
	if els := d.Elements(); len(els) > 0 {
		return els[0]
	}
	return nil
}

// ByID returns the first element whose id equals id.
func (d *Document) ByID(id string) *Element {
	if id == "" {
		return nil
	}
	for _, el := range d.Elements() {
		if el.ID() == id {
			return el
		}
	}
	return nil
}

// QueryCSS returns the elements matching a CSS selector. Invalid selectors are reported as errors.
func (d *Document) QueryCSS(selector string) ([]*Element, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid css selector %q: %w", selector, err)
	}
	sel := goquery.NewDocumentFromNode(d.root).FindMatcher(m)
	out := make([]*Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, d.wrap(s.Get(0)))
	})
	return out, nil
}

// QueryCSSOne returns the first element matching a CSS selector, or nil.
func (d *Document) QueryCSSOne(selector string) (*Element, error) {
	els, err := d.QueryCSS(selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// CountCSS returns how many elements match selector, or -1 for an invalid selector.
func (d *Document) CountCSS(selector string) int {
	els, err := d.QueryCSS(selector)
	if err != nil {
		return -1
	}
	return len(els)
}

// QueryXPath returns the elements selected by an XPath expression.
func (d *Document) QueryXPath(expr string) ([]*Element, error) {
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, d.wrap(n))
		}
	}
	return out, nil
}

// QueryXPathOne returns the first element selected by expr, or nil.
func (d *Document) QueryXPathOne(expr string) (*Element, error) {
	els, err := d.QueryXPath(expr)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// HTML renders the document, including any mutations applied through its elements.
func (d *Document) HTML() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return buf.String(), nil
}
