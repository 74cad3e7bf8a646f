package locator

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

// Label returns the human-facing label of a form element. It tries, in order, a label[for]
// pointing at the element, an enclosing label, aria-label, placeholder and the text of the
// previous sibling element.
func Label(el *dom.Element) string {
	if el == nil {
		return ""
	}
	if id := el.ID(); id != "" {
		if labels, err := el.Document().QueryCSS("label"); err == nil {
			for _, l := range labels {
				if l.Attr("for") == id {
					return strings.TrimSpace(l.Text())
				}
			}
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		if p.Tag() == "label" {
			return strings.TrimSpace(p.Text())
		}
	}
	if v := el.Attr("aria-label"); v != "" {
		return v
	}
	if v := el.Attr("placeholder"); v != "" {
		return v
	}
	if prev := el.PrevElementSibling(); prev != nil {
		return strings.TrimSpace(prev.Text())
	}
	return ""
}

// textWithoutControls returns the text of el, leaving out the subtrees of form controls.
func textWithoutControls(el *dom.Element) string {
	var b strings.Builder
	var walk func(*dom.Element)
	walk = func(e *dom.Element) {
		for c := e.Node().FirstChild; c != nil; c = c.NextSibling {
			if child := e.Document().Wrap(c); child != nil {
				if child.IsFormControl() {
					continue
				}
				walk(child)
				continue
			}
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
	}
	walk(el)
	return strings.TrimSpace(b.String())
}

// isFillableControl matches input (other than hidden), select and textarea elements.
func isFillableControl(el *dom.Element) bool {
	switch el.Tag() {
	case "select", "textarea":
		return true
	case "input":
		return el.Type() != "hidden"
	}
	return false
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
