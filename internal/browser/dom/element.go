// internal/browser/dom/element.go
package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// OwnerAttribute marks an element as filled by this engine.
const OwnerAttribute = "data-enhanced-autofill-ext"

// Attribute and class signatures of password managers and other autofill extensions.
var (
	foreignOwnerAttributes = []string{
		"data-roboform", "data-1p", "data-dashlane", "data-lastpass", "data-bitwarden", "data-keeper",
	}
	foreignOwnerClasses = []string{
		"roboform-field", "rf-field", "roboform-button", "rf-button",
		"password-manager-field", "pw-manager-fill",
	}
	foreignOwnerClassFragments = []string{
		"roboform", "password-manager", "1password", "dashlane", "lastpass", "bitwarden",
	}
)

// Element is a view over one element node of a Document. A node always maps to the same *Element,
// so pointer equality identifies elements.
type Element struct {
	node *html.Node
	doc  *Document
}

// Node returns the underlying parsed node.
func (e *Element) Node() *html.Node { return e.node }

// Document returns the document the element belongs to.
func (e *Element) Document() *Document { return e.doc }

// Tag returns the lowercase tag name.
func (e *Element) Tag() string { return strings.ToLower(e.node.Data) }

// Attr returns the value of the named attribute, or "" when absent.
func (e *Element) Attr(name string) string {
	v, _ := e.lookup(name)
	return v
}

// HasAttr reports whether the attribute is present, even with an empty value.
func (e *Element) HasAttr(name string) bool {
	_, ok := e.lookup(name)
	return ok
}

func (e *Element) lookup(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// Attrs returns the element's attributes in document order.
func (e *Element) Attrs() []html.Attribute {
	return append([]html.Attribute(nil), e.node.Attr...)
}

// SetAttr sets or replaces an attribute.
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.node.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr deletes an attribute if present.
func (e *Element) RemoveAttr(name string) {
	attrs := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			continue
		}
		attrs = append(attrs, a)
	}
	e.node.Attr = attrs
}

func (e *Element) ID() string   { return e.Attr("id") }
func (e *Element) Name() string { return e.Attr("name") }

// Type returns the lowercase type attribute. Inputs without one report "text", as browsers do.
func (e *Element) Type() string {
	t := strings.ToLower(strings.TrimSpace(e.Attr("type")))
	if t == "" && e.Tag() == "input" {
		return "text"
	}
	return t
}

// Classes returns the individual class names.
func (e *Element) Classes() []string {
	return strings.Fields(e.Attr("class"))
}

// ElementType returns "tag" or "tag:type".
func (e *Element) ElementType() string {
	if t := e.Type(); t != "" {
		return e.Tag() + ":" + t
	}
	return e.Tag()
}

// Text returns the concatenated text of all descendants.
func (e *Element) Text() string {
	return htmlquery.InnerText(e.node)
}

// IsContentEditable reports whether the element or an ancestor enables contenteditable.
func (e *Element) IsContentEditable() bool {
	for n := e; n != nil; n = n.Parent() {
		if !n.HasAttr("contenteditable") {
			continue
		}
		v := strings.ToLower(n.Attr("contenteditable"))
		return v == "" || v == "true" || v == "plaintext-only"
	}
	return false
}

// IsFormControl reports whether the element is an input, select or textarea.
func (e *Element) IsFormControl() bool {
	switch e.node.DataAtom {
	case atom.Input, atom.Select, atom.Textarea:
		return true
	}
	return false
}

// IsToggle reports whether the element is a checkbox or radio input.
func (e *Element) IsToggle() bool {
	if e.Tag() != "input" {
		return false
	}
	t := e.Type()
	return t == "checkbox" || t == "radio"
}

// Parent returns the closest element ancestor, or nil at the root.
func (e *Element) Parent() *Element {
	for n := e.node.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			return e.doc.wrap(n)
		}
	}
	return nil
}

// PrevElementSibling returns the previous sibling element, or nil.
func (e *Element) PrevElementSibling() *Element {
	for n := e.node.PrevSibling; n != nil; n = n.PrevSibling {
		if n.Type == html.ElementNode {
			return e.doc.wrap(n)
		}
	}
	return nil
}

// NextElementSibling returns the next sibling element, or nil.
func (e *Element) NextElementSibling() *Element {
	for n := e.node.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode {
			return e.doc.wrap(n)
		}
	}
	return nil
}

// Descendants returns every element below e in document order.
func (e *Element) Descendants() []*Element {
	var out []*Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, e.doc.wrap(c))
			}
			walk(c)
		}
	}
	walk(e.node)
	return out
}

// FindDescendant returns the first descendant satisfying match, or nil.
func (e *Element) FindDescendant(match func(*Element) bool) *Element {
	for _, d := range e.Descendants() {
		if match(d) {
			return d
		}
	}
	return nil
}

// Contains reports whether other is e or one of its descendants.
func (e *Element) Contains(other *Element) bool {
	for n := other.node; n != nil; n = n.Parent {
		if n == e.node {
			return true
		}
	}
	return false
}

// Value returns the element's current value: "true"/"false" for toggles, the selected option for
// selects, text for textareas and contenteditable elements.
func (e *Element) Value() string {
	switch e.Tag() {
	case "input":
		if e.IsToggle() {
			if e.HasAttr("checked") {
				return "true"
			}
			return "false"
		}
		return e.Attr("value")
	case "select":
		opts := e.Options()
		for _, o := range opts {
			if o.Selected {
				return o.Value
			}
		}
		if len(opts) > 0 && !e.HasAttr("multiple") {
			return opts[0].Value
		}
		return ""
	case "textarea":
		return e.Text()
	}
	if e.IsContentEditable() {
		return e.Text()
	}
	return ""
}

// Option is one choice of a select element.
type Option struct {
	Value    string
	Text     string
	Selected bool
	Disabled bool
	el       *Element
}

// Options returns the options of a select element.
func (e *Element) Options() []Option {
	var out []Option
	for _, d := range e.Descendants() {
		if d.Tag() != "option" {
			continue
		}
		text := strings.TrimSpace(d.Text())
		value := text
		if d.HasAttr("value") {
			value = d.Attr("value")
		}
		disabled := d.HasAttr("disabled")
		if p := d.Parent(); p != nil && p.Tag() == "optgroup" && p.HasAttr("disabled") {
			disabled = true
		}
		out = append(out, Option{Value: value, Text: text, Selected: d.HasAttr("selected"), Disabled: disabled, el: d})
	}
	return out
}

// SetChecked checks or unchecks a toggle.
func (e *Element) SetChecked(checked bool) {
	if !checked {
		e.RemoveAttr("checked")
		return
	}
	e.SetAttr("checked", "")
	if e.Type() != "radio" || e.Name() == "" {
		return
	}
	// Checking a radio unchecks the rest of its group.
	for _, other := range e.doc.Elements() {
		if other != e && other.Tag() == "input" && other.Type() == "radio" && other.Name() == e.Name() {
			other.RemoveAttr("checked")
		}
	}
}

// SelectOption marks the option with the given value as selected and clears the others.
// It reports whether a matching option existed.
func (e *Element) SelectOption(value string) bool {
	opts := e.Options()
	found := false
	for _, o := range opts {
		if !found && o.Value == value {
			o.el.SetAttr("selected", "")
			found = true
			continue
		}
		o.el.RemoveAttr("selected")
	}
	return found
}

// SetText replaces all children with a single text node.
func (e *Element) SetText(text string) {
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		e.node.RemoveChild(c)
		c = next
	}
	e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// OwnedByOtherExtension reports whether a password manager or another autofill extension has
// claimed the element.
func (e *Element) OwnedByOtherExtension() bool {
	for _, a := range foreignOwnerAttributes {
		if e.HasAttr(a) {
			return true
		}
	}
	for _, cls := range e.Classes() {
		lc := strings.ToLower(cls)
		for _, known := range foreignOwnerClasses {
			if lc == known {
				return true
			}
		}
		for _, frag := range foreignOwnerClassFragments {
			if strings.Contains(lc, frag) {
				return true
			}
		}
	}
	return false
}

// OwnedByUs reports whether the element carries this engine's owner marker.
func (e *Element) OwnedByUs() bool {
	return e.Attr(OwnerAttribute) == "true"
}

// IsTargetable reports whether the element may be the target of a locator: a non-password form
// control or contenteditable element that nobody else has claimed.
func (e *Element) IsTargetable() bool {
	if e.Type() == "password" || e.OwnedByOtherExtension() {
		return false
	}
	switch e.Tag() {
	case "button", "script", "style":
		return false
	case "input":
		switch e.Type() {
		case "button", "submit", "reset", "image", "hidden":
			return false
		}
		return true
	case "select", "textarea":
		return true
	}
	return e.IsContentEditable()
}

// IsVisible approximates rendering visibility from markup: hidden attributes, inline styles that
// hide the element or an ancestor, hidden inputs, and disabled or read-only controls.
func (e *Element) IsVisible() bool {
	if e.Tag() == "input" && e.Type() == "hidden" {
		return false
	}
	if e.HasAttr("disabled") || e.HasAttr("readonly") {
		return false
	}
	for n := e; n != nil; n = n.Parent() {
		if n.HasAttr("hidden") || (n != e && strings.EqualFold(n.Attr("aria-hidden"), "true")) {
			return false
		}
		if styleHides(n.Attr("style")) {
			return false
		}
	}
	return true
}

func styleHides(style string) bool {
	if style == "" {
		return false
	}
	compact := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	for _, decl := range strings.Split(compact, ";") {
		switch decl {
		case "display:none", "visibility:hidden", "opacity:0":
			return true
		}
	}
	return false
}
