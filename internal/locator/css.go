package locator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

// maxAncestorContext is how many ancestor levels may be prefixed to make a selector unique.
const maxAncestorContext = 3

// CSSSelector builds a short selector for el: "#id" when it has one, otherwise tag plus
// identifying attributes, narrowed by up to three ancestors until it is unique in the document.
func CSSSelector(el *dom.Element) string {
	if el == nil {
		return ""
	}
	if id := el.ID(); id != "" {
		return "#" + EscapeIdent(id)
	}

	selector := el.Tag()
	if el.Tag() == "input" && el.HasAttr("type") {
		selector += attrSelector("type", el.Type())
	}
	for _, attr := range []string{"placeholder", "name"} {
		if v := el.Attr(attr); v != "" {
			selector += attrSelector(attr, v)
		}
	}

	doc := el.Document()
	if doc.CountCSS(selector) == 1 {
		return selector
	}

	context := selector
	current := el
	for i := 0; i < maxAncestorContext; i++ {
		current = current.Parent()
		if current == nil {
			break
		}
		if id := current.ID(); id != "" {
			context = "#" + EscapeIdent(id) + " " + context
			break
		}
		if classes := current.Classes(); len(classes) > 0 {
			context = "." + EscapeIdent(classes[0]) + " " + context
		} else {
			context = current.Tag() + " " + context
		}
		if doc.CountCSS(context) == 1 {
			break
		}
	}
	return context
}

// attrSelector renders [name="value"] with value quoted as a CSS string.
func attrSelector(name, value string) string {
	return fmt.Sprintf("[%s=%s]", name, QuoteString(value))
}

// QuoteString renders s as a double-quoted CSS string.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// EscapeIdent escapes s for use as a CSS identifier, following the CSSOM serialization rules.
func EscapeIdent(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
