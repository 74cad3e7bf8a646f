// internal/browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// GenerateUniqueXPath builds an absolute XPath for el. The nearest ancestor-or-self with an id
// anchors the path; otherwise it runs from the document root with 1-based sibling indexes.
func GenerateUniqueXPath(el *Element) string {
	if el == nil {
		return ""
	}

	var steps []string
	for n := el.node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)

		if id := el.doc.wrap(n).ID(); id != "" {
			steps = append(steps, "//*[@id="+xpathLiteral(id)+"]")
			break
		}

		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.EqualFold(prev.Data, tag) {
				index++
			}
		}
		steps = append(steps, fmt.Sprintf("%s[%d]", tag, index))
	}

	if len(steps) == 0 {
		return "/"
	}

	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}

	xpath := strings.Join(steps, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath
}

// xpathLiteral quotes s for use in an XPath expression. XPath 1.0 has no escape character, so a
// value holding both quote kinds is assembled with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
