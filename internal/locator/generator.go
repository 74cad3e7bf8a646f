// internal/locator/generator.go

// Package locator turns a selected form element into candidate locators and resolves stored
// locators back to elements of a page snapshot.
package locator

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

// Candidate priorities, most literal first.
const (
	PriorityID          = 1
	PriorityName        = 2
	PriorityCSS         = 3
	PriorityPlaceholder = 4
	PriorityAriaLabel   = 5
	PriorityLabelText   = 6
	PriorityDataAttr    = 7
	PriorityClass       = 8
	PriorityXPath       = 9
	PriorityInputType   = 10
)

// Generator produces the candidate locators for an element. It does not judge reliability.
type Generator struct {
	logger *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{logger: logger.Named("locator_generator")}
}

// Generate returns every applicable candidate for el ordered by ascending priority. Any element
// with a tag yields at least its XPath.
func (g *Generator) Generate(el *dom.Element) []schemas.LocatorCandidate {
	if el == nil {
		return nil
	}
	var out []schemas.LocatorCandidate
	add := func(kind schemas.LocatorKind, pattern string, priority int, label string) {
		out = append(out, schemas.LocatorCandidate{Kind: kind, Pattern: pattern, Priority: priority, Label: label})
	}

	if id := el.ID(); id != "" {
		add(schemas.LocatorExactID, id, PriorityID, "ID attribute")
	}
	if name := el.Name(); name != "" {
		add(schemas.LocatorExactName, name, PriorityName, "Name attribute")
	}
	if css := CSSSelector(el); css != "" {
		add(schemas.LocatorCSS, css, PriorityCSS, "Generated CSS selector")
	}
	if v := el.Attr("placeholder"); v != "" {
		add(schemas.LocatorPlaceholder, v, PriorityPlaceholder, "Placeholder text")
	}
	if v := el.Attr("aria-label"); v != "" {
		add(schemas.LocatorAriaLabel, v, PriorityAriaLabel, "ARIA label")
	}
	if label := Label(el); label != "" {
		add(schemas.LocatorLabelText, label, PriorityLabelText, "Associated label text")
	}
	for _, a := range el.Attrs() {
		if strings.HasPrefix(a.Key, "data-") && a.Val != "" && a.Key != dom.OwnerAttribute {
			add(schemas.LocatorDataAttr, a.Key+"="+a.Val, PriorityDataAttr, "Data attribute: "+a.Key)
		}
	}
	for _, cls := range el.Classes() {
		add(schemas.LocatorCSS, "."+EscapeIdent(cls), PriorityClass, "Class: "+cls)
	}
	if xp := dom.GenerateUniqueXPath(el); xp != "" {
		add(schemas.LocatorXPath, xp, PriorityXPath, "Generated XPath")
	}
	if el.Tag() == "input" && el.HasAttr("type") {
		add(schemas.LocatorCSS, "input"+attrSelector("type", el.Type()), PriorityInputType, "Input type: "+el.Type())
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })

	g.logger.Debug("Generated locator candidates",
		zap.String("element", el.ElementType()),
		zap.Int("count", len(out)))
	return out
}
