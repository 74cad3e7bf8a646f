// Package page exposes a browser tab to the fill and detection engines as a narrow capability:
// snapshot the DOM, locate an element by locator, read it, write it and check its visibility.
package page

import (
	"context"

	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

// Standard events synthesized after a value is written.
const (
	EventInput  = "input"
	EventChange = "change"
)

// Primitives are the raw operations a page backend provides. Elements are addressed by the
// XPath that dom.GenerateUniqueXPath computed on the latest snapshot.
type Primitives interface {
	// URL returns the address of the loaded document.
	URL(ctx context.Context) (string, error)
	// Snapshot returns the current DOM.
	Snapshot(ctx context.Context) (*dom.Document, error)

	SetAttribute(ctx context.Context, xpath, name, value string) error
	// SetValue assigns the value of an input, textarea or select.
	SetValue(ctx context.Context, xpath, value string) error
	SetChecked(ctx context.Context, xpath string, checked bool) error
	// SetText replaces the text of a contenteditable element.
	SetText(ctx context.Context, xpath, text string) error
	// Dispatch fires bubbling events of the given types at the element.
	Dispatch(ctx context.Context, xpath string, events ...string) error
}
