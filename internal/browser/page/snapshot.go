package page

import (
	"context"
	"sync"

	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

// Event is a DOM event a Snapshot backend recorded instead of running.
type Event struct {
	XPath string
	Type  string
}

// Snapshot is a Primitives backend over an in-memory document, used for pages whose HTML is
// supplied by the caller. Writes mutate the document; events are recorded.
type Snapshot struct {
	mu     sync.Mutex
	url    string
	doc    *dom.Document
	events []Event
}

var _ Primitives = (*Snapshot)(nil)

// NewSnapshot wraps an already parsed document.
func NewSnapshot(url string, doc *dom.Document) *Snapshot {
	return &Snapshot{url: url, doc: doc}
}

// NewSnapshotFromHTML parses markup into a Snapshot backend.
func NewSnapshotFromHTML(url, markup string) (*Snapshot, error) {
	doc, err := dom.ParseString(markup)
	if err != nil {
		return nil, apperr.NewValidationError("html", err.Error())
	}
	return NewSnapshot(url, doc), nil
}

func (s *Snapshot) URL(context.Context) (string, error) { return s.url, nil }

func (s *Snapshot) Snapshot(context.Context) (*dom.Document, error) { return s.doc, nil }

// Events returns the events dispatched so far.
func (s *Snapshot) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// HTML renders the document with every write applied.
func (s *Snapshot) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.HTML()
}

func (s *Snapshot) element(xpath string) (*dom.Element, error) {
	el, err := s.doc.QueryXPathOne(xpath)
	if err != nil {
		return nil, apperr.NewValidationError("xpath", err.Error())
	}
	if el == nil {
		return nil, apperr.NewNotFoundError("element", xpath)
	}
	return el, nil
}

func (s *Snapshot) SetAttribute(_ context.Context, xpath, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element(xpath)
	if err != nil {
		return err
	}
	el.SetAttr(name, value)
	return nil
}

func (s *Snapshot) SetValue(_ context.Context, xpath, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element(xpath)
	if err != nil {
		return err
	}
	switch el.Tag() {
	case "select":
		if !el.SelectOption(value) {
			return apperr.NewNotFoundError("option", value)
		}
	case "textarea":
		el.SetText(value)
	default:
		el.SetAttr("value", value)
	}
	return nil
}

func (s *Snapshot) SetChecked(_ context.Context, xpath string, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element(xpath)
	if err != nil {
		return err
	}
	el.SetChecked(checked)
	return nil
}

func (s *Snapshot) SetText(_ context.Context, xpath, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, err := s.element(xpath)
	if err != nil {
		return err
	}
	el.SetText(text)
	return nil
}

func (s *Snapshot) Dispatch(_ context.Context, xpath string, events ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.element(xpath); err != nil {
		return err
	}
	for _, e := range events {
		s.events = append(s.events, Event{XPath: xpath, Type: e})
	}
	return nil
}
