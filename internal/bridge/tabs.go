package bridge

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/lifecycle"
	"github.com/xkilldash9x/surveyfill/internal/locator"
)

type tabEntry struct {
	tab  lifecycle.Tab
	html string
	page *page.Page
}

// TabRegistry mirrors the extension's tabs from the events it reports. Each tab's page is the
// last HTML snapshot the extension sent for it.
type TabRegistry struct {
	resolver *locator.Resolver
	logger   *zap.Logger

	mu   sync.Mutex
	tabs map[int]*tabEntry
}

// NewTabRegistry creates an empty registry.
func NewTabRegistry(resolver *locator.Resolver, logger *zap.Logger) *TabRegistry {
	return &TabRegistry{resolver: resolver, logger: logger.Named("tabs"), tabs: make(map[int]*tabEntry)}
}

// Update records a tab update. A new snapshot replaces the tab's page.
func (r *TabRegistry) Update(req schemas.TabUpdatedRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(req.TabID)
	if req.URL != "" && req.URL != e.tab.URL {
		e.html, e.page = "", nil
		e.tab.URL = req.URL
	}
	if req.Title != "" {
		e.tab.Title = req.Title
	}
	if req.HTML != "" {
		e.html, e.page = req.HTML, nil
	}
	if req.Active {
		r.activate(req.TabID)
	}
}

// Activate marks id as the active tab and every other tab as inactive.
func (r *TabRegistry) Activate(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(id)
	r.activate(id)
}

// Remove forgets a tab.
func (r *TabRegistry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, id)
}

func (r *TabRegistry) entry(id int) *tabEntry {
	e, ok := r.tabs[id]
	if !ok {
		e = &tabEntry{tab: lifecycle.Tab{ID: id}}
		r.tabs[id] = e
	}
	return e
}

func (r *TabRegistry) activate(id int) {
	for tid, e := range r.tabs {
		e.tab.Active = tid == id
	}
}

// Tab implements lifecycle.Tabs.
func (r *TabRegistry) Tab(id int) (lifecycle.Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tabs[id]
	if !ok {
		return lifecycle.Tab{}, false
	}
	return e.tab, true
}

// Page implements lifecycle.Tabs. It fails with a NotFoundError until the extension has sent a
// snapshot for the tab.
func (r *TabRegistry) Page(_ context.Context, id int) (*page.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tabs[id]
	if !ok || e.html == "" {
		return nil, apperr.NewNotFoundError("page snapshot", "tab "+strconv.Itoa(id))
	}
	if e.page != nil {
		return e.page, nil
	}
	snap, err := page.NewSnapshotFromHTML(e.tab.URL, e.html)
	if err != nil {
		return nil, err
	}
	e.page = page.New(snap, r.resolver, r.logger)
	return e.page, nil
}
