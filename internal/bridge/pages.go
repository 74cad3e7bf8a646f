package bridge

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/fill"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/survey"
)

// inlineURL addresses pages sent inline with a request.
const inlineURL = "about:blank"

// pageFor returns the page a request addresses. Inline HTML wins over a tab id; inline pages live
// only for the request.
func (d *Dispatcher) pageFor(ctx context.Context, ref schemas.PageRef) (*page.Page, bool, error) {
	if ref.HTML != "" {
		url := inlineURL
		if tab, ok := d.deps.Tabs.Tab(ref.TabID); ok && tab.URL != "" {
			url = tab.URL
		}
		snap, err := page.NewSnapshotFromHTML(url, ref.HTML)
		if err != nil {
			return nil, false, err
		}
		return page.New(snap, d.deps.Resolver, d.logger), true, nil
	}
	if ref.TabID == 0 {
		return nil, false, apperr.NewValidationError("page", "either html or tabId is required")
	}
	pg, err := d.deps.Tabs.Page(ctx, ref.TabID)
	return pg, false, err
}

func (d *Dispatcher) detectFields(ctx context.Context, r *schemas.DetectFieldsRequest) (any, error) {
	pg, _, err := d.pageFor(ctx, r.PageRef)
	if err != nil {
		return nil, err
	}
	fields, err := d.deps.Scanner.Scan(ctx, pg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fields": fields}, nil
}

// CandidateReport describes one element: how it can be found and which way is recommended.
type CandidateReport struct {
	XPath          string                     `json:"xpath"`
	Label          string                     `json:"label"`
	ElementType    string                     `json:"elementType"`
	Candidates     []schemas.LocatorCandidate `json:"allSelectors"`
	Recommendation schemas.Recommendation     `json:"suggestion"`
}

func (d *Dispatcher) generateCandidates(ctx context.Context, r *schemas.GenerateCandidatesRequest) (any, error) {
	if r.XPath == "" {
		return nil, apperr.NewValidationError("xpath", "must not be empty")
	}
	pg, _, err := d.pageFor(ctx, r.PageRef)
	if err != nil {
		return nil, err
	}
	doc, err := pg.Document(ctx)
	if err != nil {
		return nil, err
	}
	el, err := doc.QueryXPathOne(r.XPath)
	if err != nil {
		return nil, apperr.NewValidationError("xpath", err.Error())
	}
	if el == nil {
		return nil, apperr.NewNotFoundError("element", r.XPath)
	}
	cands := d.deps.Generator.Generate(el)
	return CandidateReport{
		XPath:          r.XPath,
		Label:          locator.Label(el),
		ElementType:    el.ElementType(),
		Candidates:     cands,
		Recommendation: d.deps.Ranking.Recommend(ctx, el, cands),
	}, nil
}

// FillReport is the answer to fillFields.
type FillReport struct {
	Results     []schemas.FillResult `json:"results"`
	Filled      int                  `json:"filled"`
	SuccessRate float64              `json:"successRate"`
	Message     string               `json:"message"`
	// HTML is the filled page, returned for inline pages only.
	HTML string `json:"html,omitempty"`
}

func (d *Dispatcher) fillFields(ctx context.Context, r *schemas.FillFieldsRequest) (any, error) {
	pg, inline, err := d.pageFor(ctx, r.PageRef)
	if err != nil {
		return nil, err
	}
	fields, err := d.deps.Repo.Fields(ctx)
	if err != nil {
		return nil, err
	}
	if len(r.FieldIDs) > 0 {
		fields = slices.DeleteFunc(fields, func(f schemas.FieldRecord) bool { return !slices.Contains(r.FieldIDs, f.ID) })
	}

	results := d.deps.Executor.Fill(ctx, pg, fields)
	domain := r.Domain
	if domain == "" {
		if u, err := pg.URL(ctx); err == nil {
			domain = survey.Hostname(u)
		}
	}
	if err := d.deps.Recorder.Record(ctx, domain, results); err != nil {
		d.logger.Warn("Failed to record fill results", zap.String("domain", domain), zap.Error(err))
	}

	opts, err := d.deps.Repo.Options(ctx)
	if err != nil {
		opts = schemas.DefaultOptions()
	}
	filled, rate := fill.Summary(results)
	report := FillReport{
		Results:     results,
		Filled:      filled,
		SuccessRate: rate,
		Message:     fill.Notice(filled, "", opts.IframeSupportEnabled),
	}
	if inline {
		doc, err := pg.Document(ctx)
		if err != nil {
			return nil, err
		}
		if report.HTML, err = doc.HTML(); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// FieldCheck is the answer to testField.
type FieldCheck struct {
	Found       bool   `json:"found"`
	XPath       string `json:"xpath,omitempty"`
	Value       string `json:"value,omitempty"`
	ElementType string `json:"elementType,omitempty"`
	Visible     bool   `json:"visible"`
	// Safe is false when filling the element would be refused.
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

func (d *Dispatcher) testField(ctx context.Context, r *schemas.TestFieldRequest) (any, error) {
	if !r.Locator.Kind.Valid() {
		return nil, apperr.NewValidationError("locator", "unknown kind "+string(r.Locator.Kind))
	}
	pg, _, err := d.pageFor(ctx, r.PageRef)
	if err != nil {
		return nil, err
	}
	h, err := pg.Locate(ctx, r.Locator)
	if apperr.IsNotFound(err) {
		return FieldCheck{Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	check := FieldCheck{
		Found:       true,
		XPath:       h.XPath,
		Value:       pg.Read(h),
		ElementType: h.Element().ElementType(),
		Visible:     pg.IsVisible(h),
		Safe:        true,
	}
	if err := fill.CheckSafe(h.Element()); err != nil {
		check.Safe, check.Reason = false, err.Error()
	}
	return check, nil
}

func (d *Dispatcher) testPattern(ctx context.Context, ref schemas.PageRef, pattern string, kind schemas.LocatorKind) (*locator.PatternReport, error) {
	pg, _, err := d.pageFor(ctx, ref)
	if err != nil {
		return nil, err
	}
	doc, err := pg.Document(ctx)
	if err != nil {
		return nil, err
	}
	return d.deps.Resolver.TestPattern(ctx, doc, pattern, kind)
}

// HighlightReport is the answer to highlightRegexMatches.
type HighlightReport struct {
	Matches     []locator.PatternMatch `json:"matches"`
	Highlighted string                 `json:"highlighted,omitempty"`
}

// highlight lists a pattern's matches and marks the element the locator resolves to.
func (d *Dispatcher) highlight(ctx context.Context, r *schemas.HighlightRegexMatchesRequest) (any, error) {
	pg, _, err := d.pageFor(ctx, r.PageRef)
	if err != nil {
		return nil, err
	}
	doc, err := pg.Document(ctx)
	if err != nil {
		return nil, err
	}
	report, err := d.deps.Resolver.TestPattern(ctx, doc, r.Pattern, r.Kind)
	if err != nil {
		return nil, err
	}
	out := HighlightReport{Matches: report.Matches}
	if len(report.Matches) == 0 {
		return out, nil
	}
	h, err := pg.Highlight(ctx, schemas.LocatorCandidate{Kind: r.Kind, Pattern: r.Pattern})
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	if h != nil {
		out.Highlighted = h.XPath
	}
	return out, nil
}
