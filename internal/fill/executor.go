// internal/fill/executor.go
package fill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
)

// Executor writes stored field values into a page.
type Executor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger.Named("fill"), now: time.Now}
}

// Fill attempts every usable field in order and returns one result per attempted field. Fields that
// cannot be attempted are dropped with a warning. A field succeeds only when one of its locators
// resolves to a visible element that passes CheckSafe and the write goes through; the element is
// tagged as ours before it is written.
func (e *Executor) Fill(ctx context.Context, pg *page.Page, fields []schemas.FieldRecord) []schemas.FillResult {
	results := make([]schemas.FillResult, 0, len(fields))
	for _, f := range fields {
		if !Usable(f) {
			e.logger.Warn("Skipping invalid field", zap.String("field_id", f.ID))
			continue
		}
		if err := ctx.Err(); err != nil {
			results = append(results, schemas.FillResult{ID: f.ID, Status: schemas.FillError, Message: err.Error(), Label: f.Label})
			continue
		}
		results = append(results, e.fillOne(ctx, pg, f))
	}
	return results
}

func (e *Executor) fillOne(ctx context.Context, pg *page.Page, f schemas.FieldRecord) schemas.FillResult {
	start := e.now()
	res := schemas.FillResult{ID: f.ID, Label: f.Label}
	locators := f.OrderedLocators()
	res.Kind, res.Pattern = locators[0].Kind, locators[0].Pattern

	finish := func(status schemas.FillStatus, msg string) schemas.FillResult {
		res.Status = status
		res.Message = msg
		res.LatencyMs = e.now().Sub(start).Milliseconds()
		return res
	}

	// Candidates resolving to something that is not a control at all are passed over so a later
	// locator gets its chance.
	h, cand, err := pg.LocateFirst(ctx, locators, func(el *dom.Element) bool {
		return el.IsFormControl() || el.IsContentEditable()
	})
	if err != nil {
		e.logger.Debug("Field not found", zap.String("field_id", f.ID), zap.Error(err))
		return finish(schemas.FillError, MessageUnavailable)
	}
	el := h.Element()
	res.Kind, res.Pattern = cand.Kind, cand.Pattern
	res.ElementType = el.ElementType()

	if err := CheckSafe(el); err != nil {
		if Skippable(err) {
			return finish(schemas.FillSkipped, MessageForeignOwner)
		}
		e.logger.Debug("Refusing unsafe element", zap.String("field_id", f.ID), zap.Error(err))
		return finish(schemas.FillError, MessageUnavailable)
	}
	if !pg.IsVisible(h) {
		return finish(schemas.FillError, MessageUnavailable)
	}

	if err := pg.MarkOwned(ctx, h); err != nil {
		return finish(schemas.FillError, err.Error())
	}
	if err := pg.Write(ctx, h, f.Value); err != nil {
		e.logger.Debug("Write failed", zap.String("field_id", f.ID), zap.String("xpath", h.XPath), zap.Error(err))
		return finish(schemas.FillError, err.Error())
	}
	return finish(schemas.FillSuccess, "")
}

// Summary counts the successful results.
func Summary(results []schemas.FillResult) (filled int, rate float64) {
	if len(results) == 0 {
		return 0, 0
	}
	for _, r := range results {
		if r.Status == schemas.FillSuccess {
			filled++
		}
	}
	return filled, float64(filled) / float64(len(results))
}
