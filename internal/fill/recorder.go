// internal/fill/recorder.go
package fill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/ranking"
)

// Store is the part of the repository the recorder writes to.
type Store interface {
	AppendAutoFillLog(ctx context.Context, entry schemas.AutoFillLog) error
	UpdateFields(ctx context.Context, fn func(fields []schemas.FieldRecord) bool) error
	RecordOutcomes(ctx context.Context, outcomes []ranking.Outcome) error
}

// Recorder persists what a fill batch did: a log entry, per-field usage and performance, and the
// outcomes of regex locators for the learned-pattern table.
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.Named("fill_recorder"), now: time.Now}
}

// Record writes all three kinds of bookkeeping for results. Each step is attempted even when an
// earlier one fails; the failures are returned joined.
func (r *Recorder) Record(ctx context.Context, domain string, results []schemas.FillResult) error {
	if len(results) == 0 {
		return nil
	}
	now := r.now()
	var errs []error

	entry := schemas.AutoFillLog{
		Timestamp: now,
		Domain:    domain,
		Results:   results,
	}
	_, entry.Performance.SuccessRate = Summary(results)
	for _, res := range results {
		entry.Performance.TotalTimeMs += res.LatencyMs
	}
	if err := r.store.AppendAutoFillLog(ctx, entry); err != nil {
		errs = append(errs, fmt.Errorf("append autofill log: %w", err))
	}

	if err := r.store.UpdateFields(ctx, func(fields []schemas.FieldRecord) bool {
		return applyPerformance(fields, results, now)
	}); err != nil {
		errs = append(errs, fmt.Errorf("update field performance: %w", err))
	}

	if outcomes := Outcomes(domain, results, now); len(outcomes) > 0 {
		if err := r.store.RecordOutcomes(ctx, outcomes); err != nil {
			errs = append(errs, fmt.Errorf("record pattern outcomes: %w", err))
		}
	}

	if len(errs) == 0 {
		r.logger.Debug("Recorded fill batch", zap.String("domain", domain), zap.Int("results", len(results)))
	}
	return errors.Join(errs...)
}

// applyPerformance folds results into the matching fields. Skipped results do not count as use.
func applyPerformance(fields []schemas.FieldRecord, results []schemas.FillResult, now time.Time) bool {
	byID := make(map[string]int, len(fields))
	for i, f := range fields {
		byID[f.ID] = i
	}
	changed := false
	for _, res := range results {
		i, ok := byID[res.ID]
		if !ok || res.Status == schemas.FillSkipped {
			continue
		}
		f := &fields[i]
		f.UsageCount++
		at := now
		f.LastUsedAt = &at

		p := &f.Performance
		if res.Status == schemas.FillSuccess {
			p.SuccessCount++
		} else {
			p.FailureCount++
		}
		n := float64(p.SuccessCount + p.FailureCount)
		p.AverageLatencyMs = (p.AverageLatencyMs*(n-1) + float64(res.LatencyMs)) / n
		changed = true
	}
	return changed
}

// Outcomes converts results whose locator was a regex into learning outcomes.
func Outcomes(domain string, results []schemas.FillResult, now time.Time) []ranking.Outcome {
	var out []ranking.Outcome
	for _, res := range results {
		if !res.Kind.IsRegex() || res.Pattern == "" || res.Status == schemas.FillSkipped {
			continue
		}
		out = append(out, ranking.Outcome{
			Kind:        res.Kind,
			Pattern:     res.Pattern,
			Success:     res.Status == schemas.FillSuccess,
			Domain:      domain,
			Label:       res.Label,
			ElementType: res.ElementType,
			At:          now,
		})
	}
	return out
}

// Notice is the text shown after an autofill that wrote at least one field.
func Notice(filled int, platform string, iframes bool) string {
	msg := fmt.Sprintf("Auto-filled %d field(s)", filled)
	if platform != "" {
		msg += fmt.Sprintf(" (%s survey)", platform)
	}
	if iframes {
		msg += " [including iframes]"
	}
	return msg
}
