// internal/bridge/dispatch.go
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/config"
	"github.com/xkilldash9x/surveyfill/internal/fill"
	"github.com/xkilldash9x/surveyfill/internal/lifecycle"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/observability"
	"github.com/xkilldash9x/surveyfill/internal/ranking"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
	"github.com/xkilldash9x/surveyfill/internal/store"
	"github.com/xkilldash9x/surveyfill/internal/survey"
)

// Deps are the engine components the verbs operate on.
type Deps struct {
	Repo        *store.Repository
	Coordinator *lifecycle.Coordinator
	Tabs        *TabRegistry
	Detector    *survey.Detector
	Guard       *regexguard.Guard
	Resolver    *locator.Resolver
	Generator   *locator.Generator
	Ranking     *ranking.Engine
	Scanner     *fill.Scanner
	Executor    *fill.Executor
	Recorder    *fill.Recorder
}

// Dispatcher executes request variants.
type Dispatcher struct {
	deps   Deps
	cfg    config.AutofillConfig
	logger *zap.Logger
	now    func() time.Time

	// selection is the field picked on a page and not yet stored.
	mu        sync.Mutex
	selection *schemas.FieldRecord
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(deps Deps, cfg config.AutofillConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{deps: deps, cfg: cfg, logger: logger.Named("dispatch"), now: time.Now}
}

// Dispatch runs one request and returns the data for the success envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, req schemas.Request) (any, error) {
	switch r := req.(type) {
	// -- Fields --
	case *schemas.FieldSelectedRequest:
		return d.fieldSelected(r)
	case *schemas.CheckFieldSelectionRequest:
		d.mu.Lock()
		defer d.mu.Unlock()
		return map[string]any{"fieldSelectionData": d.selection}, nil
	case *schemas.StoreFieldSelectionRequest:
		return d.storeField(ctx, r.Field)
	case *schemas.DeleteFieldRequest:
		if r.ID == "" {
			return nil, apperr.NewValidationError("id", "must not be empty")
		}
		return nil, d.deps.Repo.DeleteField(ctx, r.ID)
	case *schemas.ListFieldsRequest:
		return d.deps.Repo.Fields(ctx)

	// -- Domain rules --
	case *schemas.UpsertDomainRuleRequest:
		for _, id := range r.Rule.SpecificFieldIDs {
			if strings.TrimSpace(id) == "" {
				return nil, apperr.NewValidationError("specificFields", "field ids must not be empty")
			}
		}
		return nil, d.deps.Repo.UpsertDomainRule(ctx, r.Rule, r.Replace)
	case *schemas.DeleteDomainRuleRequest:
		return nil, d.deps.Repo.DeleteDomainRule(ctx, r.Domain)
	case *schemas.ListDomainRulesRequest:
		return d.deps.Repo.DomainRules(ctx)
	case *schemas.CheckDomainAutoFillRequest:
		return d.checkDomain(ctx, r.URL)

	// -- Surveys --
	case *schemas.GetSurveyStatsRequest:
		return d.deps.Repo.Stats(ctx)
	case *schemas.GetSurveyQueueRequest:
		return d.deps.Coordinator.Queue(), nil
	case *schemas.ConfirmSurveyInProgressRequest:
		return d.deps.Coordinator.Confirm(ctx, r.TabID, r.SelectedSegment)
	case *schemas.GetInProgressSurveysRequest:
		return d.deps.Repo.Surveys(ctx, schemas.StatusInProgress)
	case *schemas.GetCompletedSurveysRequest:
		return d.deps.Repo.Surveys(ctx, schemas.StatusCompleted)
	case *schemas.MarkSurveyCompletedRequest:
		return d.deps.Coordinator.Complete(ctx, r.SurveyID)
	case *schemas.RemoveSurveyFromInProgressRequest:
		return nil, d.deps.Coordinator.Discard(ctx, r.SurveyID)
	case *schemas.DismissSurveyFromQueueRequest:
		return map[string]bool{"dismissed": d.deps.Coordinator.Dismiss(r.TabID)}, nil
	case *schemas.GetCurrentTabSurveyRequest:
		s, ok := d.deps.Coordinator.Session(r.TabID)
		if !ok {
			return map[string]any{"session": nil}, nil
		}
		return map[string]any{"session": s}, nil
	case *schemas.MarkCurrentSurveyCompletedRequest:
		return d.deps.Coordinator.MarkCurrentCompleted(ctx, r.TabID)
	case *schemas.DeleteSurveyRequest:
		return nil, d.deps.Repo.RemoveSurvey(ctx, r.Status, r.SurveyID)
	case *schemas.BulkDeleteSurveysRequest:
		n, err := d.deps.Repo.DeleteSurveys(ctx, r.Status, r.SurveyIDs)
		if err != nil {
			return nil, err
		}
		return map[string]int{"deleted": n}, nil
	case *schemas.ClearSurveyHistoryRequest:
		return nil, d.deps.Repo.ClearSurveys(ctx)
	case *schemas.CleanupInvalidSurveysRequest:
		n, err := d.deps.Repo.CleanupInvalid(ctx, survey.IsValidID)
		if err != nil {
			return nil, err
		}
		return map[string]int{"removed": n}, nil
	case *schemas.TestSurveyDetectionRequest:
		return d.testDetection(ctx, r)

	// -- Tab events --
	case *schemas.TabUpdatedRequest:
		if r.TabID == 0 {
			return nil, apperr.NewValidationError("tabId", "must be set")
		}
		d.deps.Tabs.Update(*r)
		d.deps.Coordinator.TabUpdated(r.TabID, r.Status)
		return nil, nil
	case *schemas.TabActivatedRequest:
		d.deps.Tabs.Activate(r.TabID)
		d.deps.Coordinator.TabActivated(ctx, r.TabID)
		return nil, nil
	case *schemas.TabRemovedRequest:
		d.deps.Tabs.Remove(r.TabID)
		d.deps.Coordinator.TabRemoved(r.TabID)
		return nil, nil

	// -- Page operations --
	case *schemas.DetectFieldsRequest:
		return d.detectFields(ctx, r)
	case *schemas.GenerateCandidatesRequest:
		return d.generateCandidates(ctx, r)
	case *schemas.FillFieldsRequest:
		return d.fillFields(ctx, r)
	case *schemas.TestFieldRequest:
		return d.testField(ctx, r)
	case *schemas.TestRegexPatternRequest:
		return d.testPattern(ctx, r.PageRef, r.Pattern, r.Kind)
	case *schemas.HighlightRegexMatchesRequest:
		return d.highlight(ctx, r)

	// -- Options --
	case *schemas.GetOptionsRequest:
		return d.deps.Repo.Options(ctx)
	case *schemas.SetOptionsRequest:
		if err := d.deps.Repo.SetOptions(ctx, r.Options); err != nil {
			return nil, err
		}
		observability.SetDebug(r.Options.DebugMode)
		return r.Options, nil
	case *schemas.EnableDebugModeRequest:
		opts, err := d.deps.Repo.UpdateOptions(ctx, func(o *schemas.Options) { o.DebugMode = r.Enabled })
		if err != nil {
			return nil, err
		}
		observability.SetDebug(opts.DebugMode)
		return opts, nil
	case *schemas.ToggleIframeSupportRequest:
		return d.deps.Repo.UpdateOptions(ctx, func(o *schemas.Options) { o.IframeSupportEnabled = r.Enabled })
	}
	return nil, apperr.NewValidationError("command", fmt.Sprintf("unsupported request %T", req))
}

func (d *Dispatcher) fieldSelected(r *schemas.FieldSelectedRequest) (any, error) {
	if err := fill.ValidateInput(r.Field, d.deps.Guard); err != nil {
		return nil, err
	}
	rec := fill.NewRecord(r.Field, d.now())
	if rec.Domain == "" {
		if tab, ok := d.deps.Tabs.Tab(r.TabID); ok {
			rec.Domain = survey.Hostname(tab.URL)
		}
	}
	d.mu.Lock()
	d.selection = &rec
	d.mu.Unlock()
	d.logger.Debug("Field selected", zap.String("field_id", rec.ID), zap.String("domain", rec.Domain))
	return rec, nil
}

// storeField validates and persists a field. Storing clears the pending selection.
func (d *Dispatcher) storeField(ctx context.Context, in schemas.FieldInput) (any, error) {
	if err := fill.ValidateInput(in, d.deps.Guard); err != nil {
		return nil, err
	}
	rec := fill.NewRecord(in, d.now())
	if err := d.deps.Repo.AddField(ctx, rec); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.selection = nil
	d.mu.Unlock()
	d.logger.Info("Field stored", zap.String("field_id", rec.ID), zap.Int("locators", len(rec.Locators)))
	return rec, nil
}

func (d *Dispatcher) checkDomain(ctx context.Context, rawURL string) (any, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, apperr.NewValidationError("url", "no URL provided")
	}
	rules, err := d.deps.Repo.DomainRules(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := d.deps.Repo.Fields(ctx)
	if err != nil {
		return nil, err
	}
	return survey.CheckDomainAutoFill(rawURL, rules, fields, d.cfg.DefaultDomainDelay), nil
}

// DetectionReport is the answer to testSurveyDetection.
type DetectionReport struct {
	Survey      *schemas.SurveyInfo `json:"surveyInfo"`
	Configured  bool                `json:"isConfiguredDomain"`
	LoginPage   bool                `json:"isLoginPage"`
	ExtractedID string              `json:"extractedId"`
}

func (d *Dispatcher) testDetection(ctx context.Context, r *schemas.TestSurveyDetectionRequest) (any, error) {
	if strings.TrimSpace(r.URL) == "" {
		return nil, apperr.NewValidationError("url", "no URL provided")
	}
	rules, err := d.deps.Repo.DomainRules(ctx)
	if err != nil {
		return nil, err
	}
	rule, ok := survey.FindRule(rules, survey.Hostname(r.URL))
	configured := ok && rule.Enabled
	return DetectionReport{
		Survey:      d.deps.Detector.Detect(r.URL, r.Title, configured),
		Configured:  configured,
		LoginPage:   survey.IsLoginPage(r.URL),
		ExtractedID: survey.ExtractID(r.URL),
	}, nil
}
