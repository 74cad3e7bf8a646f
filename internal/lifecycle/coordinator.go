// internal/lifecycle/coordinator.go

// Package lifecycle drives each tab through survey detection, autofill, confirmation and
// completion, and decides which notices the user sees.
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/config"
	"github.com/xkilldash9x/surveyfill/internal/dedup"
	"github.com/xkilldash9x/surveyfill/internal/fill"
	"github.com/xkilldash9x/surveyfill/internal/survey"
)

// ManualPlatform names surveys the user marked without a detection.
const ManualPlatform = "Manual Entry"

// Tab is what the coordinator needs to know about a browser tab.
type Tab struct {
	ID     int
	URL    string
	Title  string
	Active bool
}

// Tabs looks up live tabs and the pages behind them.
type Tabs interface {
	Tab(id int) (Tab, bool)
	Page(ctx context.Context, id int) (*page.Page, error)
}

// Notifier shows a notice inside a tab.
type Notifier interface {
	Notify(ctx context.Context, n schemas.Notification) error
}

// Store is the part of the repository the coordinator reads and transitions.
type Store interface {
	Fields(ctx context.Context) ([]schemas.FieldRecord, error)
	DomainRules(ctx context.Context) ([]schemas.DomainRule, error)
	Options(ctx context.Context) (schemas.Options, error)
	StartSurvey(ctx context.Context, rec schemas.SurveyRecord, now time.Time) (schemas.SurveyRecord, error)
	CompleteSurvey(ctx context.Context, id string, now time.Time) (schemas.SurveyRecord, error)
	RecordCompleted(ctx context.Context, rec schemas.SurveyRecord, now time.Time) (schemas.SurveyRecord, error)
	RemoveSurvey(ctx context.Context, status schemas.SurveyStatus, id string) error
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Store    Store
	Detector *survey.Detector
	Resolver *dedup.Resolver
	Executor *fill.Executor
	Recorder *fill.Recorder
	Tabs     Tabs
	Notifier Notifier
}

// Coordinator owns the per-tab sessions, the confirmation queue and the pending notifications.
// All three are in memory only.
type Coordinator struct {
	deps   Deps
	cfg    config.AutofillConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions *sessionTable
	pending  *pendingTable
	queue    *queue
	// visited is the URL each tab's pipeline last ran for; one navigation runs it once.
	visited map[int]string

	flights singleflight.Group
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Coordinator. Close releases the work it schedules.
func New(deps Deps, cfg config.AutofillConfig, logger *zap.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.Named("lifecycle"),
		now:      time.Now,
		sessions: newSessionTable(cfg.MaxSessions),
		pending:  newPendingTable(cfg.MaxPending),
		queue:    &queue{limit: cfg.QueueSize},
		visited:  make(map[int]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close cancels scheduled pipeline runs and waits for running ones to return.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// -- Tab events --

// TabUpdated schedules the pipeline once a tab has finished loading. A tab that navigated away
// from the URL it was processed for loses its session; a repeated event for the same URL is
// ignored.
func (c *Coordinator) TabUpdated(tabID int, status string) {
	if status != "complete" {
		return
	}
	tab, ok := c.deps.Tabs.Tab(tabID)
	if !ok {
		return
	}
	c.mu.Lock()
	last, seen := c.visited[tabID]
	if seen && last != tab.URL {
		delete(c.visited, tabID)
		c.sessions.delete(tabID)
		seen = false
	}
	c.mu.Unlock()
	if seen {
		return
	}
	c.schedule(tabID, c.cfg.LoadSettleDelay)
}

// TabActivated delivers the tab's pending notification, or runs the pipeline for a tab that has
// no session yet.
func (c *Coordinator) TabActivated(ctx context.Context, tabID int) {
	c.mu.Lock()
	n, ok := c.pending.take(tabID)
	_, hasSession := c.sessions.get(tabID)
	c.mu.Unlock()

	if ok {
		if err := c.deps.Notifier.Notify(ctx, n); err != nil {
			c.logger.Warn("Failed to deliver pending notification", zap.Int("tab_id", tabID), zap.Error(err))
		}
		return
	}
	if hasSession {
		return
	}
	if tab, found := c.deps.Tabs.Tab(tabID); !found || !isWebURL(tab.URL) {
		return
	}
	c.schedule(tabID, c.cfg.ActivationSettleDelay)
}

// TabRemoved forgets everything held for the tab.
func (c *Coordinator) TabRemoved(tabID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions.delete(tabID)
	c.pending.delete(tabID)
	c.queue.remove(tabID)
	delete(c.visited, tabID)
}

func (c *Coordinator) schedule(tabID int, delay time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
		}
		if err := c.Process(c.ctx, tabID); err != nil {
			c.logger.Warn("Survey pipeline failed", zap.Int("tab_id", tabID), zap.Error(err))
		}
	}()
}

// -- Pipeline --

// Process runs detection, duplicate resolution, autofill and enqueueing for a tab. Concurrent
// calls for the same tab share one run.
func (c *Coordinator) Process(ctx context.Context, tabID int) error {
	_, err, _ := c.flights.Do(strconv.Itoa(tabID), func() (any, error) {
		return nil, c.process(ctx, tabID)
	})
	return err
}

func (c *Coordinator) process(ctx context.Context, tabID int) error {
	tab, ok := c.deps.Tabs.Tab(tabID)
	if !ok {
		c.logger.Debug("Tab is gone, skipping pipeline", zap.Int("tab_id", tabID))
		return nil
	}
	if !isWebURL(tab.URL) {
		return nil
	}
	if !c.claim(tabID, tab.URL) {
		c.logger.Debug("Pipeline already ran for this page", zap.Int("tab_id", tabID), zap.String("url", tab.URL))
		return nil
	}

	decision, err := c.decide(ctx, tab.URL)
	if err != nil {
		c.release(tabID)
		return err
	}

	info := c.deps.Detector.Detect(tab.URL, tab.Title, decision.Configured)
	if info == nil {
		if decision.ShouldFill {
			results := c.autofill(ctx, tab, decision)
			c.notifyFilled(ctx, tab, results, "")
		}
		return nil
	}

	match, err := c.deps.Resolver.Resolve(ctx, tab.URL, info.ID)
	if err != nil {
		c.release(tabID)
		return fmt.Errorf("resolve survey %s: %w", info.ID, err)
	}

	session := schemas.TabSurveySession{TabID: tabID, SurveyInfo: *info, Timestamp: c.now()}
	if match != nil {
		session.Known = true
		c.mu.Lock()
		c.sessions.put(session)
		c.mu.Unlock()
		c.logger.Info("Known survey", zap.Int("tab_id", tabID), zap.String("survey_id", match.Record.ID),
			zap.String("status", string(match.Status)), zap.String("reason", string(match.Reason)))
		c.deliver(ctx, c.knownNotice(tabID, match))
		return nil
	}

	if decision.ShouldFill {
		results := c.autofill(ctx, tab, decision)
		filled, _ := fill.Summary(results)
		session.FieldResults = results
		session.FieldsFilledCount = filled
		if filled > 0 {
			at := c.now()
			session.Autofilled = true
			session.AutofilledAt = &at
		}
		c.notifyFilled(ctx, tab, results, info.Platform)
	}

	entry := schemas.QueueEntry{
		TabID:             tabID,
		SurveyInfo:        *info,
		Autofilled:        session.Autofilled,
		FieldsFilledCount: session.FieldsFilledCount,
		FieldResults:      session.FieldResults,
		QueuedAt:          c.now(),
	}
	c.mu.Lock()
	c.sessions.put(session)
	c.queue.push(entry)
	c.mu.Unlock()

	c.logger.Info("New survey queued for confirmation", zap.Int("tab_id", tabID),
		zap.String("survey_id", info.ID), zap.String("platform", info.Platform), zap.Int("filled", entry.FieldsFilledCount))
	c.deliver(ctx, schemas.Notification{
		TabID:      tabID,
		Kind:       schemas.NoticeSurvey,
		Message:    surveyPrompt(info),
		DurationMs: int(c.cfg.NoticeDuration.Milliseconds()),
		CreatedAt:  c.now(),
		Survey:     &entry,
	})
	return nil
}

// claim marks rawURL as processed for the tab and reports false when it already was.
func (c *Coordinator) claim(tabID int, rawURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visited[tabID] == rawURL {
		return false
	}
	c.visited[tabID] = rawURL
	return true
}

// release lets a failed run be retried.
func (c *Coordinator) release(tabID int) {
	c.mu.Lock()
	delete(c.visited, tabID)
	c.mu.Unlock()
}

func (c *Coordinator) decide(ctx context.Context, rawURL string) (survey.AutoFillDecision, error) {
	rules, err := c.deps.Store.DomainRules(ctx)
	if err != nil {
		return survey.AutoFillDecision{}, err
	}
	fields, err := c.deps.Store.Fields(ctx)
	if err != nil {
		return survey.AutoFillDecision{}, err
	}
	return survey.CheckDomainAutoFill(rawURL, rules, fields, c.cfg.DefaultDomainDelay), nil
}

// autofill fills the decided fields after the domain's delay. Failures to reach the page or to
// record the batch are logged; the pipeline carries on with whatever results exist.
func (c *Coordinator) autofill(ctx context.Context, tab Tab, decision survey.AutoFillDecision) []schemas.FillResult {
	if decision.Delay > 0 {
		t := time.NewTimer(decision.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}

	pg, err := c.deps.Tabs.Page(ctx, tab.ID)
	if err != nil {
		c.logger.Warn("No page to autofill", zap.Int("tab_id", tab.ID), zap.Error(err))
		return nil
	}
	results := c.deps.Executor.Fill(ctx, pg, decision.Fields)
	if err := c.deps.Recorder.Record(ctx, survey.Hostname(tab.URL), results); err != nil {
		c.logger.Warn("Failed to record autofill", zap.Int("tab_id", tab.ID), zap.Error(err))
	}
	return results
}

// notifyFilled shows the autofill notice on an active tab when the user wants it.
func (c *Coordinator) notifyFilled(ctx context.Context, tab Tab, results []schemas.FillResult, platform string) {
	filled, _ := fill.Summary(results)
	if filled == 0 {
		return
	}
	opts, err := c.deps.Store.Options(ctx)
	if err != nil {
		c.logger.Warn("Could not read options", zap.Error(err))
		opts = schemas.DefaultOptions()
	}
	if !opts.NotifyOnAutoFill {
		return
	}
	current, ok := c.deps.Tabs.Tab(tab.ID)
	if !ok || !current.Active {
		return
	}
	n := schemas.Notification{
		TabID:      tab.ID,
		Kind:       schemas.NoticeSuccess,
		Message:    fill.Notice(filled, platform, opts.IframeSupportEnabled),
		DurationMs: int(c.cfg.NoticeDuration.Milliseconds()),
		CreatedAt:  c.now(),
	}
	if err := c.deps.Notifier.Notify(ctx, n); err != nil {
		c.logger.Debug("Autofill notice not shown", zap.Int("tab_id", tab.ID), zap.Error(err))
	}
}

// deliver shows n now when its tab is active and stores it as pending otherwise, including when
// the tab no longer exists or the notifier fails.
func (c *Coordinator) deliver(ctx context.Context, n schemas.Notification) {
	if tab, ok := c.deps.Tabs.Tab(n.TabID); ok && tab.Active {
		err := c.deps.Notifier.Notify(ctx, n)
		if err == nil {
			return
		}
		c.logger.Warn("Notification failed, keeping it pending", zap.Int("tab_id", n.TabID), zap.Error(err))
	}
	c.mu.Lock()
	c.pending.put(n)
	c.mu.Unlock()
}

// -- Queue and transitions --

// Queue returns the surveys awaiting confirmation, newest first.
func (c *Coordinator) Queue() []schemas.QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.snapshot()
}

// Session returns the survey detected in a tab.
func (c *Coordinator) Session(tabID int) (schemas.TabSurveySession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.get(tabID)
}

// PendingFor reports whether a notification waits for the tab.
func (c *Coordinator) PendingFor(tabID int) (schemas.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.pending.byID[tabID]
	return n, ok
}

// Dismiss drops the tab's queued survey and reports whether there was one.
func (c *Coordinator) Dismiss(tabID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.remove(tabID)
}

// Confirm persists the tab's queued survey as in progress. A selected URL segment replaces the
// detected id. The queue entry is only removed once the record is stored.
func (c *Coordinator) Confirm(ctx context.Context, tabID int, selected *schemas.URLSegment) (schemas.SurveyRecord, error) {
	c.mu.Lock()
	entry, ok := c.queue.find(tabID)
	if !ok {
		if s, found := c.sessions.get(tabID); found && !s.Known {
			entry = schemas.QueueEntry{
				TabID: tabID, SurveyInfo: s.SurveyInfo, Autofilled: s.Autofilled,
				FieldsFilledCount: s.FieldsFilledCount, FieldResults: s.FieldResults,
			}
			ok = true
		}
	}
	c.mu.Unlock()
	if !ok {
		return schemas.SurveyRecord{}, apperr.NewNotFoundError("queued survey", fmt.Sprintf("tab %d", tabID))
	}

	info := entry.SurveyInfo
	id := info.ID
	if selected != nil && strings.TrimSpace(selected.Value) != "" {
		id = strings.TrimSpace(selected.Value)
	}
	rec, err := c.deps.Store.StartSurvey(ctx, schemas.SurveyRecord{
		ID:                id,
		URL:               info.URL,
		Title:             info.Title,
		Platform:          info.Platform,
		URLSegments:       info.URLSegments,
		Autofilled:        entry.Autofilled,
		FieldsFilledCount: entry.FieldsFilledCount,
		FieldResults:      entry.FieldResults,
		TabID:             tabID,
	}, c.now())
	if err != nil {
		return schemas.SurveyRecord{}, err
	}

	c.mu.Lock()
	c.queue.remove(tabID)
	c.mu.Unlock()
	c.logger.Info("Survey confirmed in progress", zap.Int("tab_id", tabID), zap.String("survey_id", rec.ID))
	return rec, nil
}

// Complete moves an in-progress survey to the completed collection. Completing a survey that is
// already completed returns it unchanged.
func (c *Coordinator) Complete(ctx context.Context, id string) (schemas.SurveyRecord, error) {
	rec, err := c.deps.Store.CompleteSurvey(ctx, id, c.now())
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	c.logger.Info("Survey completed", zap.String("survey_id", id), zap.Int64("time_spent_ms", rec.TimeSpentMs))
	return rec, nil
}

// Discard drops an in-progress survey without completing it.
func (c *Coordinator) Discard(ctx context.Context, id string) error {
	return c.deps.Store.RemoveSurvey(ctx, schemas.StatusInProgress, id)
}

// MarkCurrentCompleted records the survey open in a tab as completed, creating a manual entry when
// nothing is detected there. It fails with a ConflictError when the survey is already completed.
func (c *Coordinator) MarkCurrentCompleted(ctx context.Context, tabID int) (schemas.SurveyRecord, error) {
	tab, ok := c.deps.Tabs.Tab(tabID)
	if !ok {
		return schemas.SurveyRecord{}, apperr.NewNotFoundError("tab", strconv.Itoa(tabID))
	}
	rules, err := c.deps.Store.DomainRules(ctx)
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	rule, configured := survey.FindRule(rules, survey.Hostname(tab.URL))
	configured = configured && rule.Enabled

	var rec schemas.SurveyRecord
	if info := c.deps.Detector.Detect(tab.URL, tab.Title, configured); info != nil {
		rec = schemas.SurveyRecord{
			ID: info.ID, URL: info.URL, Title: info.Title, Platform: info.Platform, URLSegments: info.URLSegments,
		}
	} else {
		title := tab.Title
		if title == "" {
			title = "Unknown Page"
		}
		rec = schemas.SurveyRecord{ID: "manual_" + uuid.NewString(), URL: tab.URL, Title: title, Platform: ManualPlatform}
	}
	if s, found := c.Session(tabID); found && s.SurveyInfo.ID == rec.ID {
		rec.Autofilled = s.Autofilled
		rec.FieldsFilledCount = s.FieldsFilledCount
		rec.FieldResults = s.FieldResults
	}

	out, err := c.deps.Store.RecordCompleted(ctx, rec, c.now())
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	c.Dismiss(tabID)
	return out, nil
}

// -- Sweeper --

// Sweep drops sessions idle longer than the configured TTL.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	gone := c.sessions.expire(c.now(), c.cfg.SessionIdleTTL)
	for _, id := range gone {
		delete(c.visited, id)
	}
	n := len(gone)
	if n > 0 {
		c.logger.Debug("Expired idle sessions", zap.Int("count", n))
	}
	return n
}

// RunSweeper sweeps on the configured interval until ctx is cancelled.
func (c *Coordinator) RunSweeper(ctx context.Context) error {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func isWebURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
