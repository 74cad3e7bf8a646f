// internal/store/repository.go

// Package store persists the engine's collections (fields, domain rules, survey records, autofill
// logs, learned patterns and options) as one JSON value per key over a pluggable KV backend.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/config"
	"github.com/xkilldash9x/surveyfill/internal/ranking"
)

// Collection keys.
const (
	KeyFields          = "fields"
	KeyDomains         = "domains"
	KeyCompleted       = "completedSurveys"
	KeyInProgress      = "inProgressSurveys"
	KeyAutoFillLogs    = "autoFillLogs"
	KeyLearnedPatterns = "learnedPatterns"
	KeyOptions         = "options"
)

const recentSurveysShown = 10

// Limits caps the bounded collections. Oldest entries are trimmed first.
type Limits struct {
	MaxCompleted       int
	MaxInProgress      int
	MaxAutoFillLogs    int
	MaxPatternContexts int
}

// DefaultLimits matches the configuration defaults.
func DefaultLimits() Limits {
	return Limits{MaxCompleted: 1000, MaxInProgress: 50, MaxAutoFillLogs: 100, MaxPatternContexts: ranking.DefaultMaxContexts}
}

// LimitsFromConfig reads the caps from the storage section.
func LimitsFromConfig(cfg config.StorageConfig) Limits {
	return Limits{
		MaxCompleted:       cfg.MaxCompleted,
		MaxInProgress:      cfg.MaxInProgress,
		MaxAutoFillLogs:    cfg.MaxAutoFillLogs,
		MaxPatternContexts: cfg.MaxPatternContexts,
	}
}

// Repository is the typed view over the persisted collections. Every read-modify-write runs under
// one mutex, and a survey id lives in at most one of the two survey collections.
type Repository struct {
	kv     KV
	limits Limits
	mu     sync.Mutex
	logger *zap.Logger
}

// NewRepository creates a Repository over kv.
func NewRepository(kv KV, limits Limits, logger *zap.Logger) *Repository {
	return &Repository{kv: kv, limits: limits, logger: logger.Named("store")}
}

func load[T any](ctx context.Context, r *Repository, key string, dst *T) error {
	data, ok, err := r.kv.Get(ctx, key)
	if err != nil {
		return apperr.NewStorageError("read", key, err)
	}
	if !ok || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.NewStorageError("decode", key, err)
	}
	return nil
}

func encode(key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.NewStorageError("encode", key, err)
	}
	return data, nil
}

func (r *Repository) save(ctx context.Context, key string, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, key, data); err != nil {
		return apperr.NewStorageError("write", key, err)
	}
	return nil
}

// saveMany writes several collections together.
func (r *Repository) saveMany(ctx context.Context, values map[string]any) error {
	entries := make(map[string][]byte, len(values))
	keys := make([]string, 0, len(values))
	for k, v := range values {
		data, err := encode(k, v)
		if err != nil {
			return err
		}
		entries[k] = data
		keys = append(keys, k)
	}
	if err := r.kv.SetMany(ctx, entries); err != nil {
		slices.Sort(keys)
		return apperr.NewStorageError("write", strings.Join(keys, ","), err)
	}
	return nil
}

// -- Fields --

// Fields returns the stored field records.
func (r *Repository) Fields(ctx context.Context) ([]schemas.FieldRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fields(ctx)
}

func (r *Repository) fields(ctx context.Context) ([]schemas.FieldRecord, error) {
	out := []schemas.FieldRecord{}
	if err := load(ctx, r, KeyFields, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddField stores a new field. An existing id is a ConflictError.
func (r *Repository) AddField(ctx context.Context, f schemas.FieldRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fields, err := r.fields(ctx)
	if err != nil {
		return err
	}
	if slices.ContainsFunc(fields, func(x schemas.FieldRecord) bool { return x.ID == f.ID }) {
		return apperr.NewConflictError("field "+f.ID, "a field with this id already exists")
	}
	return r.save(ctx, KeyFields, append(fields, f))
}

// DeleteField removes a field by id.
func (r *Repository) DeleteField(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fields, err := r.fields(ctx)
	if err != nil {
		return err
	}
	n := len(fields)
	fields = slices.DeleteFunc(fields, func(x schemas.FieldRecord) bool { return x.ID == id })
	if len(fields) == n {
		return apperr.NewNotFoundError("field", id)
	}
	return r.save(ctx, KeyFields, fields)
}

// UpdateFields applies fn to the stored fields and saves them when fn reports a change.
func (r *Repository) UpdateFields(ctx context.Context, fn func(fields []schemas.FieldRecord) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fields, err := r.fields(ctx)
	if err != nil {
		return err
	}
	if !fn(fields) {
		return nil
	}
	return r.save(ctx, KeyFields, fields)
}

// -- Domain rules --

// DomainRules returns the configured domain rules in their stored order.
func (r *Repository) DomainRules(ctx context.Context) ([]schemas.DomainRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.domainRules(ctx)
}

func (r *Repository) domainRules(ctx context.Context) ([]schemas.DomainRule, error) {
	out := []schemas.DomainRule{}
	if err := load(ctx, r, KeyDomains, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertDomainRule adds rule, or replaces the rule with the same pattern when replace is set.
// A duplicate pattern without replace is a ConflictError.
func (r *Repository) UpsertDomainRule(ctx context.Context, rule schemas.DomainRule, replace bool) error {
	rule.DomainPattern = strings.ToLower(strings.TrimSpace(rule.DomainPattern))
	if rule.DomainPattern == "" {
		return apperr.NewValidationError("domain", "must not be empty")
	}
	if rule.DelayMs < 0 {
		return apperr.NewValidationError("delay", "must not be negative")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rules, err := r.domainRules(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(rules, func(x schemas.DomainRule) bool { return strings.EqualFold(x.DomainPattern, rule.DomainPattern) })
	switch {
	case i >= 0 && !replace:
		return apperr.NewConflictError("domain "+rule.DomainPattern, "a rule for this domain already exists")
	case i >= 0:
		rules[i] = rule
	default:
		rules = append(rules, rule)
	}
	return r.save(ctx, KeyDomains, rules)
}

// DeleteDomainRule removes the rule with the given pattern.
func (r *Repository) DeleteDomainRule(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rules, err := r.domainRules(ctx)
	if err != nil {
		return err
	}
	n := len(rules)
	rules = slices.DeleteFunc(rules, func(x schemas.DomainRule) bool { return strings.EqualFold(x.DomainPattern, pattern) })
	if len(rules) == n {
		return apperr.NewNotFoundError("domain rule", pattern)
	}
	return r.save(ctx, KeyDomains, rules)
}

// -- Surveys --

func surveyKey(status schemas.SurveyStatus) (string, error) {
	switch status {
	case schemas.StatusCompleted:
		return KeyCompleted, nil
	case schemas.StatusInProgress:
		return KeyInProgress, nil
	}
	return "", apperr.NewValidationError("status", fmt.Sprintf("unknown survey status %q", status))
}

// Surveys returns one survey collection, newest first.
func (r *Repository) Surveys(ctx context.Context, status schemas.SurveyStatus) ([]schemas.SurveyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surveys(ctx, status)
}

func (r *Repository) surveys(ctx context.Context, status schemas.SurveyStatus) ([]schemas.SurveyRecord, error) {
	key, err := surveyKey(status)
	if err != nil {
		return nil, err
	}
	out := []schemas.SurveyRecord{}
	if err := load(ctx, r, key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) bothSurveys(ctx context.Context) (completed, inProgress []schemas.SurveyRecord, err error) {
	if completed, err = r.surveys(ctx, schemas.StatusCompleted); err != nil {
		return nil, nil, err
	}
	if inProgress, err = r.surveys(ctx, schemas.StatusInProgress); err != nil {
		return nil, nil, err
	}
	return completed, inProgress, nil
}

// AllSurveys returns both survey collections.
func (r *Repository) AllSurveys(ctx context.Context) (completed, inProgress []schemas.SurveyRecord, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bothSurveys(ctx)
}

// FindSurvey looks id up in the completed collection, then in progress.
func (r *Repository) FindSurvey(ctx context.Context, id string) (schemas.SurveyRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	completed, inProgress, err := r.bothSurveys(ctx)
	if err != nil {
		return schemas.SurveyRecord{}, false, err
	}
	for _, list := range [][]schemas.SurveyRecord{completed, inProgress} {
		if i := indexOf(list, id); i >= 0 {
			return list[i], true, nil
		}
	}
	return schemas.SurveyRecord{}, false, nil
}

// UpdateSurvey applies fn to the record with id in the given collection and persists it.
func (r *Repository) UpdateSurvey(ctx context.Context, status schemas.SurveyStatus, id string, fn func(*schemas.SurveyRecord)) (schemas.SurveyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, err := surveyKey(status)
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	list, err := r.surveys(ctx, status)
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	i := indexOf(list, id)
	if i < 0 {
		return schemas.SurveyRecord{}, apperr.NewNotFoundError(string(status)+" survey", id)
	}
	fn(&list[i])
	list[i].ID, list[i].Status = id, status
	if err := r.save(ctx, key, list); err != nil {
		return schemas.SurveyRecord{}, err
	}
	return list[i], nil
}

// StartSurvey upserts rec into the in-progress collection at the front. A record already in
// progress keeps its original StartedAt. An id that is already completed is a ConflictError.
func (r *Repository) StartSurvey(ctx context.Context, rec schemas.SurveyRecord, now time.Time) (schemas.SurveyRecord, error) {
	if rec.ID == "" {
		return schemas.SurveyRecord{}, apperr.NewValidationError("surveyId", "must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	completed, inProgress, err := r.bothSurveys(ctx)
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	if indexOf(completed, rec.ID) >= 0 {
		return schemas.SurveyRecord{}, apperr.NewConflictError("survey "+rec.ID, "already completed")
	}

	started := now
	if i := indexOf(inProgress, rec.ID); i >= 0 && inProgress[i].StartedAt != nil {
		started = *inProgress[i].StartedAt
	}
	rec.Status = schemas.StatusInProgress
	rec.StartedAt = &started
	rec.LastActiveAt = &now
	rec.CompletedAt = nil
	rec.TimeSpentMs = 0

	inProgress = pushFront(removeID(inProgress, rec.ID), rec, r.limits.MaxInProgress)
	if err := r.save(ctx, KeyInProgress, inProgress); err != nil {
		return schemas.SurveyRecord{}, err
	}
	return rec, nil
}

// CompleteSurvey moves id from in progress to completed. Completing an id that is already
// completed returns the stored record unchanged.
func (r *Repository) CompleteSurvey(ctx context.Context, id string, now time.Time) (schemas.SurveyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	completed, inProgress, err := r.bothSurveys(ctx)
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	i := indexOf(inProgress, id)
	if i < 0 {
		if j := indexOf(completed, id); j >= 0 {
			return completed[j], nil
		}
		return schemas.SurveyRecord{}, apperr.NewNotFoundError("in-progress survey", id)
	}
	return r.complete(ctx, completed, inProgress, inProgress[i], now)
}

// RecordCompleted stores rec as completed, moving it out of progress when it is there. An id that
// is already completed is a ConflictError.
func (r *Repository) RecordCompleted(ctx context.Context, rec schemas.SurveyRecord, now time.Time) (schemas.SurveyRecord, error) {
	if rec.ID == "" {
		return schemas.SurveyRecord{}, apperr.NewValidationError("surveyId", "must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	completed, inProgress, err := r.bothSurveys(ctx)
	if err != nil {
		return schemas.SurveyRecord{}, err
	}
	if indexOf(completed, rec.ID) >= 0 {
		return schemas.SurveyRecord{}, apperr.NewConflictError("survey "+rec.ID, "already marked as completed")
	}
	if i := indexOf(inProgress, rec.ID); i >= 0 {
		rec = inProgress[i]
	}
	return r.complete(ctx, completed, inProgress, rec, now)
}

func (r *Repository) complete(ctx context.Context, completed, inProgress []schemas.SurveyRecord, rec schemas.SurveyRecord, now time.Time) (schemas.SurveyRecord, error) {
	if rec.StartedAt != nil {
		rec.TimeSpentMs = max(now.Sub(*rec.StartedAt).Milliseconds(), 0)
	}
	rec.Status = schemas.StatusCompleted
	rec.CompletedAt = &now
	rec.DuplicateEncounters = 0
	rec.StartedAt = nil
	rec.LastActiveAt = nil
	rec.TabID = 0

	completed = pushFront(removeID(completed, rec.ID), rec, r.limits.MaxCompleted)
	inProgress = removeID(inProgress, rec.ID)
	if err := r.saveMany(ctx, map[string]any{KeyCompleted: completed, KeyInProgress: inProgress}); err != nil {
		return schemas.SurveyRecord{}, err
	}
	return rec, nil
}

// RemoveSurvey deletes id from the given collection.
func (r *Repository) RemoveSurvey(ctx context.Context, status schemas.SurveyStatus, id string) error {
	n, err := r.DeleteSurveys(ctx, status, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NewNotFoundError(string(status)+" survey", id)
	}
	return nil
}

// DeleteSurveys deletes every listed id from the given collection and reports how many were removed.
func (r *Repository) DeleteSurveys(ctx context.Context, status schemas.SurveyStatus, ids []string) (int, error) {
	key, err := surveyKey(status)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.surveys(ctx, status)
	if err != nil {
		return 0, err
	}
	n := len(list)
	list = slices.DeleteFunc(list, func(x schemas.SurveyRecord) bool { return slices.Contains(ids, x.ID) })
	if removed := n - len(list); removed > 0 {
		return removed, r.save(ctx, key, list)
	}
	return 0, nil
}

// ClearSurveys empties both survey collections.
func (r *Repository) ClearSurveys(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	empty := []schemas.SurveyRecord{}
	return r.saveMany(ctx, map[string]any{KeyCompleted: empty, KeyInProgress: empty})
}

// CleanupInvalid drops every survey whose id fails valid and reports how many went.
func (r *Repository) CleanupInvalid(ctx context.Context, valid func(id string) bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	completed, inProgress, err := r.bothSurveys(ctx)
	if err != nil {
		return 0, err
	}
	n := len(completed) + len(inProgress)
	invalid := func(x schemas.SurveyRecord) bool { return !valid(x.ID) }
	completed = slices.DeleteFunc(completed, invalid)
	inProgress = slices.DeleteFunc(inProgress, invalid)
	removed := n - len(completed) - len(inProgress)
	if removed == 0 {
		return 0, nil
	}
	r.logger.Info("Removed surveys with invalid identifiers", zap.Int("count", removed))
	return removed, r.saveMany(ctx, map[string]any{KeyCompleted: completed, KeyInProgress: inProgress})
}

// Stats summarizes the survey collections.
func (r *Repository) Stats(ctx context.Context) (schemas.SurveyStats, error) {
	completed, inProgress, err := r.AllSurveys(ctx)
	if err != nil {
		return schemas.SurveyStats{}, err
	}
	stats := schemas.SurveyStats{
		TotalCompleted: len(completed),
		InProgress:     len(inProgress),
		RecentSurveys:  completed[:min(len(completed), recentSurveysShown)],
	}
	for _, s := range completed {
		stats.DuplicatesAvoided += s.DuplicateEncounters
	}
	return stats, nil
}

func indexOf(list []schemas.SurveyRecord, id string) int {
	return slices.IndexFunc(list, func(x schemas.SurveyRecord) bool { return x.ID == id })
}

func removeID(list []schemas.SurveyRecord, id string) []schemas.SurveyRecord {
	return slices.DeleteFunc(list, func(x schemas.SurveyRecord) bool { return x.ID == id })
}

func pushFront[T any](list []T, v T, limit int) []T {
	list = slices.Insert(list, 0, v)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// -- Autofill logs --

// AppendAutoFillLog records a fill batch, newest first.
func (r *Repository) AppendAutoFillLog(ctx context.Context, entry schemas.AutoFillLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	logs := []schemas.AutoFillLog{}
	if err := load(ctx, r, KeyAutoFillLogs, &logs); err != nil {
		return err
	}
	return r.save(ctx, KeyAutoFillLogs, pushFront(logs, entry, r.limits.MaxAutoFillLogs))
}

// AutoFillLogs returns the recorded fill batches, newest first.
func (r *Repository) AutoFillLogs(ctx context.Context) ([]schemas.AutoFillLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logs := []schemas.AutoFillLog{}
	if err := load(ctx, r, KeyAutoFillLogs, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// -- Learned patterns --

// LearnedPatterns returns the learned-pattern table keyed by kind and pattern.
func (r *Repository) LearnedPatterns(ctx context.Context) (map[string]schemas.LearnedPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.learnedPatterns(ctx)
}

func (r *Repository) learnedPatterns(ctx context.Context) (map[string]schemas.LearnedPattern, error) {
	out := map[string]schemas.LearnedPattern{}
	if err := load(ctx, r, KeyLearnedPatterns, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordOutcomes folds fill outcomes into the learned-pattern table.
func (r *Repository) RecordOutcomes(ctx context.Context, outcomes []ranking.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	patterns, err := r.learnedPatterns(ctx)
	if err != nil {
		return err
	}
	changed := false
	for _, o := range outcomes {
		if ranking.Learn(patterns, o, r.limits.MaxPatternContexts) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.save(ctx, KeyLearnedPatterns, patterns)
}

// -- Options --

// Options returns the stored preferences, or the defaults when none were saved.
func (r *Repository) Options(ctx context.Context) (schemas.Options, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opts := schemas.DefaultOptions()
	if err := load(ctx, r, KeyOptions, &opts); err != nil {
		return schemas.Options{}, err
	}
	return opts, nil
}

// SetOptions replaces the stored preferences.
func (r *Repository) SetOptions(ctx context.Context, opts schemas.Options) error {
	if opts.AutoFillDelayMs < 0 {
		return apperr.NewValidationError("autoFillDelay", "must not be negative")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, KeyOptions, opts)
}

// UpdateOptions applies fn to the stored preferences and saves the result.
func (r *Repository) UpdateOptions(ctx context.Context, fn func(*schemas.Options)) (schemas.Options, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opts := schemas.DefaultOptions()
	if err := load(ctx, r, KeyOptions, &opts); err != nil {
		return schemas.Options{}, err
	}
	fn(&opts)
	return opts, r.save(ctx, KeyOptions, opts)
}
