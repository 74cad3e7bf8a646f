// internal/dedup/resolver.go

// Package dedup decides whether a detected survey was seen before.
package dedup

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/survey"
)

// minEmbeddedKeyLength is the shortest stored id tested against URL parts.
const minEmbeddedKeyLength = 3

// MatchReason says which check found the stored record.
type MatchReason string

const (
	ReasonURLKey MatchReason = "url-key"
	ReasonID     MatchReason = "id"
)

// Match is a stored survey the current page corresponds to.
type Match struct {
	Status schemas.SurveyStatus
	Record schemas.SurveyRecord
	Reason MatchReason
}

// Store is the slice of the repository the resolver needs.
type Store interface {
	AllSurveys(ctx context.Context) (completed, inProgress []schemas.SurveyRecord, err error)
	UpdateSurvey(ctx context.Context, status schemas.SurveyStatus, id string, fn func(*schemas.SurveyRecord)) (schemas.SurveyRecord, error)
}

// Resolver checks candidates against the persisted survey collections.
type Resolver struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger.Named("dedup"), now: time.Now}
}

// Resolve returns the stored survey the page at rawURL corresponds to, or nil when it is new.
//
// Any stored id of at least 3 characters that equals a path segment or a query value of rawURL
// matches first; otherwise candidateID is compared to stored ids. Completed records win over
// in-progress ones in both checks. A match is touched: completed records count another duplicate
// encounter, in-progress records get a fresh LastActiveAt. Failing to persist that touch is logged
// and does not affect the result. Only a failure to read the collections is returned.
func (r *Resolver) Resolve(ctx context.Context, rawURL, candidateID string) (*Match, error) {
	completed, inProgress, err := r.store.AllSurveys(ctx)
	if err != nil {
		return nil, err
	}

	m := matchURLKey(rawURL, completed, inProgress)
	if m == nil {
		m = matchID(candidateID, completed, inProgress)
	}
	if m == nil {
		return nil, nil
	}
	r.touch(ctx, m)
	return m, nil
}

func matchURLKey(rawURL string, completed, inProgress []schemas.SurveyRecord) *Match {
	parts := append(survey.PathSegments(rawURL), survey.QueryValues(rawURL)...)
	if len(parts) == 0 {
		return nil
	}
	find := func(list []schemas.SurveyRecord, status schemas.SurveyStatus) *Match {
		for _, rec := range list {
			if len(rec.ID) >= minEmbeddedKeyLength && slices.Contains(parts, rec.ID) {
				return &Match{Status: status, Record: rec, Reason: ReasonURLKey}
			}
		}
		return nil
	}
	if m := find(completed, schemas.StatusCompleted); m != nil {
		return m
	}
	return find(inProgress, schemas.StatusInProgress)
}

func matchID(id string, completed, inProgress []schemas.SurveyRecord) *Match {
	if id == "" {
		return nil
	}
	for _, c := range []struct {
		list   []schemas.SurveyRecord
		status schemas.SurveyStatus
	}{{completed, schemas.StatusCompleted}, {inProgress, schemas.StatusInProgress}} {
		if i := slices.IndexFunc(c.list, func(x schemas.SurveyRecord) bool { return x.ID == id }); i >= 0 {
			return &Match{Status: c.status, Record: c.list[i], Reason: ReasonID}
		}
	}
	return nil
}

func (r *Resolver) touch(ctx context.Context, m *Match) {
	now := r.now()
	updated, err := r.store.UpdateSurvey(ctx, m.Status, m.Record.ID, func(rec *schemas.SurveyRecord) {
		if m.Status == schemas.StatusCompleted {
			rec.DuplicateEncounters++
			rec.LastEncountered = &now
			return
		}
		rec.LastActiveAt = &now
	})
	if err != nil {
		r.logger.Warn("Could not record duplicate encounter",
			zap.String("survey_id", m.Record.ID), zap.String("status", string(m.Status)), zap.Error(err))
		return
	}
	m.Record = updated
}
