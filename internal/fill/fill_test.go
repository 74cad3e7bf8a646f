package fill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/ranking"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
	"github.com/xkilldash9x/surveyfill/internal/store"
)

const surveyHTML = `<html><body><form>
  <label for="name">Full name</label><input id="name" name="name">
  <input id="pw" type="password" name="pw">
  <input id="login" name="login" autocomplete="current-password">
  <input id="rf" name="rf" class="roboform-field">
  <input id="hidden-email" type="email" style="display: none">
  <input id="agree" type="checkbox" name="agree">
  <input id="next" type="text" class="btn-next">
  <select id="country"><option value="">Pick</option><option value="nz">New Zealand</option></select>
  <textarea id="notes"></textarea>
  <span id="plain">hello</span>
  <input id="go" type="submit" value="Send">
</form></body></html>`

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newPage(t *testing.T, markup string) (*page.Page, *page.Snapshot) {
	t.Helper()
	snap, err := page.NewSnapshotFromHTML("https://survey.example/s/abc", markup)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	resolver := locator.NewResolver(regexguard.New(regexguard.DefaultOptions(), logger), logger)
	return page.New(snap, resolver, logger), snap
}

func field(id, value string, locs ...schemas.LocatorCandidate) schemas.FieldRecord {
	return schemas.FieldRecord{ID: id, Value: value, Locators: locs, Label: id}
}

func byID(id string) schemas.LocatorCandidate {
	return schemas.LocatorCandidate{Kind: schemas.LocatorExactID, Pattern: id, Priority: locator.PriorityID}
}

func element(t *testing.T, pg *page.Page, id string) *dom.Element {
	t.Helper()
	doc, err := pg.Document(context.Background())
	require.NoError(t, err)
	el := doc.ByID(id)
	require.NotNil(t, el)
	return el
}

func TestCheckSafe(t *testing.T) {
	pg, _ := newPage(t, surveyHTML+`<div id="rich" contenteditable="true">x</div><div id="ok-btn" role="button"></div>
		<input id="clicky" onclick="go()"><input id="agree-next" type="checkbox" class="btn"><input id="feedback" class="feedback">
		<input id="colour" type="color">`)

	tests := []struct {
		id       string
		validate bool
		conflict bool
	}{
		{id: "name"},
		{id: "country"},
		{id: "notes"},
		{id: "rich"},
		{id: "agree"},
		{id: "agree-next"},
		{id: "feedback"},
		{id: "pw", validate: true},
		{id: "login", validate: true},
		{id: "rf", conflict: true},
		{id: "next", validate: true},
		{id: "plain", validate: true},
		{id: "go", validate: true},
		{id: "ok-btn", validate: true},
		{id: "clicky", validate: true},
		{id: "colour", validate: true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := CheckSafe(element(t, pg, tt.id))
			switch {
			case tt.conflict:
				assert.True(t, apperr.IsConflict(err), "got %v", err)
				assert.True(t, Skippable(err))
			case tt.validate:
				assert.True(t, apperr.IsValidation(err), "got %v", err)
				assert.False(t, Skippable(err))
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestFill(t *testing.T) {
	ctx := context.Background()
	pg, snap := newPage(t, surveyHTML)
	exec := NewExecutor(zaptest.NewLogger(t))

	fields := []schemas.FieldRecord{
		field("name", "Ada Lovelace", byID("missing"), schemas.LocatorCandidate{Kind: schemas.LocatorRegexLabel, Pattern: "Full name"}),
		field("agree", "yes", byID("agree")),
		field("country", "new zealand", byID("country")),
		field("pw", "hunter2", byID("pw")),
		field("rf", "x", byID("rf")),
		field("hidden", "a@b.c", byID("hidden-email")),
		field("gone", "x", byID("nowhere")),
		{ID: "broken"},
	}
	fields[0].RecommendedLocatorIndex = 0

	results := exec.Fill(ctx, pg, fields)
	require.Len(t, results, 7, "invalid fields produce no result")

	byField := map[string]schemas.FillResult{}
	for _, r := range results {
		byField[r.ID] = r
	}

	name := byField["name"]
	assert.Equal(t, schemas.FillSuccess, name.Status)
	assert.Equal(t, schemas.LocatorRegexLabel, name.Kind, "the locator that found the element is reported")
	assert.Equal(t, "input:text", name.ElementType)

	assert.Equal(t, schemas.FillSuccess, byField["agree"].Status)
	assert.Equal(t, schemas.FillSuccess, byField["country"].Status)
	assert.Equal(t, schemas.FillSkipped, byField["rf"].Status)
	assert.Equal(t, MessageForeignOwner, byField["rf"].Message)
	for _, id := range []string{"pw", "hidden", "gone"} {
		assert.Equal(t, schemas.FillError, byField[id].Status, id)
		assert.Equal(t, MessageUnavailable, byField[id].Message, id)
	}

	assert.Equal(t, "Ada Lovelace", element(t, pg, "name").Value())
	assert.Equal(t, "true", element(t, pg, "agree").Value())
	assert.Equal(t, "nz", element(t, pg, "country").Value())
	assert.True(t, element(t, pg, "name").OwnedByUs())

	pw := element(t, pg, "pw")
	assert.Empty(t, pw.Value(), "password inputs are never written")
	assert.False(t, pw.OwnedByUs())
	assert.False(t, element(t, pg, "rf").OwnedByUs())

	var types []string
	for _, ev := range snap.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"input", "change", "input", "change", "input", "change"}, types)
}

func TestFillStopsOnCancellation(t *testing.T) {
	pg, _ := newPage(t, surveyHTML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewExecutor(zap.NewNop()).Fill(ctx, pg, []schemas.FieldRecord{field("name", "x", byID("name"))})
	require.Len(t, results, 1)
	assert.Equal(t, schemas.FillError, results[0].Status)
	assert.Empty(t, element(t, pg, "name").Value())
}

func TestFillUnmatchedOption(t *testing.T) {
	pg, _ := newPage(t, surveyHTML)
	results := NewExecutor(zap.NewNop()).Fill(context.Background(), pg, []schemas.FieldRecord{field("country", "Atlantis", byID("country"))})
	require.Len(t, results, 1)
	assert.Equal(t, schemas.FillError, results[0].Status)
	assert.Contains(t, results[0].Message, "Atlantis")
}

func TestValidateInput(t *testing.T) {
	guard := regexguard.New(regexguard.DefaultOptions(), zap.NewNop())
	value := "v"

	assert.NoError(t, ValidateInput(schemas.FieldInput{Locators: []schemas.LocatorCandidate{byID("a")}, Value: &value}, guard))

	cases := map[string]schemas.FieldInput{
		"no locators":   {Value: &value},
		"no value":      {Locators: []schemas.LocatorCandidate{byID("a")}},
		"bad index":     {Locators: []schemas.LocatorCandidate{byID("a")}, Value: &value, RecommendedLocatorIndex: 3},
		"unknown kind":  {Locators: []schemas.LocatorCandidate{{Kind: "telepathy", Pattern: "x"}}, Value: &value},
		"empty pattern": {Locators: []schemas.LocatorCandidate{{Kind: schemas.LocatorCSS, Pattern: " "}}, Value: &value},
		"unsafe regex":  {Locators: []schemas.LocatorCandidate{{Kind: schemas.LocatorRegexLabel, Pattern: "(a+)+"}}, Value: &value},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, apperr.IsValidation(ValidateInput(in, guard)))
		})
	}
}

func TestNewRecord(t *testing.T) {
	value := "false"
	in := schemas.FieldInput{Locators: []schemas.LocatorCandidate{byID("a")}, Value: &value, Label: "Agree"}

	a := NewRecord(in, fixedNow)
	b := NewRecord(in, fixedNow)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "false", a.Value)
	assert.Equal(t, fixedNow, a.CreatedAt)

	in.ID = "keep"
	assert.Equal(t, "keep", NewRecord(in, fixedNow).ID)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	repo := store.NewRepository(store.NewMemoryKV(), store.DefaultLimits(), zaptest.NewLogger(t))
	require.NoError(t, repo.AddField(ctx, schemas.FieldRecord{ID: "a", Locators: []schemas.LocatorCandidate{byID("a")}}))
	require.NoError(t, repo.AddField(ctx, schemas.FieldRecord{ID: "b", Locators: []schemas.LocatorCandidate{byID("b")}}))

	rec := NewRecorder(repo, zaptest.NewLogger(t))
	rec.now = func() time.Time { return fixedNow }

	label := schemas.LocatorRegexLabel
	batch := []schemas.FillResult{
		{ID: "a", Status: schemas.FillSuccess, Kind: label, Pattern: "e-?mail", Label: "Email", ElementType: "input:email", LatencyMs: 10},
		{ID: "b", Status: schemas.FillError, Kind: schemas.LocatorExactID, Pattern: "b", LatencyMs: 30},
	}
	require.NoError(t, rec.Record(ctx, "survey.example", batch))
	require.NoError(t, rec.Record(ctx, "survey.example", []schemas.FillResult{
		{ID: "a", Status: schemas.FillSuccess, Kind: label, Pattern: "e-?mail", LatencyMs: 20},
		{ID: "b", Status: schemas.FillSkipped, Message: MessageForeignOwner},
	}))

	logs, err := repo.AutoFillLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	first := logs[1]
	assert.Equal(t, int64(40), first.Performance.TotalTimeMs)
	assert.InDelta(t, 0.5, first.Performance.SuccessRate, 1e-9)
	assert.Equal(t, fixedNow, first.Timestamp)

	fields, err := repo.Fields(ctx)
	require.NoError(t, err)
	got := map[string]schemas.FieldRecord{}
	for _, f := range fields {
		got[f.ID] = f
	}
	assert.Equal(t, 2, got["a"].UsageCount)
	assert.Equal(t, 2, got["a"].Performance.SuccessCount)
	assert.InDelta(t, 15.0, got["a"].Performance.AverageLatencyMs, 1e-9)
	assert.Equal(t, 1, got["b"].UsageCount, "skipped results are not usage")
	assert.Equal(t, 1, got["b"].Performance.FailureCount)
	require.NotNil(t, got["b"].LastUsedAt)

	patterns, err := repo.LearnedPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1, "only regex locators are learned")
	p := patterns[schemas.LearnedPatternKey(label, "e-?mail")]
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, []string{"survey.example"}, p.Domains)
}

// failingStore fails every write.
type failingStore struct{ err error }

func (f failingStore) AppendAutoFillLog(context.Context, schemas.AutoFillLog) error { return f.err }
func (f failingStore) UpdateFields(context.Context, func([]schemas.FieldRecord) bool) error {
	return f.err
}
func (f failingStore) RecordOutcomes(context.Context, []ranking.Outcome) error { return f.err }

func TestRecorderJoinsFailures(t *testing.T) {
	boom := apperr.NewStorageError("write", store.KeyAutoFillLogs, errors.New("quota"))
	rec := NewRecorder(failingStore{err: boom}, zap.NewNop())

	err := rec.Record(context.Background(), "d", []schemas.FillResult{
		{ID: "a", Status: schemas.FillSuccess, Kind: schemas.LocatorRegexID, Pattern: "^a$"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsStorage(err))
	assert.Contains(t, err.Error(), "append autofill log")
	assert.Contains(t, err.Error(), "record pattern outcomes")

	assert.NoError(t, rec.Record(context.Background(), "d", nil), "empty batches touch nothing")
}

func TestNotice(t *testing.T) {
	assert.Equal(t, "Auto-filled 3 field(s)", Notice(3, "", false))
	assert.Equal(t, "Auto-filled 1 field(s) (Qualtrics survey) [including iframes]", Notice(1, "Qualtrics", true))
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	pg, _ := newPage(t, `<html><body><form>
		<label for="email">Email address</label><input id="email" type="email" value="a@b.c">
		<input id="zip" name="zip" value="1010">
		<input id="pw" type="password" value="secret">
		<input id="off" type="checkbox">
		<input id="on" type="checkbox" checked>
		<input id="gone" value="x" style="display:none">
		<input id="empty" value="  ">
		<textarea id="notes">Some notes</textarea>
	</form></body></html>`)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	guard := regexguard.New(regexguard.DefaultOptions(), logger)
	s := NewScanner(locator.NewGenerator(logger), ranking.NewEngine(guard, nil, logger), logger)

	found, err := s.Scan(ctx, pg)
	require.NoError(t, err)

	var ids []string
	for _, f := range found {
		ids = append(ids, idFromXPath(t, pg, f.XPath))
		assert.NotEmpty(t, f.Candidates)
	}
	assert.ElementsMatch(t, []string{"email", "zip", "on", "notes"}, ids)

	require.NotNil(t, found[0].Recommendation.Recommended)
	assert.Equal(t, "email", idFromXPath(t, pg, found[0].XPath), "the labelled field ranks first")
	for i := 1; i < len(found); i++ {
		assert.GreaterOrEqual(t, recommendedConfidence(found[i-1]), recommendedConfidence(found[i]))
	}
	assert.NotZero(t, logs.FilterMessage("Scanned page for filled fields").Len())
}

func idFromXPath(t *testing.T, pg *page.Page, xpath string) string {
	t.Helper()
	doc, err := pg.Document(context.Background())
	require.NoError(t, err)
	el, err := doc.QueryXPathOne(xpath)
	require.NoError(t, err)
	require.NotNil(t, el)
	return el.ID()
}
