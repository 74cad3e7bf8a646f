// internal/locator/locator_test.go
package locator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
)

const surveyHTML = `<html><body>
<form id="survey-form" class="qform">
  <div class="question">
    <label for="q1_age">What is your age?</label>
    <input id="q1_age" name="q1_age" type="number" placeholder="Age in years" data-qid="q1" class="answer numeric">
  </div>
  <div class="question">
    <p>How satisfied were you with the service?</p>
    <div class="choices"><select name="satisfaction"><option value="">--</option><option value="5">Very</option></select></div>
  </div>
  <div class="question"><span>Postcode</span><input type="text" name="postcode"></div>
  <label>Email <input type="email" name="email" value="a@b.co"></label>
  <input type="text" aria-label="Nickname" name="nick">
  <input type="text" placeholder="City">
  <input type="text" placeholder="City">
  <input type="password" id="pw" aria-label="Password">
</form>
</body></html>`

func setup(t *testing.T, markup string, opts ...func(*regexguard.Options)) (*dom.Document, *Generator, *Resolver) {
	t.Helper()
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)

	o := regexguard.DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	logger := zaptest.NewLogger(t)
	guard := regexguard.New(o, logger)
	return doc, NewGenerator(logger), NewResolver(guard, logger)
}

func mustXPath(t *testing.T, doc *dom.Document, expr string) *dom.Element {
	t.Helper()
	el, err := doc.QueryXPathOne(expr)
	require.NoError(t, err)
	require.NotNil(t, el, "test setup: %s matched nothing", expr)
	return el
}

func TestGenerate(t *testing.T) {
	doc, gen, _ := setup(t, surveyHTML)
	el := doc.ByID("q1_age")

	got := gen.Generate(el)

	want := []schemas.LocatorCandidate{
		{Kind: schemas.LocatorExactID, Pattern: "q1_age", Priority: 1, Label: "ID attribute"},
		{Kind: schemas.LocatorExactName, Pattern: "q1_age", Priority: 2, Label: "Name attribute"},
		{Kind: schemas.LocatorCSS, Pattern: "#q1_age", Priority: 3, Label: "Generated CSS selector"},
		{Kind: schemas.LocatorPlaceholder, Pattern: "Age in years", Priority: 4, Label: "Placeholder text"},
		{Kind: schemas.LocatorLabelText, Pattern: "What is your age?", Priority: 6, Label: "Associated label text"},
		{Kind: schemas.LocatorDataAttr, Pattern: "data-qid=q1", Priority: 7, Label: "Data attribute: data-qid"},
		{Kind: schemas.LocatorCSS, Pattern: ".answer", Priority: 8, Label: "Class: answer"},
		{Kind: schemas.LocatorCSS, Pattern: ".numeric", Priority: 8, Label: "Class: numeric"},
		{Kind: schemas.LocatorXPath, Pattern: "//*[@id='q1_age']", Priority: 9, Label: "Generated XPath"},
		{Kind: schemas.LocatorCSS, Pattern: `input[type="number"]`, Priority: 10, Label: "Input type: number"},
	}
	assert.Equal(t, want, got)
}

func TestGenerateNeverEmpty(t *testing.T) {
	doc, gen, _ := setup(t, `<html><body><div><span></span></div></body></html>`)
	got := gen.Generate(mustXPath(t, doc, "//span"))
	require.NotEmpty(t, got)
	assert.Nil(t, gen.Generate(nil))
}

func TestGenerateSkipsOwnerMarker(t *testing.T) {
	doc, gen, _ := setup(t, `<html><body><input name="a" data-enhanced-autofill-ext="true"></body></html>`)
	for _, c := range gen.Generate(mustXPath(t, doc, "//input")) {
		assert.NotEqual(t, schemas.LocatorDataAttr, c.Kind)
	}
}

func TestGeneratedCandidatesResolveBack(t *testing.T) {
	doc, gen, res := setup(t, surveyHTML)
	ctx := context.Background()

	for _, xp := range []string{"//input[@id='q1_age']", "//input[@name='nick']", "//input[@name='email']", "//select"} {
		target := mustXPath(t, doc, xp)
		for _, cand := range gen.Generate(target) {
			if cand.Priority == PriorityInputType || cand.Priority == PriorityClass {
				continue
			}
			t.Run(xp+" "+string(cand.Kind)+" "+cand.Pattern, func(t *testing.T) {
				el, err := res.Resolve(ctx, doc, cand)
				require.NoError(t, err)
				assert.Same(t, target, el)
			})
		}
	}
}

func TestCSSSelector(t *testing.T) {
	const ambiguous = `<html><body>
<div class="a"><input name="x"></div><div class="b"><input name="x"></div>
<div><section><input name="y"></section></div><div><p><input name="y"></p></div>
</body></html>`

	tests := []struct {
		name   string
		markup string
		xpath  string
		expect string
	}{
		{"id wins", surveyHTML, "//input[@id='q1_age']", "#q1_age"},
		{"unique attributes", surveyHTML, "//input[@name='nick']", `input[type="text"][name="nick"]`},
		{"unique without type", surveyHTML, "//select", `select[name="satisfaction"]`},
		{"ancestor id stops", surveyHTML, "(//input[@placeholder='City'])[2]", `#survey-form input[type="text"][placeholder="City"]`},
		{"ancestor class narrows", ambiguous, "(//input[@name='x'])[2]", `.b input[name="x"]`},
		{"ancestor tag narrows", ambiguous, "(//input[@name='y'])[2]", `p input[name="y"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, _, _ := setup(t, tt.markup)
			assert.Equal(t, tt.expect, CSSSelector(mustXPath(t, doc, tt.xpath)))
		})
	}
	assert.Equal(t, "", CSSSelector(nil))
}

func TestEscapeIdent(t *testing.T) {
	assert.Equal(t, "plain-id_1", EscapeIdent("plain-id_1"))
	assert.Equal(t, `\31 23`, EscapeIdent("123"))
	assert.Equal(t, `-\31 `, EscapeIdent("-1"))
	assert.Equal(t, `\-`, EscapeIdent("-"))
	assert.Equal(t, `a\.b\:c`, EscapeIdent("a.b:c"))
	assert.Equal(t, `"say \"hi\""`, QuoteString(`say "hi"`))
}

func TestLabel(t *testing.T) {
	doc, _, _ := setup(t, surveyHTML)
	tests := []struct {
		xpath string
		want  string
	}{
		{"//input[@id='q1_age']", "What is your age?"},
		{"//input[@name='email']", "Email"},
		{"//input[@name='nick']", "Nickname"},
		{"//input[@name='postcode']", "Postcode"},
		{"(//input[@placeholder='City'])[1]", "City"},
		{"//select", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(mustXPath(t, doc, tt.xpath)), tt.xpath)
	}
	assert.Equal(t, "", Label(nil))
}

func TestResolveRegexKinds(t *testing.T) {
	doc, _, res := setup(t, surveyHTML)
	ctx := context.Background()

	tests := []struct {
		kind    schemas.LocatorKind
		pattern string
		xpath   string
	}{
		{schemas.LocatorRegexLabel, `\bage\b`, "//input[@id='q1_age']"},
		{schemas.LocatorRegexLabel, `^email$`, "//input[@name='email']"},
		{schemas.LocatorRegexLabel, `nick\s*name`, "//input[@name='nick']"},
		{schemas.LocatorRegexLabel, `\bpostcode\b`, "//input[@name='postcode']"},
		{schemas.LocatorRegexContent, `how\s*satisfied`, "//select"},
		{schemas.LocatorRegexID, `^q\d+_age$`, "//input[@id='q1_age']"},
		{schemas.LocatorRegexName, `^satisf`, "//select"},
		{schemas.LocatorRegexPlaceholder, `city`, "(//input[@placeholder='City'])[1]"},
		{schemas.LocatorRegexClass, `\bnumeric\b`, "//input[@id='q1_age']"},
		{schemas.LocatorRegexValue, `@b\.co$`, "//input[@name='email']"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+" "+tt.pattern, func(t *testing.T) {
			el, err := res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: tt.kind, Pattern: tt.pattern})
			require.NoError(t, err)
			assert.Same(t, mustXPath(t, doc, tt.xpath), el)
		})
	}
}

func TestResolveNeverReturnsPasswordInputs(t *testing.T) {
	doc, _, res := setup(t, surveyHTML)
	ctx := context.Background()

	for _, kind := range []schemas.LocatorKind{schemas.LocatorRegexLabel, schemas.LocatorRegexID, schemas.LocatorRegexContent} {
		_, err := res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: kind, Pattern: `^p(ass)?w`})
		assert.True(t, apperr.IsNotFound(err), "%s: got %v", kind, err)
	}
}

func TestResolveErrors(t *testing.T) {
	doc, _, res := setup(t, surveyHTML)
	ctx := context.Background()

	_, err := res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: schemas.LocatorRegexLabel, Pattern: `(a+)+`})
	assert.True(t, apperr.IsValidation(err), "dangerous patterns are rejected before use")

	_, err = res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: schemas.LocatorCSS, Pattern: `input[`})
	assert.True(t, apperr.IsValidation(err))

	_, err = res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: schemas.LocatorDataAttr, Pattern: "qid"})
	assert.True(t, apperr.IsValidation(err))

	_, err = res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: "closest-text", Pattern: "x"})
	assert.True(t, apperr.IsValidation(err))

	_, err = res.Resolve(ctx, nil, schemas.LocatorCandidate{Kind: schemas.LocatorExactID, Pattern: "x"})
	assert.True(t, apperr.IsValidation(err))

	_, err = res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: schemas.LocatorExactID, Pattern: "missing"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestResolveBudget(t *testing.T) {
	t.Run("element cap", func(t *testing.T) {
		doc, _, res := setup(t, surveyHTML, func(o *regexguard.Options) { o.MaxElements = 2 })
		_, err := res.Resolve(context.Background(), doc, schemas.LocatorCandidate{Kind: schemas.LocatorRegexID, Pattern: "zzz"})
		require.Error(t, err)
		assert.True(t, apperr.IsTimeout(err), "got %v", err)
	})

	t.Run("sibling labels are charged once per element", func(t *testing.T) {
		var b strings.Builder
		b.WriteString(`<html><body><form>`)
		for i := 0; i < 150; i++ {
			fmt.Fprintf(&b, `<span>Question %d</span><input type="text">`, i)
		}
		b.WriteString(`<span>Target</span><input type="text" id="goal"></form></body></html>`)
		doc, _, res := setup(t, b.String(), func(o *regexguard.Options) { o.MaxElements = 400 })

		el, err := res.Resolve(context.Background(), doc, schemas.LocatorCandidate{Kind: schemas.LocatorRegexLabel, Pattern: `^target$`})
		require.NoError(t, err)
		assert.Equal(t, "goal", el.ID())
	})

	t.Run("caller cancellation", func(t *testing.T) {
		doc, _, res := setup(t, surveyHTML)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := res.Resolve(ctx, doc, schemas.LocatorCandidate{Kind: schemas.LocatorRegexID, Pattern: "zzz"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestResolveFirst(t *testing.T) {
	doc, _, res := setup(t, surveyHTML)
	ctx := context.Background()
	cands := []schemas.LocatorCandidate{
		{Kind: schemas.LocatorExactID, Pattern: "missing"},
		{Kind: schemas.LocatorCSS, Pattern: "input["},
		{Kind: schemas.LocatorExactName, Pattern: "nick"},
	}

	el, cand, err := res.ResolveFirst(ctx, doc, cands, nil)
	require.NoError(t, err)
	assert.Equal(t, "nick", el.Name())
	assert.Equal(t, schemas.LocatorExactName, cand.Kind)

	_, _, err = res.ResolveFirst(ctx, doc, cands, func(*dom.Element) bool { return false })
	assert.True(t, apperr.IsNotFound(err))
}

func TestTestPattern(t *testing.T) {
	doc, _, res := setup(t, surveyHTML)
	ctx := context.Background()

	t.Run("names", func(t *testing.T) {
		report, err := res.TestPattern(ctx, doc, ".", schemas.LocatorRegexName)
		require.NoError(t, err)
		var labels []string
		for _, m := range report.Matches {
			labels = append(labels, m.Label)
		}
		assert.Equal(t, []string{"q1_age", "satisfaction", "postcode", "email", "nick"}, labels)
		assert.Positive(t, report.Examined)
	})

	t.Run("deduplicates by label and value", func(t *testing.T) {
		report, err := res.TestPattern(ctx, doc, "city", schemas.LocatorRegexPlaceholder)
		require.NoError(t, err)
		require.Len(t, report.Matches, 1)
		assert.Equal(t, "input:text", report.Matches[0].ElementType)
	})

	t.Run("content", func(t *testing.T) {
		report, err := res.TestPattern(ctx, doc, `your age`, schemas.LocatorRegexContent)
		require.NoError(t, err)
		// The question's own container, then the form around the ungrouped controls.
		require.Len(t, report.Matches, 2)
		assert.Equal(t, "What is your age?...", report.Matches[0].Label)
	})

	t.Run("labels include aria", func(t *testing.T) {
		report, err := res.TestPattern(ctx, doc, `e`, schemas.LocatorRegexLabel)
		require.NoError(t, err)
		var labels []string
		for _, m := range report.Matches {
			labels = append(labels, m.Label)
		}
		assert.Equal(t, []string{"What is your age?", "Email", "Nickname"}, labels)
	})

	t.Run("values", func(t *testing.T) {
		report, err := res.TestPattern(ctx, doc, `@`, schemas.LocatorRegexValue)
		require.NoError(t, err)
		require.Len(t, report.Matches, 1)
		assert.Equal(t, "Email", report.Matches[0].Label)
		assert.Equal(t, "a@b.co", report.Matches[0].Value)
	})

	t.Run("rejects before scanning", func(t *testing.T) {
		_, err := res.TestPattern(ctx, doc, `(a|a)+`, schemas.LocatorRegexLabel)
		assert.True(t, apperr.IsValidation(err))

		_, err = res.TestPattern(ctx, doc, `x`, schemas.LocatorCSS)
		assert.True(t, apperr.IsValidation(err))
	})
}

func TestTestPatternCapsMatches(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<input name="f%d">`, i)
	}
	b.WriteString("</body></html>")

	doc, _, res := setup(t, b.String())
	report, err := res.TestPattern(context.Background(), doc, `^f\d+$`, schemas.LocatorRegexName)
	require.NoError(t, err)
	assert.Len(t, report.Matches, MaxPatternMatches)
}
